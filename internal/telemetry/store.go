package telemetry

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/dronix/groundstation/internal/copter"
	"github.com/dronix/groundstation/internal/link"
)

// batteryCapacityMah is used for the endurance estimate in Battery reports.
const batteryCapacityMah = 5000

// Link is the slice of the transport the store depends on.
type Link interface {
	Frames() <-chan link.Frame
	Await(timeout time.Duration, match func(link.Frame) bool) (link.Frame, bool)
	IsConnected() bool
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) func(*Store) {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store drains the inbound frame stream and merges decoded frames into the
// shared snapshot. Each decoded frame updates exactly one metric group under
// the snapshot lock; unknown frame types are ignored.
type Store struct {
	link   Link
	logger *slog.Logger

	mu   sync.RWMutex
	data Snapshot

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewStore creates a telemetry store reading from l. Call Start to begin
// ingestion.
func NewStore(l Link, options ...func(*Store)) *Store {
	s := Store{
		link:   l,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		data:   Snapshot{Mode: copter.ModeUnknown},
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Start launches the ingestion loop.
func (s *Store) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.ingest()

	s.logger.Info("telemetry ingestion started")
}

// Stop halts the ingestion loop.
func (s *Store) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stop)
	s.wg.Wait()

	s.logger.Info("telemetry ingestion stopped")
}

func (s *Store) ingest() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case f := <-s.link.Frames():
			s.apply(f.Message)
		}
	}
}

// apply merges one decoded frame into its metric group.
func (s *Store) apply(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *ardupilotmega.MessageVfrHud:
		s.data.Altitude = round2(float64(m.Alt))
		s.data.Speed = round2(float64(m.Airspeed))
		s.data.ClimbRate = round2(float64(m.Climb))
		s.data.Throttle = int(m.Throttle)

	case *ardupilotmega.MessageGpsRawInt:
		s.data.GPS = GPS{
			Lat:        float64(m.Lat) / 1e7,
			Lon:        float64(m.Lon) / 1e7,
			Alt:        round2(float64(m.Alt) / 1000),
			Satellites: int(m.SatellitesVisible),
			FixType:    int(m.FixType),
			HDOP:       round2(float64(m.Eph) / 100),
		}

	case *ardupilotmega.MessageBatteryStatus:
		s.data.Battery = Battery{
			Voltage:   round2(float64(m.Voltages[0]) / 1000),
			Current:   round2(float64(m.CurrentBattery) / 100),
			Remaining: float64(m.BatteryRemaining),
		}

	case *ardupilotmega.MessageAttitude:
		s.data.Attitude = Attitude{
			Roll:  round2(degrees(float64(m.Roll))),
			Pitch: round2(degrees(float64(m.Pitch))),
			Yaw:   round2(degrees(float64(m.Yaw))),
		}

	case *ardupilotmega.MessageHeartbeat:
		s.data.Armed = m.BaseMode&ardupilotmega.MAV_MODE_FLAG_SAFETY_ARMED != 0
		s.data.Mode = copter.ModeName(m.CustomMode)
		s.data.SystemStatus = int(m.SystemStatus)

	case *ardupilotmega.MessageHomePosition:
		s.data.Home = Position{
			Lat: float64(m.Latitude) / 1e7,
			Lon: float64(m.Longitude) / 1e7,
			Alt: round2(float64(m.Altitude) / 1000),
		}

	case *ardupilotmega.MessageGlobalPositionInt:
		vx := float64(m.Vx) / 100
		vy := float64(m.Vy) / 100
		s.data.Velocity = Velocity{
			GroundSpeed: round2(math.Hypot(vx, vy)),
			VX:          round2(vx),
			VY:          round2(vy),
			VZ:          round2(float64(m.Vz) / 100),
		}
	}
}

// Snapshot returns a point-in-time copy of the vehicle state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.data
	s.mu.RUnlock()

	snap.Connected = s.link.IsConnected()
	return snap
}

// Status returns the condensed state.
func (s *Store) Status() Status {
	snap := s.Snapshot()
	return Status{
		Connected:    snap.Connected,
		Armed:        snap.Armed,
		Mode:         snap.Mode,
		SystemStatus: snap.SystemStatus,
	}
}

// Battery returns the battery state with an endurance estimate derived from
// the pack capacity and the present current draw.
func (s *Store) Battery() BatteryReport {
	s.mu.RLock()
	b := s.data.Battery
	s.mu.RUnlock()

	var minutes float64
	if b.Current > 0 {
		remainingMah := b.Remaining / 100 * batteryCapacityMah
		minutes = remainingMah / (b.Current * 1000) * 60
	}

	return BatteryReport{
		Battery:              b,
		TimeRemainingMinutes: round1(minutes),
	}
}

// GPS returns the last known fix.
func (s *Store) GPS() GPS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.GPS
}

// Home returns the home position announced by the vehicle.
func (s *Store) Home() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Home
}

// Attitude returns the last known orientation.
func (s *Store) Attitude() Attitude {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Attitude
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
