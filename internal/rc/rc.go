// Package rc streams RC channel overrides to the vehicle. Stick positions
// are held as normalized values and re-sent at a fixed rate so the autopilot
// keeps treating the override as a live transmitter.
package rc

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	defaultInterval = 100 * time.Millisecond

	pwmMin    = 1000
	pwmMax    = 2000
	pwmCenter = 1500
)

// Link is the slice of the transport the streamer depends on.
type Link interface {
	Send(msg message.Message) error
	Target() (system, component byte)
	IsConnected() bool
}

// PWM converts a centered normalized value in [-1, 1] to a pulse width.
// Zero maps to the stick center.
func PWM(v float64) uint16 {
	return uint16(pwmCenter + clamp(v, -1, 1)*(pwmMax-pwmMin)/2)
}

// ThrottlePWM converts a throttle fraction in [0, 1] to a pulse width.
// Zero maps to the low stop, not the center.
func ThrottlePWM(v float64) uint16 {
	return uint16(pwmMin + clamp(v, 0, 1)*(pwmMax-pwmMin))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// Input carries a partial stick update. Nil fields leave the corresponding
// channel unchanged.
type Input struct {
	Roll     *float64 `json:"roll"`
	Pitch    *float64 `json:"pitch"`
	Throttle *float64 `json:"throttle"`
	Yaw      *float64 `json:"yaw"`
}

// Values reports the held stick positions and the pulse widths being sent.
type Values struct {
	Roll     float64 `json:"roll"`
	Pitch    float64 `json:"pitch"`
	Throttle float64 `json:"throttle"`
	Yaw      float64 `json:"yaw"`

	RollPWM     uint16 `json:"roll_pwm"`
	PitchPWM    uint16 `json:"pitch_pwm"`
	ThrottlePWM uint16 `json:"throttle_pwm"`
	YawPWM      uint16 `json:"yaw_pwm"`
}

// WithInterval sets the frame period.
func WithInterval(d time.Duration) func(*Streamer) {
	return func(s *Streamer) {
		s.interval = d
	}
}

// WithLogger sets the logger for the streamer.
func WithLogger(logger *slog.Logger) func(*Streamer) {
	return func(s *Streamer) {
		s.logger = logger
	}
}

// Streamer holds the stick vector and re-sends it on every tick while
// started. Roll, pitch and yaw are centered values in [-1, 1]; throttle is a
// fraction in [0, 1].
type Streamer struct {
	link     Link
	logger   *slog.Logger
	interval time.Duration

	mu                         sync.Mutex
	roll, pitch, throttle, yaw float64

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewStreamer creates a streamer over l with all sticks neutral.
func NewStreamer(l Link, options ...func(*Streamer)) *Streamer {
	s := Streamer{
		link:     l,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: defaultInterval,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Start launches the override loop. It is a no-op when already running.
func (s *Streamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)

	s.logger.Info("rc override streaming started", "interval", s.interval)
}

// Stop halts the loop, zeroes the stick vector and sends one final neutral
// frame so the vehicle is not left holding the last commanded deflection.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	s.Reset()
	s.send()

	s.logger.Info("rc override streaming stopped")
}

// Set applies a partial stick update. Out of range values are clamped.
func (s *Streamer) Set(in Input) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Roll != nil {
		s.roll = clamp(*in.Roll, -1, 1)
	}
	if in.Pitch != nil {
		s.pitch = clamp(*in.Pitch, -1, 1)
	}
	if in.Throttle != nil {
		s.throttle = clamp(*in.Throttle, 0, 1)
	}
	if in.Yaw != nil {
		s.yaw = clamp(*in.Yaw, -1, 1)
	}
}

// Reset returns all sticks to neutral.
func (s *Streamer) Reset() {
	s.mu.Lock()
	s.roll, s.pitch, s.throttle, s.yaw = 0, 0, 0, 0
	s.mu.Unlock()
}

// Values returns the held stick vector.
func (s *Streamer) Values() Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Values{
		Roll:        s.roll,
		Pitch:       s.pitch,
		Throttle:    s.throttle,
		Yaw:         s.yaw,
		RollPWM:     PWM(s.roll),
		PitchPWM:    PWM(s.pitch),
		ThrottlePWM: ThrottlePWM(s.throttle),
		YawPWM:      PWM(s.yaw),
	}
}

func (s *Streamer) loop(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.link.IsConnected() {
				continue
			}
			s.send()
		}
	}
}

func (s *Streamer) send() {
	v := s.Values()
	sys, comp := s.link.Target()

	err := s.link.Send(&ardupilotmega.MessageRcChannelsOverride{
		TargetSystem:    sys,
		TargetComponent: comp,
		Chan1Raw:        v.RollPWM,
		Chan2Raw:        v.PitchPWM,
		Chan3Raw:        v.ThrottlePWM,
		Chan4Raw:        v.YawPWM,
	})
	if err != nil {
		s.logger.Warn("rc override send failed", "error", err)
	}
}
