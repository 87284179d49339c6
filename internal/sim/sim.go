// Package sim provides a simulated vehicle backend. It exposes the same
// controller contract as the MAVLink-backed vehicle, driven by an internal
// physics tick instead of a radio link, so the rest of the stack runs
// unchanged with no hardware attached.
package sim

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dronix/groundstation/internal/command"
	"github.com/dronix/groundstation/internal/copter"
	"github.com/dronix/groundstation/internal/mission"
	"github.com/dronix/groundstation/internal/rc"
	"github.com/dronix/groundstation/internal/telemetry"
)

const (
	defaultTickInterval = 100 * time.Millisecond

	climbPerTick     = 0.5  // m
	speedPerTick     = 0.5  // m of horizontal travel
	drainPerTick     = 0.01 // % of battery while armed
	waypointCaptured = 1.0  // m
)

// Home position for fresh simulations, Zurich main station.
const (
	homeLat = 47.3769
	homeLon = 8.5417
)

// WithTickInterval sets the physics tick period.
func WithTickInterval(d time.Duration) func(*Vehicle) {
	return func(v *Vehicle) {
		v.tick = d
	}
}

// WithLogger sets the logger for the simulation.
func WithLogger(logger *slog.Logger) func(*Vehicle) {
	return func(v *Vehicle) {
		v.logger = logger
	}
}

// Vehicle is an in-memory simulated copter.
type Vehicle struct {
	logger *slog.Logger
	tick   time.Duration

	mu       sync.Mutex
	armed    bool
	mode     string
	lat, lon float64
	alt      float64
	battery  float64
	params   map[string]float64

	targetLat, targetLon, targetAlt float64

	plan    []mission.Waypoint
	planIdx int

	rcRoll, rcPitch, rcThrottle, rcYaw float64

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a simulated vehicle at the home position, disarmed, in
// STABILIZE, with a full battery. The physics loop starts immediately.
func New(options ...func(*Vehicle)) *Vehicle {
	v := Vehicle{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tick:    defaultTickInterval,
		mode:    "STABILIZE",
		lat:     homeLat,
		lon:     homeLon,
		battery: 100,
		params:  make(map[string]float64),
	}

	for _, option := range options {
		option(&v)
	}

	v.targetLat, v.targetLon = v.lat, v.lon
	v.stop = make(chan struct{})
	v.wg.Add(1)
	go v.run()

	v.logger.Info("simulated vehicle started", "tick", v.tick)
	return &v
}

// Close halts the physics loop.
func (v *Vehicle) Close() error {
	v.once.Do(func() {
		close(v.stop)
		v.wg.Wait()
	})
	return nil
}

func (v *Vehicle) run() {
	defer v.wg.Done()

	ticker := time.NewTicker(v.tick)
	defer ticker.Stop()

	for {
		select {
		case <-v.stop:
			return
		case <-ticker.C:
			v.step()
		}
	}
}

// step advances the simulation by one tick.
func (v *Vehicle) step() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.armed {
		return
	}

	v.battery = math.Max(0, v.battery-drainPerTick)

	switch v.mode {
	case "GUIDED":
		v.moveToward(v.targetLat, v.targetLon, v.targetAlt)
	case "AUTO":
		v.flyMission()
	case "RTL":
		v.moveToward(homeLat, homeLon, v.targetAlt)
		if v.distanceTo(homeLat, homeLon) < waypointCaptured {
			v.mode = "LAND"
		}
	case "LAND":
		v.alt = math.Max(0, v.alt-climbPerTick)
		if v.alt == 0 {
			v.armed = false
			v.mode = "STABILIZE"
		}
	}
}

func (v *Vehicle) flyMission() {
	if v.planIdx >= len(v.plan) {
		v.mode = "LOITER"
		return
	}

	wp := v.plan[v.planIdx]
	v.moveToward(wp.Lat, wp.Lon, wp.Alt)
	if v.distanceTo(wp.Lat, wp.Lon) < waypointCaptured && math.Abs(v.alt-wp.Alt) < waypointCaptured {
		v.planIdx++
	}
}

// moveToward advances position and altitude toward the target by at most
// one tick's worth of travel.
func (v *Vehicle) moveToward(lat, lon, alt float64) {
	dist := v.distanceTo(lat, lon)
	if dist <= speedPerTick {
		v.lat, v.lon = lat, lon
	} else {
		f := speedPerTick / dist
		v.lat += (lat - v.lat) * f
		v.lon += (lon - v.lon) * f
	}

	diff := alt - v.alt
	if math.Abs(diff) <= climbPerTick {
		v.alt = alt
	} else {
		v.alt += math.Copysign(climbPerTick, diff)
	}
}

// distanceTo is the flat-earth metre distance from the current position.
func (v *Vehicle) distanceTo(lat, lon float64) float64 {
	const metresPerDegree = 111320.0
	dy := (lat - v.lat) * metresPerDegree
	dx := (lon - v.lon) * metresPerDegree * math.Cos(v.lat*math.Pi/180)
	return math.Hypot(dx, dy)
}

// Status reports the condensed state.
func (v *Vehicle) Status() telemetry.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return telemetry.Status{
		Connected: true,
		Armed:     v.armed,
		Mode:      v.mode,
	}
}

// Telemetry reports the full simulated snapshot.
func (v *Vehicle) Telemetry() telemetry.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	return telemetry.Snapshot{
		Connected: true,
		Armed:     v.armed,
		Mode:      v.mode,
		Altitude:  v.alt,
		GPS: telemetry.GPS{
			Lat:        v.lat,
			Lon:        v.lon,
			Alt:        v.alt,
			Satellites: 12,
			FixType:    3,
			HDOP:       0.8,
		},
		Battery: telemetry.Battery{
			Voltage:   12.6,
			Current:   8,
			Remaining: v.battery,
		},
		Home: telemetry.Position{Lat: homeLat, Lon: homeLon},
	}
}

// Battery reports the simulated pack with an endurance estimate.
func (v *Vehicle) Battery() telemetry.BatteryReport {
	snap := v.Telemetry()
	remainingMah := snap.Battery.Remaining / 100 * 5000
	minutes := remainingMah / (snap.Battery.Current * 1000) * 60

	return telemetry.BatteryReport{
		Battery:              snap.Battery,
		TimeRemainingMinutes: math.Round(minutes*10) / 10,
	}
}

// GPS reports the simulated fix.
func (v *Vehicle) GPS() telemetry.GPS {
	return v.Telemetry().GPS
}

// Preflight always passes; the simulation has no sensors to fail.
func (v *Vehicle) Preflight() telemetry.PreflightReport {
	v.mu.Lock()
	batteryOK := v.battery > 30
	v.mu.Unlock()

	return telemetry.PreflightReport{
		GPSFix:    true,
		BatteryOK: batteryOK,
		EKFOK:     true,
		HomeSet:   true,
		SensorsOK: true,
		Ready:     batteryOK,
	}
}

// Arm arms the motors.
func (v *Vehicle) Arm() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.armed = true
	v.logger.Info("sim armed")
	return true
}

// Disarm stops the motors. Without force a flying vehicle refuses.
func (v *Vehicle) Disarm(force bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.alt > 0 && !force {
		v.logger.Warn("sim disarm refused while airborne")
		return false
	}

	v.armed = false
	if force {
		v.alt = 0
	}
	v.logger.Info("sim disarmed", "force", force)
	return true
}

// SetMode switches the simulated flight mode.
func (v *Vehicle) SetMode(mode string) bool {
	if _, ok := copter.ModeID(mode); !ok {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.setModeLocked(mode)
	return true
}

func (v *Vehicle) setModeLocked(mode string) {
	id, _ := copter.ModeID(mode)
	v.mode = copter.ModeName(id)
	v.logger.Info("sim mode changed", "mode", v.mode)
}

// Takeoff arms in GUIDED and climbs to alt metres.
func (v *Vehicle) Takeoff(alt float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.setModeLocked("GUIDED")
	v.armed = true
	v.targetLat, v.targetLon = v.lat, v.lon
	v.targetAlt = alt
	v.logger.Info("sim takeoff", "alt", alt)
	return true
}

// Land descends in place.
func (v *Vehicle) Land() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setModeLocked("LAND")
	return true
}

// RTL returns to the home position.
func (v *Vehicle) RTL() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setModeLocked("RTL")
	return true
}

// Goto flies to lat/lon at alt in GUIDED.
func (v *Vehicle) Goto(lat, lon, alt float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.setModeLocked("GUIDED")
	v.targetLat, v.targetLon, v.targetAlt = lat, lon, alt
	return true
}

// SetVelocity nudges the guided target by one second's worth of the
// commanded velocity, NED metres per second.
func (v *Vehicle) SetVelocity(vx, vy, vz float64) bool {
	const metresPerDegree = 111320.0

	v.mu.Lock()
	defer v.mu.Unlock()

	v.setModeLocked("GUIDED")
	v.targetLat = v.lat + vx/metresPerDegree
	v.targetLon = v.lon + vy/(metresPerDegree*math.Cos(v.lat*math.Pi/180))
	v.targetAlt = v.alt - vz
	return true
}

// EmergencyStop switches to RTL, matching the first layer of the real abort
// ladder.
func (v *Vehicle) EmergencyStop() bool {
	v.logger.Warn("sim emergency stop")
	return v.RTL()
}

// SetParam stores a named parameter.
func (v *Vehicle) SetParam(name string, value float64) (command.Param, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.params[name] = value
	return command.Param{Name: name, Value: value, Type: 9}, nil
}

// GetParam reads a stored parameter; unknown names read as zero, like a
// fresh autopilot default.
func (v *Vehicle) GetParam(name string) (command.Param, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return command.Param{Name: name, Value: v.params[name], Type: 9}, nil
}

// UploadMission replaces the stored plan.
func (v *Vehicle) UploadMission(items []mission.Waypoint) error {
	if len(items) == 0 {
		return mission.ErrNoWaypoints
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.plan = append([]mission.Waypoint(nil), items...)
	v.planIdx = 0
	v.logger.Info("sim mission uploaded", "items", len(items))
	return nil
}

// StartMission rewinds the plan and flies it in AUTO.
func (v *Vehicle) StartMission() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.plan) == 0 {
		return false
	}

	v.planIdx = 0
	v.armed = true
	v.setModeLocked("AUTO")
	return true
}

// PauseMission holds position in LOITER.
func (v *Vehicle) PauseMission() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mode != "AUTO" {
		return false
	}
	v.setModeLocked("LOITER")
	return true
}

// ResumeMission continues the plan from the next item.
func (v *Vehicle) ResumeMission() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mode != "LOITER" || len(v.plan) == 0 {
		return false
	}
	v.setModeLocked("AUTO")
	return true
}

// ClearMission drops the stored plan.
func (v *Vehicle) ClearMission() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.plan = nil
	v.planIdx = 0
	return true
}

// SetRC stores a stick update. The simulation holds the vector but applies
// no aerodynamics to it.
func (v *Vehicle) SetRC(in rc.Input) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if in.Roll != nil {
		v.rcRoll = clamp(*in.Roll)
	}
	if in.Pitch != nil {
		v.rcPitch = clamp(*in.Pitch)
	}
	if in.Throttle != nil {
		v.rcThrottle = math.Min(math.Max(*in.Throttle, 0), 1)
	}
	if in.Yaw != nil {
		v.rcYaw = clamp(*in.Yaw)
	}
}

// ResetRC returns all sticks to neutral.
func (v *Vehicle) ResetRC() {
	v.mu.Lock()
	v.rcRoll, v.rcPitch, v.rcThrottle, v.rcYaw = 0, 0, 0, 0
	v.mu.Unlock()
}

// RCValues reports the held stick vector.
func (v *Vehicle) RCValues() rc.Values {
	v.mu.Lock()
	defer v.mu.Unlock()

	return rc.Values{
		Roll:        v.rcRoll,
		Pitch:       v.rcPitch,
		Throttle:    v.rcThrottle,
		Yaw:         v.rcYaw,
		RollPWM:     rc.PWM(v.rcRoll),
		PitchPWM:    rc.PWM(v.rcPitch),
		ThrottlePWM: rc.ThrottlePWM(v.rcThrottle),
		YawPWM:      rc.PWM(v.rcYaw),
	}
}

func clamp(v float64) float64 {
	return math.Min(math.Max(v, -1), 1)
}
