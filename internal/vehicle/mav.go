package vehicle

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dronix/groundstation/internal/command"
	"github.com/dronix/groundstation/internal/link"
	"github.com/dronix/groundstation/internal/mission"
	"github.com/dronix/groundstation/internal/rc"
	"github.com/dronix/groundstation/internal/telemetry"
)

// MAV is the controller for a real vehicle on a MAVLink link. It composes
// the link, the telemetry store, the command dispatcher and the RC streamer;
// the streamer runs for the lifetime of the connection so the autopilot sees
// a continuous override signal.
type MAV struct {
	conn   *link.Conn
	store  *telemetry.Store
	cmd    *command.Commands
	rc     *rc.Streamer
	logger *slog.Logger
}

// WithLogger sets the logger shared by the controller's components.
func WithLogger(logger *slog.Logger) func(*MAV) {
	return func(m *MAV) {
		m.logger = logger
	}
}

// Dial connects to the vehicle at device and assembles a controller on top
// of the link.
func Dial(device string, baud int, options ...func(*MAV)) (*MAV, error) {
	m := MAV{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&m)
	}

	conn, err := link.Connect(
		link.Identity{Device: device, Baud: baud},
		link.WithLogger(m.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing vehicle: %w", err)
	}

	m.conn = conn
	m.store = telemetry.NewStore(conn, telemetry.WithLogger(m.logger))
	m.cmd = command.New(conn, command.WithLogger(m.logger))
	m.rc = rc.NewStreamer(conn, rc.WithLogger(m.logger))

	m.store.Start()
	m.rc.Start()

	return &m, nil
}

// Info describes the live connection.
func (m *MAV) Info() Info {
	return Info{
		Device:    m.conn.Identity().Device,
		Connected: m.conn.IsConnected(),
	}
}

func (m *MAV) Status() telemetry.Status             { return m.store.Status() }
func (m *MAV) Telemetry() telemetry.Snapshot        { return m.store.Snapshot() }
func (m *MAV) Battery() telemetry.BatteryReport     { return m.store.Battery() }
func (m *MAV) GPS() telemetry.GPS                   { return m.store.GPS() }
func (m *MAV) Preflight() telemetry.PreflightReport { return m.store.Preflight() }

func (m *MAV) Arm() bool                           { return m.cmd.Arm() }
func (m *MAV) Disarm(force bool) bool              { return m.cmd.Disarm(force) }
func (m *MAV) Takeoff(alt float64) bool            { return m.cmd.Takeoff(alt) }
func (m *MAV) Land() bool                          { return m.cmd.Land() }
func (m *MAV) RTL() bool                           { return m.cmd.RTL() }
func (m *MAV) SetMode(mode string) bool            { return m.cmd.SetMode(mode) }
func (m *MAV) Goto(lat, lon, alt float64) bool     { return m.cmd.Goto(lat, lon, alt) }
func (m *MAV) SetVelocity(vx, vy, vz float64) bool { return m.cmd.SetVelocity(vx, vy, vz) }
func (m *MAV) EmergencyStop() bool                 { return m.cmd.EmergencyStop() }

func (m *MAV) SetParam(name string, value float64) (command.Param, error) {
	return m.cmd.SetParam(name, value)
}

func (m *MAV) GetParam(name string) (command.Param, error) {
	return m.cmd.GetParam(name)
}

// UploadMission runs the count and item handshake over the live link.
func (m *MAV) UploadMission(items []mission.Waypoint) error {
	return mission.Upload(m.conn, items, mission.WithLogger(m.logger))
}

func (m *MAV) StartMission() bool  { return m.cmd.StartMission() }
func (m *MAV) PauseMission() bool  { return m.cmd.PauseMission() }
func (m *MAV) ResumeMission() bool { return m.cmd.ResumeMission() }
func (m *MAV) ClearMission() bool  { return m.cmd.ClearMission() }

func (m *MAV) SetRC(in rc.Input) { m.rc.Set(in) }
func (m *MAV) ResetRC()          { m.rc.Reset() }
func (m *MAV) RCValues() rc.Values {
	return m.rc.Values()
}

// Close stops the streamer and the store, then tears down the link.
func (m *MAV) Close() error {
	m.rc.Stop()
	m.store.Stop()
	return m.conn.Close()
}
