// Package vehicle defines the controller contract shared by the MAVLink and
// simulated backends, and the manager that keeps a live controller available
// across link drops.
package vehicle

import (
	"errors"

	"github.com/dronix/groundstation/internal/command"
	"github.com/dronix/groundstation/internal/mission"
	"github.com/dronix/groundstation/internal/rc"
	"github.com/dronix/groundstation/internal/telemetry"
)

// ErrUnavailable is returned when no controller is attached.
var ErrUnavailable = errors.New("no vehicle available")

// SimDevice is the device name selecting the simulated backend.
const SimDevice = "SIM"

// Info describes the attached backend.
type Info struct {
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Simulated bool   `json:"simulated"`
}

// Controller is the full vehicle contract. Both the MAVLink backend and the
// simulation implement it, so everything above this package is agnostic to
// which one is flying.
type Controller interface {
	// State.
	Status() telemetry.Status
	Telemetry() telemetry.Snapshot
	Battery() telemetry.BatteryReport
	GPS() telemetry.GPS
	Preflight() telemetry.PreflightReport

	// Flight commands. The boolean reports whether the vehicle accepted.
	Arm() bool
	Disarm(force bool) bool
	Takeoff(alt float64) bool
	Land() bool
	RTL() bool
	SetMode(mode string) bool
	Goto(lat, lon, alt float64) bool
	SetVelocity(vx, vy, vz float64) bool
	EmergencyStop() bool

	// Parameters.
	SetParam(name string, value float64) (command.Param, error)
	GetParam(name string) (command.Param, error)

	// Missions.
	UploadMission(items []mission.Waypoint) error
	StartMission() bool
	PauseMission() bool
	ResumeMission() bool
	ClearMission() bool

	// Manual control.
	SetRC(in rc.Input)
	ResetRC()
	RCValues() rc.Values

	Close() error
}
