// Package command sends MAVLink commands to the vehicle and correlates the
// resulting COMMAND_ACK frames. Simple operations are one command plus one
// ack wait; composite operations (takeoff, emergency stop) sequence several
// steps and abort on the first refusal.
package command

import (
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/dronix/groundstation/internal/copter"
	"github.com/dronix/groundstation/internal/link"
)

const (
	defaultAckTimeout   = 3 * time.Second
	defaultModeTimeout  = 2 * time.Second
	defaultParamTimeout = 5 * time.Second

	// Magic value accepted by ArduPilot as param2 of COMPONENT_ARM_DISARM
	// to force-disarm a flying vehicle.
	forceDisarmMagic = 21196

	// SET_POSITION_TARGET masks: position-only and velocity-only.
	positionTypeMask = 0b0000110111111000
	velocityTypeMask = 0b0000111111000111
)

// Link is the slice of the transport the dispatcher depends on.
type Link interface {
	Send(msg message.Message) error
	Subscribe(match func(link.Frame) bool) (<-chan link.Frame, func())
	Await(timeout time.Duration, match func(link.Frame) bool) (link.Frame, bool)
	Target() (system, component byte)
}

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *slog.Logger) func(*Commands) {
	return func(c *Commands) {
		c.logger = logger
	}
}

// Commands issues vehicle commands over a link.
type Commands struct {
	link   Link
	logger *slog.Logger

	// Timeouts and settle delays. Shortened in tests.
	ackTimeout    time.Duration
	modeTimeout   time.Duration
	paramTimeout  time.Duration
	guidedSettle  time.Duration
	armSettle     time.Duration
	missionSettle time.Duration
}

// New creates a command dispatcher over l.
func New(l Link, options ...func(*Commands)) *Commands {
	c := Commands{
		link:          l,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ackTimeout:    defaultAckTimeout,
		modeTimeout:   defaultModeTimeout,
		paramTimeout:  defaultParamTimeout,
		guidedSettle:  time.Second,
		armSettle:     2 * time.Second,
		missionSettle: 500 * time.Millisecond,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// run sends a COMMAND_LONG and waits for the matching ack. The ack channel
// is registered before the send so a reply cannot slip past the waiter.
// Acks are matched on command id only; MAVLink carries no request token, and
// overlapping in-flight commands with the same id resolve against the first
// ack to arrive.
func (c *Commands) run(cmd common.MAV_CMD, params [7]float32) bool {
	sys, comp := c.link.Target()

	acks, cancel := c.link.Subscribe(func(f link.Frame) bool {
		ack, ok := f.Message.(*ardupilotmega.MessageCommandAck)
		return ok && ack.Command == cmd
	})
	defer cancel()

	err := c.link.Send(&ardupilotmega.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	})
	if err != nil {
		c.logger.Error("command send failed", "command", cmd, "error", err)
		return false
	}

	select {
	case f := <-acks:
		ack := f.Message.(*ardupilotmega.MessageCommandAck)
		accepted := ack.Result == ardupilotmega.MAV_RESULT_ACCEPTED
		c.logger.Info("command acknowledged", "command", cmd, "result", ack.Result, "accepted", accepted)
		return accepted
	case <-time.After(c.ackTimeout):
		c.logger.Warn("command ack timed out", "command", cmd)
		return false
	}
}

// Arm requests motor arming.
func (c *Commands) Arm() bool {
	return c.run(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1})
}

// Disarm requests motor disarming. With force set the vehicle disarms even
// while airborne.
func (c *Commands) Disarm(force bool) bool {
	params := [7]float32{0}
	if force {
		params[1] = forceDisarmMagic
	}
	return c.run(common.MAV_CMD_COMPONENT_ARM_DISARM, params)
}

// SetMode switches the flight mode by name. The SET_MODE message itself is
// not acknowledged; callers that need confirmation follow up with
// CurrentMode.
func (c *Commands) SetMode(mode string) bool {
	id, ok := copter.ModeID(mode)
	if !ok {
		c.logger.Warn("unknown flight mode", "mode", mode)
		return false
	}

	sys, _ := c.link.Target()
	err := c.link.Send(&ardupilotmega.MessageSetMode{
		TargetSystem: sys,
		BaseMode:     ardupilotmega.MAV_MODE(ardupilotmega.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		CustomMode:   id,
	})
	if err != nil {
		c.logger.Error("set mode failed", "mode", mode, "error", err)
		return false
	}

	c.logger.Info("flight mode requested", "mode", mode)
	return true
}

// CurrentMode reports the flight mode from the vehicle's next heartbeat.
func (c *Commands) CurrentMode() (string, bool) {
	f, ok := c.link.Await(c.modeTimeout, func(f link.Frame) bool {
		_, ok := f.Message.(*ardupilotmega.MessageHeartbeat)
		return ok
	})
	if !ok {
		return copter.ModeUnknown, false
	}

	hb := f.Message.(*ardupilotmega.MessageHeartbeat)
	return copter.ModeName(hb.CustomMode), true
}

// Takeoff switches to GUIDED, arms, and climbs to alt metres above home.
// The sequence aborts on the first refused step.
func (c *Commands) Takeoff(alt float64) bool {
	if !c.SetMode("GUIDED") {
		return false
	}
	time.Sleep(c.guidedSettle)

	if !c.Arm() {
		c.logger.Warn("takeoff aborted, arming refused")
		return false
	}
	time.Sleep(c.armSettle)

	if !c.run(common.MAV_CMD_NAV_TAKEOFF, [7]float32{6: float32(alt)}) {
		c.logger.Warn("takeoff command refused", "alt", alt)
		return false
	}

	c.logger.Info("takeoff initiated", "alt", alt)
	return true
}

// Land commands a landing at the current position.
func (c *Commands) Land() bool {
	return c.run(common.MAV_CMD_NAV_LAND, [7]float32{})
}

// RTL commands a return to the launch point.
func (c *Commands) RTL() bool {
	return c.run(common.MAV_CMD_NAV_RETURN_TO_LAUNCH, [7]float32{})
}

// Loiter holds the current position.
func (c *Commands) Loiter() bool {
	return c.SetMode("LOITER")
}

// Goto repositions the vehicle to lat/lon at alt metres above home. The
// vehicle must be in GUIDED mode; the target itself is not acknowledged.
func (c *Commands) Goto(lat, lon, alt float64) bool {
	if mode, ok := c.CurrentMode(); !ok || mode != "GUIDED" {
		if !c.SetMode("GUIDED") {
			return false
		}
		time.Sleep(c.guidedSettle)
	}

	sys, comp := c.link.Target()
	err := c.link.Send(&ardupilotmega.MessageSetPositionTargetGlobalInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: ardupilotmega.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask:        positionTypeMask,
		LatInt:          int32(math.Round(lat * 1e7)),
		LonInt:          int32(math.Round(lon * 1e7)),
		Alt:             float32(alt),
	})
	if err != nil {
		c.logger.Error("goto send failed", "error", err)
		return false
	}

	c.logger.Info("reposition requested", "lat", lat, "lon", lon, "alt", alt)
	return true
}

// SetVelocity commands a body-independent velocity in the local NED frame,
// metres per second.
func (c *Commands) SetVelocity(vx, vy, vz float64) bool {
	sys, comp := c.link.Target()
	err := c.link.Send(&ardupilotmega.MessageSetPositionTargetLocalNed{
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: ardupilotmega.MAV_FRAME_LOCAL_NED,
		TypeMask:        velocityTypeMask,
		Vx:              float32(vx),
		Vy:              float32(vy),
		Vz:              float32(vz),
	})
	if err != nil {
		c.logger.Error("set velocity send failed", "error", err)
		return false
	}
	return true
}

// EmergencyStop runs the layered abort: RTL, then LAND if the vehicle did
// not switch, then a force disarm as the last resort. It returns true if
// any layer took effect.
func (c *Commands) EmergencyStop() bool {
	c.logger.Warn("emergency stop initiated")

	if c.SetMode("RTL") {
		if mode, ok := c.CurrentMode(); ok && mode == "RTL" {
			c.logger.Info("emergency stop: returning to launch")
			return true
		}
	}

	if c.SetMode("LAND") {
		if mode, ok := c.CurrentMode(); ok && mode == "LAND" {
			c.logger.Info("emergency stop: landing in place")
			return true
		}
	}

	if c.Disarm(true) {
		c.logger.Warn("emergency stop: force disarmed")
		return true
	}

	c.logger.Error("emergency stop failed, vehicle did not respond")
	return false
}

// RebootAutopilot restarts the flight controller.
func (c *Commands) RebootAutopilot() bool {
	return c.run(common.MAV_CMD_PREFLIGHT_REBOOT_SHUTDOWN, [7]float32{1})
}

// StartMission rewinds the mission to item zero and switches to AUTO.
func (c *Commands) StartMission() bool {
	sys, comp := c.link.Target()
	err := c.link.Send(&ardupilotmega.MessageMissionSetCurrent{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             0,
	})
	if err != nil {
		c.logger.Error("mission set current failed", "error", err)
		return false
	}
	time.Sleep(c.missionSettle)

	if !c.SetMode("AUTO") {
		return false
	}

	c.logger.Info("mission started")
	return true
}

// PauseMission suspends the running mission in place.
func (c *Commands) PauseMission() bool {
	return c.run(common.MAV_CMD_DO_PAUSE_CONTINUE, [7]float32{0})
}

// ResumeMission continues a paused mission.
func (c *Commands) ResumeMission() bool {
	return c.run(common.MAV_CMD_DO_PAUSE_CONTINUE, [7]float32{1})
}

// ClearMission erases the stored mission and waits for the vehicle's
// MISSION_ACK.
func (c *Commands) ClearMission() bool {
	sys, comp := c.link.Target()

	acks, cancel := c.link.Subscribe(func(f link.Frame) bool {
		_, ok := f.Message.(*ardupilotmega.MessageMissionAck)
		return ok
	})
	defer cancel()

	err := c.link.Send(&ardupilotmega.MessageMissionClearAll{
		TargetSystem:    sys,
		TargetComponent: comp,
	})
	if err != nil {
		c.logger.Error("mission clear failed", "error", err)
		return false
	}

	select {
	case f := <-acks:
		ack := f.Message.(*ardupilotmega.MessageMissionAck)
		return ack.Type == ardupilotmega.MAV_MISSION_ACCEPTED
	case <-time.After(c.ackTimeout):
		c.logger.Warn("mission clear ack timed out")
		return false
	}
}
