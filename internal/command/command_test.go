package command

import (
	"errors"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/dronix/groundstation/internal/link/linktest"
)

func newTestCommands(l *linktest.Link) *Commands {
	c := New(l)
	c.ackTimeout = 50 * time.Millisecond
	c.modeTimeout = 50 * time.Millisecond
	c.paramTimeout = 50 * time.Millisecond
	c.guidedSettle = 0
	c.armSettle = 0
	c.missionSettle = 0
	return c
}

// ackWith replies to every COMMAND_LONG with an ack carrying result.
func ackWith(l *linktest.Link, result ardupilotmega.MAV_RESULT) {
	l.OnSend(func(msg message.Message) {
		if cmd, ok := msg.(*ardupilotmega.MessageCommandLong); ok {
			l.Inject(&ardupilotmega.MessageCommandAck{Command: cmd.Command, Result: result})
		}
	})
}

func TestArm(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	ackWith(l, ardupilotmega.MAV_RESULT_ACCEPTED)

	if !c.Arm() {
		t.Fatal("expected arm to be accepted")
	}

	sent := l.LastSent().(*ardupilotmega.MessageCommandLong)
	if sent.Command != common.MAV_CMD_COMPONENT_ARM_DISARM || sent.Param1 != 1 {
		t.Errorf("unexpected command: %+v", sent)
	}
	if sent.TargetSystem != 1 || sent.TargetComponent != 1 {
		t.Errorf("unexpected target: %d/%d", sent.TargetSystem, sent.TargetComponent)
	}
}

func TestArmRefused(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	ackWith(l, ardupilotmega.MAV_RESULT_DENIED)

	if c.Arm() {
		t.Fatal("expected denied ack to report failure")
	}
}

func TestAckTimeout(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)

	if c.Land() {
		t.Fatal("expected failure with no ack")
	}
}

func TestAckCorrelationByCommandID(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	l.OnSend(func(msg message.Message) {
		if cmd, ok := msg.(*ardupilotmega.MessageCommandLong); ok {
			// A stale ack for an unrelated command must be skipped.
			l.Inject(&ardupilotmega.MessageCommandAck{
				Command: common.MAV_CMD_NAV_TAKEOFF,
				Result:  ardupilotmega.MAV_RESULT_DENIED,
			})
			l.Inject(&ardupilotmega.MessageCommandAck{
				Command: cmd.Command,
				Result:  ardupilotmega.MAV_RESULT_ACCEPTED,
			})
		}
	})

	if !c.Land() {
		t.Fatal("expected the matching ack to win")
	}
}

func TestDisarmForce(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	ackWith(l, ardupilotmega.MAV_RESULT_ACCEPTED)

	if !c.Disarm(true) {
		t.Fatal("expected force disarm to be accepted")
	}

	sent := l.LastSent().(*ardupilotmega.MessageCommandLong)
	if sent.Param1 != 0 || sent.Param2 != 21196 {
		t.Errorf("expected force disarm params, got %+v", sent)
	}
}

func TestSetMode(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)

	if !c.SetMode("guided") {
		t.Fatal("expected mode request to send")
	}

	sent := l.LastSent().(*ardupilotmega.MessageSetMode)
	if sent.CustomMode != 4 {
		t.Errorf("expected GUIDED custom mode 4, got %d", sent.CustomMode)
	}

	if c.SetMode("WARP") {
		t.Error("expected unknown mode to fail without sending")
	}
}

func TestTakeoffSequence(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	ackWith(l, ardupilotmega.MAV_RESULT_ACCEPTED)

	if !c.Takeoff(25) {
		t.Fatal("expected takeoff to succeed")
	}

	sent := l.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sent))
	}
	if m, ok := sent[0].(*ardupilotmega.MessageSetMode); !ok || m.CustomMode != 4 {
		t.Errorf("step 1: expected GUIDED, got %#v", sent[0])
	}
	if m, ok := sent[1].(*ardupilotmega.MessageCommandLong); !ok || m.Command != common.MAV_CMD_COMPONENT_ARM_DISARM {
		t.Errorf("step 2: expected arm, got %#v", sent[1])
	}
	m, ok := sent[2].(*ardupilotmega.MessageCommandLong)
	if !ok || m.Command != common.MAV_CMD_NAV_TAKEOFF || m.Param7 != 25 {
		t.Errorf("step 3: expected takeoff to 25m, got %#v", sent[2])
	}
}

func TestTakeoffAbortsWhenArmingRefused(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	ackWith(l, ardupilotmega.MAV_RESULT_DENIED)

	if c.Takeoff(25) {
		t.Fatal("expected takeoff to abort")
	}
	for _, msg := range l.Sent() {
		if m, ok := msg.(*ardupilotmega.MessageCommandLong); ok && m.Command == common.MAV_CMD_NAV_TAKEOFF {
			t.Error("takeoff command sent after arming was refused")
		}
	}
}

func TestGotoSendsPositionTarget(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	l.OnSend(func(msg message.Message) {
		if _, ok := msg.(*ardupilotmega.MessageSetMode); ok {
			go func() {
				time.Sleep(5 * time.Millisecond)
				l.Inject(&ardupilotmega.MessageHeartbeat{CustomMode: 4})
			}()
		}
	})

	if !c.Goto(47.3977418, 8.5455970, 30) {
		t.Fatal("expected goto to succeed")
	}

	sent := l.LastSent().(*ardupilotmega.MessageSetPositionTargetGlobalInt)
	if sent.LatInt != 473977418 || sent.LonInt != 85455970 || sent.Alt != 30 {
		t.Errorf("unexpected target: %+v", sent)
	}
	if sent.TypeMask != 0b0000110111111000 {
		t.Errorf("unexpected type mask: %b", sent.TypeMask)
	}
	if sent.CoordinateFrame != ardupilotmega.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT {
		t.Errorf("unexpected frame: %v", sent.CoordinateFrame)
	}
}

func TestSetVelocity(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)

	if !c.SetVelocity(1, -2, 0.5) {
		t.Fatal("expected velocity target to send")
	}

	sent := l.LastSent().(*ardupilotmega.MessageSetPositionTargetLocalNed)
	if sent.Vx != 1 || sent.Vy != -2 || sent.Vz != 0.5 {
		t.Errorf("unexpected velocity: %+v", sent)
	}
	if sent.TypeMask != 0b0000111111000111 {
		t.Errorf("unexpected type mask: %b", sent.TypeMask)
	}
}

func TestEmergencyStopFallsThroughToDisarm(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	// Mode changes never take effect; only the force disarm is accepted.
	ackWith(l, ardupilotmega.MAV_RESULT_ACCEPTED)

	if !c.EmergencyStop() {
		t.Fatal("expected emergency stop to succeed via disarm")
	}

	last := l.LastSent().(*ardupilotmega.MessageCommandLong)
	if last.Command != common.MAV_CMD_COMPONENT_ARM_DISARM || last.Param2 != 21196 {
		t.Errorf("expected force disarm as last resort, got %+v", last)
	}
}

func TestEmergencyStopStopsAtRTL(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	l.OnSend(func(msg message.Message) {
		if m, ok := msg.(*ardupilotmega.MessageSetMode); ok {
			mode := m.CustomMode
			go func() {
				time.Sleep(5 * time.Millisecond)
				l.Inject(&ardupilotmega.MessageHeartbeat{CustomMode: mode})
			}()
		}
	})

	if !c.EmergencyStop() {
		t.Fatal("expected emergency stop to succeed")
	}

	for _, msg := range l.Sent() {
		if _, ok := msg.(*ardupilotmega.MessageCommandLong); ok {
			t.Error("disarm sent even though RTL took effect")
		}
	}
}

func TestStartMission(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)

	if !c.StartMission() {
		t.Fatal("expected mission start to succeed")
	}

	sent := l.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sent))
	}
	if m, ok := sent[0].(*ardupilotmega.MessageMissionSetCurrent); !ok || m.Seq != 0 {
		t.Errorf("expected mission rewind, got %#v", sent[0])
	}
	if m, ok := sent[1].(*ardupilotmega.MessageSetMode); !ok || m.CustomMode != 3 {
		t.Errorf("expected AUTO custom mode 3, got %#v", sent[1])
	}
}

func TestClearMission(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	l.OnSend(func(msg message.Message) {
		if _, ok := msg.(*ardupilotmega.MessageMissionClearAll); ok {
			l.Inject(&ardupilotmega.MessageMissionAck{Type: ardupilotmega.MAV_MISSION_ACCEPTED})
		}
	})

	if !c.ClearMission() {
		t.Fatal("expected clear to be acknowledged")
	}
}

func TestSetParamEchoesValue(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)
	l.OnSend(func(msg message.Message) {
		if ps, ok := msg.(*ardupilotmega.MessageParamSet); ok {
			// Echo an unrelated parameter first; it must not match.
			l.Inject(&ardupilotmega.MessageParamValue{ParamId: "OTHER", ParamValue: 1})
			l.Inject(&ardupilotmega.MessageParamValue{
				ParamId:    ps.ParamId,
				ParamValue: ps.ParamValue,
				ParamType:  ps.ParamType,
			})
		}
	})

	p, err := c.SetParam("WPNAV_SPEED", 750)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if p.Name != "WPNAV_SPEED" || p.Value != 750 {
		t.Errorf("unexpected param: %+v", p)
	}
}

func TestGetParamTimeout(t *testing.T) {
	l := linktest.New()
	c := newTestCommands(l)

	_, err := c.GetParam("WPNAV_SPEED")
	if !errors.Is(err, ErrParamTimeout) {
		t.Fatalf("expected ErrParamTimeout, got %v", err)
	}

	sent := l.LastSent().(*ardupilotmega.MessageParamRequestRead)
	if sent.ParamId != "WPNAV_SPEED" || sent.ParamIndex != -1 {
		t.Errorf("unexpected request: %+v", sent)
	}
}
