package rc

import (
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"

	"github.com/dronix/groundstation/internal/link/linktest"
)

func ptr(v float64) *float64 { return &v }

func TestPWMConversion(t *testing.T) {
	cases := []struct {
		name string
		got  uint16
		want uint16
	}{
		{"center", PWM(0), 1500},
		{"full left", PWM(-1), 1000},
		{"full right", PWM(1), 2000},
		{"half", PWM(0.5), 1750},
		{"clamped high", PWM(2.0), 2000},
		{"clamped low", PWM(-3.0), 1000},
		{"throttle idle", ThrottlePWM(0), 1000},
		{"throttle full", ThrottlePWM(1), 2000},
		{"throttle half", ThrottlePWM(0.5), 1500},
		{"throttle clamped", ThrottlePWM(-0.5), 1000},
	}

	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, tc.got)
		}
	}
}

func TestSetClamps(t *testing.T) {
	s := NewStreamer(linktest.New())

	s.Set(Input{Roll: ptr(2.0), Throttle: ptr(-0.5)})

	v := s.Values()
	if v.Roll != 1.0 {
		t.Errorf("expected roll clamped to 1.0, got %v", v.Roll)
	}
	if v.Throttle != 0.0 {
		t.Errorf("expected throttle clamped to 0.0, got %v", v.Throttle)
	}
}

func TestSetPartialUpdate(t *testing.T) {
	s := NewStreamer(linktest.New())

	s.Set(Input{Roll: ptr(0.5), Pitch: ptr(-0.25)})
	s.Set(Input{Yaw: ptr(0.1)})

	v := s.Values()
	if v.Roll != 0.5 || v.Pitch != -0.25 || v.Yaw != 0.1 {
		t.Errorf("unexpected vector: %+v", v)
	}
}

func TestStreamingSendsHeldVector(t *testing.T) {
	l := linktest.New()
	s := NewStreamer(l, WithInterval(5*time.Millisecond))
	s.Set(Input{Roll: ptr(0.5), Throttle: ptr(1.0)})

	s.Start()
	deadline := time.Now().Add(time.Second)
	for len(l.Sent()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	sent := l.Sent()
	if len(sent) < 3 {
		t.Fatalf("expected at least 3 frames, got %d", len(sent))
	}

	frame := sent[0].(*ardupilotmega.MessageRcChannelsOverride)
	if frame.Chan1Raw != 1750 || frame.Chan3Raw != 2000 {
		t.Errorf("unexpected channels: %+v", frame)
	}
	if frame.Chan2Raw != 1500 || frame.Chan4Raw != 1500 {
		t.Errorf("untouched sticks should be centered: %+v", frame)
	}
}

func TestStopSendsNeutralFrame(t *testing.T) {
	l := linktest.New()
	s := NewStreamer(l, WithInterval(5*time.Millisecond))
	s.Set(Input{Roll: ptr(1.0), Pitch: ptr(-1.0), Throttle: ptr(0.8), Yaw: ptr(0.3)})

	s.Start()
	deadline := time.Now().Add(time.Second)
	for len(l.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	last := l.LastSent().(*ardupilotmega.MessageRcChannelsOverride)
	if last.Chan1Raw != 1500 || last.Chan2Raw != 1500 || last.Chan4Raw != 1500 {
		t.Errorf("expected centered sticks in final frame, got %+v", last)
	}
	if last.Chan3Raw != 1000 {
		t.Errorf("expected idle throttle in final frame, got %d", last.Chan3Raw)
	}

	v := s.Values()
	if v.Roll != 0 || v.Pitch != 0 || v.Throttle != 0 || v.Yaw != 0 {
		t.Errorf("expected reset vector after stop, got %+v", v)
	}
}

func TestNoFramesWhileDisconnected(t *testing.T) {
	l := linktest.New()
	l.SetConnected(false)

	s := NewStreamer(l, WithInterval(2*time.Millisecond))
	s.Start()
	time.Sleep(20 * time.Millisecond)

	if n := len(l.Sent()); n != 0 {
		t.Errorf("expected no frames while disconnected, got %d", n)
	}

	s.Stop()
}

func TestStopIdempotent(t *testing.T) {
	s := NewStreamer(linktest.New(), WithInterval(5*time.Millisecond))
	s.Start()
	s.Stop()
	s.Stop()
	s.Start()
	s.Stop()
}
