package vehicle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dronix/groundstation/internal/command"
	"github.com/dronix/groundstation/internal/mission"
	"github.com/dronix/groundstation/internal/rc"
	"github.com/dronix/groundstation/internal/telemetry"
)

// stubController records lifecycle calls and reports a settable link state.
type stubController struct {
	mu        sync.Mutex
	connected bool
	closed    bool
}

func (s *stubController) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *stubController) Status() telemetry.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return telemetry.Status{Connected: s.connected}
}

func (s *stubController) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubController) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubController) Telemetry() telemetry.Snapshot        { return telemetry.Snapshot{} }
func (s *stubController) Battery() telemetry.BatteryReport     { return telemetry.BatteryReport{} }
func (s *stubController) GPS() telemetry.GPS                   { return telemetry.GPS{} }
func (s *stubController) Preflight() telemetry.PreflightReport { return telemetry.PreflightReport{} }
func (s *stubController) Arm() bool                            { return true }
func (s *stubController) Disarm(bool) bool                     { return true }
func (s *stubController) Takeoff(float64) bool                 { return true }
func (s *stubController) Land() bool                           { return true }
func (s *stubController) RTL() bool                            { return true }
func (s *stubController) SetMode(string) bool                  { return true }
func (s *stubController) Goto(_, _, _ float64) bool            { return true }
func (s *stubController) SetVelocity(_, _, _ float64) bool     { return true }
func (s *stubController) EmergencyStop() bool                  { return true }
func (s *stubController) SetParam(string, float64) (command.Param, error) {
	return command.Param{}, nil
}
func (s *stubController) GetParam(string) (command.Param, error) { return command.Param{}, nil }
func (s *stubController) UploadMission([]mission.Waypoint) error { return nil }
func (s *stubController) StartMission() bool                     { return true }
func (s *stubController) PauseMission() bool                     { return true }
func (s *stubController) ResumeMission() bool                    { return true }
func (s *stubController) ClearMission() bool                     { return true }
func (s *stubController) SetRC(rc.Input)                         {}
func (s *stubController) ResetRC()                               {}
func (s *stubController) RCValues() rc.Values                    { return rc.Values{} }

func TestManagerStartConnectsHardware(t *testing.T) {
	ctrl := &stubController{connected: true}
	m := NewManager("/dev/ttyACM0", 115200)
	m.detect = func() string { return "/dev/ttyACM0" }
	m.connect = func(device string) (Controller, error) { return ctrl, nil }

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	info, err := m.Info()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if info.Simulated || info.Device != "/dev/ttyACM0" || !info.Connected {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestManagerFallsBackToSim(t *testing.T) {
	m := NewManager("/dev/ttyACM0", 115200)
	m.detect = func() string { return "/dev/ttyACM0" }
	m.connect = func(device string) (Controller, error) {
		return nil, errors.New("no heartbeat")
	}

	if err := m.Start(); err != nil {
		t.Fatalf("expected sim fallback, got error: %s", err)
	}

	info, _ := m.Info()
	if !info.Simulated || info.Device != SimDevice {
		t.Errorf("expected simulated backend, got %+v", info)
	}

	ctrl, err := m.Controller()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !ctrl.Arm() {
		t.Error("expected simulated vehicle to arm")
	}

	m.shutdown()
}

func TestManagerStartErrorWithoutFallback(t *testing.T) {
	m := NewManager("/dev/ttyACM0", 115200, WithSimFallback(false))
	m.detect = func() string { return "/dev/ttyACM0" }
	m.connect = func(device string) (Controller, error) {
		return nil, errors.New("no heartbeat")
	}

	if err := m.Start(); err == nil {
		t.Fatal("expected start to fail")
	}
	if _, err := m.Controller(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestManagerReconnectsDeadLink(t *testing.T) {
	first := &stubController{connected: true}
	second := &stubController{connected: true}

	dials := 0
	m := NewManager("/dev/ttyACM0", 115200, WithProbeInterval(5*time.Millisecond))
	m.detect = func() string { return "/dev/ttyACM0" }
	m.connect = func(device string) (Controller, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	first.setConnected(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl, _ := m.Controller(); ctrl == Controller(second) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if ctrl, _ := m.Controller(); ctrl != Controller(second) {
		t.Fatal("expected hot swap to the fresh connection")
	}
	if !first.wasClosed() {
		t.Error("expected the dead backend to be closed")
	}

	cancel()
	<-done

	if !second.wasClosed() {
		t.Error("expected shutdown to close the active backend")
	}
	if _, err := m.Controller(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after shutdown, got %v", err)
	}
}

func TestManagerLeavesSimWhenHardwareAppears(t *testing.T) {
	hw := &stubController{connected: true}

	var mu sync.Mutex
	device := SimDevice

	m := NewManager("", 115200, WithProbeInterval(5*time.Millisecond))
	m.detect = func() string {
		mu.Lock()
		defer mu.Unlock()
		return device
	}
	m.connect = func(string) (Controller, error) { return hw, nil }

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if info, _ := m.Info(); !info.Simulated {
		t.Fatalf("expected initial sim backend, got %+v", info)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	mu.Lock()
	device = "/dev/ttyUSB0"
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, _ := m.Info(); !info.Simulated {
			break
		}
		time.Sleep(time.Millisecond)
	}

	info, _ := m.Info()
	if info.Simulated || info.Device != "/dev/ttyUSB0" {
		t.Fatalf("expected hot swap to hardware, got %+v", info)
	}

	cancel()
	<-done
}

func TestManagerSwitchesHealthyLinkToNewDevice(t *testing.T) {
	first := &stubController{connected: true}
	second := &stubController{connected: true}

	var mu sync.Mutex
	device := "/dev/ttyUSB0"

	m := NewManager("", 115200, WithProbeInterval(5*time.Millisecond))
	m.detect = func() string {
		mu.Lock()
		defer mu.Unlock()
		return device
	}
	m.connect = func(device string) (Controller, error) {
		if device == "/dev/ttyACM0" {
			return second, nil
		}
		return first, nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	mu.Lock()
	device = "/dev/ttyACM0"
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, _ := m.Info(); info.Device == "/dev/ttyACM0" {
			break
		}
		time.Sleep(time.Millisecond)
	}

	info, _ := m.Info()
	if info.Device != "/dev/ttyACM0" {
		t.Fatalf("expected switch to the newly detected device, got %+v", info)
	}
	if !first.wasClosed() {
		t.Error("expected the replaced backend to be closed")
	}

	cancel()
	<-done
}

func TestManagerFailsFastWhenReconnectExhaustedWithoutFallback(t *testing.T) {
	first := &stubController{connected: true}
	second := &stubController{connected: true}

	var mu sync.Mutex
	failing := false

	m := NewManager("/dev/ttyACM0", 115200, WithSimFallback(false), WithProbeInterval(5*time.Millisecond))
	m.detect = func() string { return "/dev/ttyACM0" }
	m.connect = func(device string) (Controller, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, errors.New("no heartbeat")
		}
		if first.wasClosed() {
			return second, nil
		}
		return first, nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	mu.Lock()
	failing = true
	mu.Unlock()
	first.setConnected(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Controller(); errors.Is(err, ErrUnavailable) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Controller(); !errors.Is(err, ErrUnavailable) {
		t.Fatal("expected ErrUnavailable once reconnection is exhausted")
	}
	if !first.wasClosed() {
		t.Error("expected the dead backend to be closed")
	}

	// Probing continues from the unavailable state; once the device answers
	// again a backend is reattached.
	mu.Lock()
	failing = false
	mu.Unlock()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl, _ := m.Controller(); ctrl == Controller(second) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if ctrl, _ := m.Controller(); ctrl != Controller(second) {
		t.Fatal("expected a backend to reattach after the device recovered")
	}

	cancel()
	<-done
}

func TestDetectDeviceExplicitValueWins(t *testing.T) {
	for _, configured := range []string{SimDevice, "udp:127.0.0.1:14550", "/dev/ttyXYZ9"} {
		if got := DetectDevice(configured); got != configured {
			t.Errorf("expected %q, got %q", configured, got)
		}
	}
}

func TestIsSerial(t *testing.T) {
	if !IsSerial("/dev/ttyACM0") {
		t.Error("expected serial")
	}
	if IsSerial("udp:127.0.0.1:14550") || IsSerial(SimDevice) {
		t.Error("expected non-serial")
	}
}
