package vehicle

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dronix/groundstation/internal/sim"
)

const defaultProbeInterval = 5 * time.Second

// handle pairs a controller with how it was attached. The manager publishes
// it atomically so readers never observe a half-swapped backend.
type handle struct {
	ctrl      Controller
	device    string
	simulated bool
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProbeInterval sets how often the supervisor re-checks the link.
func WithProbeInterval(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.probeInterval = d
	}
}

// WithSimFallback controls whether a failed connection falls back to the
// simulated backend instead of leaving no controller attached.
func WithSimFallback(enabled bool) func(*Manager) {
	return func(m *Manager) {
		m.simFallback = enabled
	}
}

// Manager owns the active controller. It attaches a backend on Start, then
// supervises it: a dead link is re-dialed, and while hardware is absent the
// simulation flies instead. Callers read the current controller through an
// atomic handle, never a lock.
type Manager struct {
	logger        *slog.Logger
	configured    string
	baud          int
	probeInterval time.Duration
	simFallback   bool

	current atomic.Pointer[handle]

	// Seams for tests.
	connect func(device string) (Controller, error)
	detect  func() string
}

// NewManager creates a supervisor for the given device configuration. An
// empty device enables auto-detection.
func NewManager(device string, baud int, options ...func(*Manager)) *Manager {
	m := Manager{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		configured:    device,
		baud:          baud,
		probeInterval: defaultProbeInterval,
		simFallback:   true,
	}

	for _, option := range options {
		option(&m)
	}

	if m.connect == nil {
		m.connect = func(device string) (Controller, error) {
			return Dial(device, m.baud, WithLogger(m.logger))
		}
	}
	if m.detect == nil {
		m.detect = func() string { return DetectDevice(m.configured) }
	}

	return &m
}

// Start attaches the initial backend. With sim fallback enabled it always
// succeeds; otherwise the dial error is returned.
func (m *Manager) Start() error {
	device := m.detect()

	if device != SimDevice {
		ctrl, err := m.connect(device)
		if err == nil {
			m.swap(&handle{ctrl: ctrl, device: device})
			return nil
		}

		m.logger.Error("vehicle connection failed", "device", device, "error", err)
		if !m.simFallback {
			return err
		}
	}

	m.swap(&handle{ctrl: sim.New(sim.WithLogger(m.logger)), device: SimDevice, simulated: true})
	return nil
}

// Run supervises the attached backend until ctx is cancelled, then closes
// it.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check performs one supervision pass: reconnect a dead link, switch to a
// newly discovered device, or try to leave the simulation when hardware
// shows up. With no backend attached it keeps probing for one.
func (m *Manager) check() {
	h := m.current.Load()

	switch {
	case h == nil:
		m.reattach()

	case h.simulated:
		device := m.detect()
		if device == SimDevice {
			return
		}

		ctrl, err := m.connect(device)
		if err != nil {
			m.logger.Warn("hardware detected but connection failed", "device", device, "error", err)
			return
		}

		m.logger.Info("hardware attached, leaving simulation", "device", device)
		m.swap(&handle{ctrl: ctrl, device: device})

	case h.ctrl.Status().Connected:
		// Healthy link, but detection may now prefer a different device.
		device := m.detect()
		if device == SimDevice || device == h.device {
			return
		}

		ctrl, err := m.connect(device)
		if err != nil {
			m.logger.Warn("new device detected but connection failed", "device", device, "error", err)
			return
		}

		m.logger.Info("switching to newly detected device", "from", h.device, "to", device)
		m.swap(&handle{ctrl: ctrl, device: device})

	default:
		m.logger.Warn("vehicle link lost, reconnecting", "device", h.device)

		ctrl, err := m.connect(h.device)
		if err == nil {
			m.swap(&handle{ctrl: ctrl, device: h.device})
			return
		}

		m.logger.Error("reconnection failed", "device", h.device, "error", err)
		if m.simFallback {
			m.swap(&handle{ctrl: sim.New(sim.WithLogger(m.logger)), device: SimDevice, simulated: true})
			return
		}

		// Without a fallback the dead controller must not stay published;
		// callers fail fast with ErrUnavailable until a backend reattaches.
		m.swap(nil)
	}
}

// reattach tries to bring up a backend after the manager was left without
// one.
func (m *Manager) reattach() {
	device := m.detect()
	if device == SimDevice {
		if !m.simFallback {
			return
		}
		m.swap(&handle{ctrl: sim.New(sim.WithLogger(m.logger)), device: SimDevice, simulated: true})
		return
	}

	ctrl, err := m.connect(device)
	if err != nil {
		m.logger.Warn("reattach failed", "device", device, "error", err)
		return
	}

	m.logger.Info("vehicle reattached", "device", device)
	m.swap(&handle{ctrl: ctrl, device: device})
}

// swap publishes the new handle and closes the previous backend.
func (m *Manager) swap(next *handle) {
	prev := m.current.Swap(next)
	if prev != nil {
		if err := prev.ctrl.Close(); err != nil {
			m.logger.Warn("closing previous backend", "device", prev.device, "error", err)
		}
	}
}

func (m *Manager) shutdown() {
	if h := m.current.Swap(nil); h != nil {
		if err := h.ctrl.Close(); err != nil {
			m.logger.Warn("closing backend", "device", h.device, "error", err)
		}
	}
}

// Controller returns the active backend.
func (m *Manager) Controller() (Controller, error) {
	h := m.current.Load()
	if h == nil {
		return nil, ErrUnavailable
	}
	return h.ctrl, nil
}

// Info describes the active backend.
func (m *Manager) Info() (Info, error) {
	h := m.current.Load()
	if h == nil {
		return Info{}, ErrUnavailable
	}

	info := Info{Device: h.device, Simulated: h.simulated}
	info.Connected = h.ctrl.Status().Connected
	return info, nil
}
