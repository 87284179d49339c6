// Package linktest provides a scriptable in-memory link for package tests.
// It routes injected frames through the same Pump the real connection uses,
// so matcher and stream semantics are identical to production.
package linktest

import (
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/dronix/groundstation/internal/link"
)

// Link is a fake transport. Frames are injected with Inject; sent messages
// are recorded and optionally handed to an OnSend hook so tests can script
// the vehicle's responses.
type Link struct {
	pump *link.Pump

	mu        sync.Mutex
	sent      []message.Message
	onSend    func(message.Message)
	connected bool
	sys, comp byte
}

// New creates a connected fake link with target system 1, component 1.
func New() *Link {
	return &Link{
		pump:      link.NewPump(64),
		connected: true,
		sys:       1,
		comp:      1,
	}
}

// OnSend registers a hook invoked synchronously for every sent message.
func (l *Link) OnSend(fn func(message.Message)) {
	l.mu.Lock()
	l.onSend = fn
	l.mu.Unlock()
}

// Inject delivers a frame from the vehicle.
func (l *Link) Inject(msg message.Message) {
	l.mu.Lock()
	sys, comp := l.sys, l.comp
	l.mu.Unlock()

	l.pump.Dispatch(link.Frame{
		Message:     msg,
		SystemID:    sys,
		ComponentID: comp,
		Received:    time.Now(),
	})
}

// Sent returns a copy of all messages sent so far.
func (l *Link) Sent() []message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]message.Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// LastSent returns the most recently sent message, or nil.
func (l *Link) LastSent() message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return nil
	}
	return l.sent[len(l.sent)-1]
}

// SetConnected flips the liveness flag reported by IsConnected.
func (l *Link) SetConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
}

func (l *Link) Send(msg message.Message) error {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	hook := l.onSend
	l.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (l *Link) Frames() <-chan link.Frame { return l.pump.Frames() }

func (l *Link) Await(timeout time.Duration, match func(link.Frame) bool) (link.Frame, bool) {
	return l.pump.Await(timeout, match)
}

func (l *Link) Subscribe(match func(link.Frame) bool) (<-chan link.Frame, func()) {
	return l.pump.Subscribe(match)
}

func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Link) Target() (byte, byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sys, l.comp
}
