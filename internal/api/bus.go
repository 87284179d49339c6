package api

import "sync"

// Bus fans telemetry snapshots out to websocket clients. Subscribers with a
// full buffer miss the update instead of stalling the broadcaster.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan any]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan any]struct{})}
}

// Subscribe registers a new client channel. The returned cancel func must be
// called when the client goes away.
func (b *Bus) Subscribe() (<-chan any, func()) {
	ch := make(chan any, 8)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers v to every subscriber without blocking.
func (b *Bus) Publish(v any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Len reports the subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
