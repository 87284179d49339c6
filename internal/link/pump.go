package link

import (
	"slices"
	"sync"
	"time"
)

// Pump routes inbound frames to their consumers: a buffered stream for the
// telemetry ingester, one-shot waiters for command/ack correlation and
// persistent subscriptions for multi-frame handshakes. A frame matched by a
// waiter is still delivered to the stream and to subscriptions, so the
// telemetry snapshot never misses frames another caller was waiting on.
type Pump struct {
	frames chan Frame

	mu      sync.Mutex
	oneshot []*waiter
	subs    []*subscription
}

type waiter struct {
	match func(Frame) bool
	ch    chan Frame
}

type subscription struct {
	match func(Frame) bool
	ch    chan Frame
}

// NewPump creates a Pump whose frame stream buffers up to size frames.
// When the buffer is full the oldest frame is dropped, never the newest.
func NewPump(size int) *Pump {
	return &Pump{frames: make(chan Frame, size)}
}

// Frames returns the inbound frame stream.
func (p *Pump) Frames() <-chan Frame { return p.frames }

// Dispatch routes one inbound frame. The first matching one-shot waiter is
// satisfied and removed; all matching subscriptions receive the frame
// non-blocking; the frame stream receives it last.
func (p *Pump) Dispatch(f Frame) {
	p.mu.Lock()
	for i, w := range p.oneshot {
		if w.match(f) {
			p.oneshot = slices.Delete(p.oneshot, i, i+1)
			w.ch <- f // cap 1, sole delivery
			break
		}
	}
	for _, s := range p.subs {
		if s.match(f) {
			select {
			case s.ch <- f:
			default: // slow consumer, drop
			}
		}
	}
	p.mu.Unlock()

	select {
	case p.frames <- f:
	default:
		select {
		case <-p.frames:
		default:
		}
		select {
		case p.frames <- f:
		default:
		}
	}
}

// Await blocks until a frame satisfying match arrives or the timeout expires.
// The second return value reports whether a frame was matched.
func (p *Pump) Await(timeout time.Duration, match func(Frame) bool) (Frame, bool) {
	w := &waiter{match: match, ch: make(chan Frame, 1)}

	p.mu.Lock()
	p.oneshot = append(p.oneshot, w)
	p.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case f := <-w.ch:
		return f, true

	case <-t.C:
		p.mu.Lock()
		if i := slices.Index(p.oneshot, w); i >= 0 {
			p.oneshot = slices.Delete(p.oneshot, i, i+1)
		}
		p.mu.Unlock()

		// A frame may have slipped in between the timer firing and the
		// waiter being removed.
		select {
		case f := <-w.ch:
			return f, true
		default:
			return Frame{}, false
		}
	}
}

// Subscribe registers a persistent matcher. It returns a buffered channel of
// matching frames and a cancel function that must be called when done.
func (p *Pump) Subscribe(match func(Frame) bool) (<-chan Frame, func()) {
	s := &subscription{match: match, ch: make(chan Frame, 16)}

	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if i := slices.Index(p.subs, s); i >= 0 {
			p.subs = slices.Delete(p.subs, i, i+1)
		}
		p.mu.Unlock()
	}
	return s.ch, cancel
}
