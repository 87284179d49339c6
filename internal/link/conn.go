package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	// GCSSystemID is the MAVLink system id this ground station writes with.
	GCSSystemID = 255

	// DefaultMaxRetries is the number of connection attempts before giving up.
	DefaultMaxRetries = 5

	// DefaultBackoff is the base of the exponential retry backoff:
	// attempt n sleeps DefaultBackoff * 2^(n-1).
	DefaultBackoff = time.Second

	// DefaultHeartbeatTimeout bounds the wait for the first heartbeat on
	// each connection attempt.
	DefaultHeartbeatTimeout = 10 * time.Second

	// DefaultLivenessWindow is how long the link stays "connected" after
	// the last observed heartbeat.
	DefaultLivenessWindow = 5 * time.Second

	frameBuffer = 256
)

var (
	// ErrConnectionFailed is returned when the link could not be opened or
	// no heartbeat was observed within all retry attempts.
	ErrConnectionFailed = errors.New("link: connection failed")

	// ErrClosed is returned by Send after the connection has been closed.
	ErrClosed = errors.New("link: connection closed")
)

// node is the slice of *gomavlib.Node the connection depends on, separated
// so tests can substitute a scripted endpoint.
type node interface {
	Events() chan gomavlib.Event
	WriteMessageAll(msg message.Message) error
	Close()
}

type settings struct {
	maxRetries       int
	backoff          time.Duration
	heartbeatTimeout time.Duration
	livenessWindow   time.Duration
	logger           *slog.Logger
	open             func(Identity) (node, error)
}

// WithLogger sets the logger for the connection.
func WithLogger(logger *slog.Logger) func(*settings) {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMaxRetries sets the number of connection attempts.
func WithMaxRetries(n int) func(*settings) {
	return func(s *settings) {
		s.maxRetries = n
	}
}

// WithBackoff sets the base of the exponential retry backoff.
func WithBackoff(d time.Duration) func(*settings) {
	return func(s *settings) {
		s.backoff = d
	}
}

// WithHeartbeatTimeout bounds the first-heartbeat wait per attempt.
func WithHeartbeatTimeout(d time.Duration) func(*settings) {
	return func(s *settings) {
		s.heartbeatTimeout = d
	}
}

func withOpener(open func(Identity) (node, error)) func(*settings) {
	return func(s *settings) {
		s.open = open
	}
}

// Conn is an established MAVLink connection. All physical writes are
// serialized through a single lock; inbound frames are routed by a single
// goroutine through the Pump.
type Conn struct {
	identity Identity
	node     node
	pump     *Pump
	logger   *slog.Logger

	livenessWindow time.Duration
	lastHeartbeat  atomic.Int64 // unix nanoseconds

	sendMu    sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect opens the link described by identity and waits for the first
// heartbeat, retrying with exponential backoff. After exhausting all
// attempts it fails with ErrConnectionFailed wrapping the last error.
func Connect(identity Identity, options ...func(*settings)) (*Conn, error) {
	s := settings{
		maxRetries:       DefaultMaxRetries,
		backoff:          DefaultBackoff,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		livenessWindow:   DefaultLivenessWindow,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		open:             openNode,
	}
	for _, option := range options {
		option(&s)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		s.logger.Info("connecting",
			slog.String("device", identity.Device),
			slog.Int("baud", identity.Baud),
			slog.Int("attempt", attempt),
			slog.Int("maxRetries", s.maxRetries))

		conn, err := dial(identity, &s)
		if err == nil {
			s.logger.Info("connected",
				slog.Int("targetSystem", int(conn.identity.TargetSystem)),
				slog.Int("targetComponent", int(conn.identity.TargetComponent)))
			return conn, nil
		}

		lastErr = err
		wait := s.backoff * (1 << (attempt - 1))
		s.logger.Warn(fmt.Sprintf("connection attempt failed: %s", err.Error()),
			slog.Duration("retryIn", wait))
		time.Sleep(wait)
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, identity.Device, lastErr)
}

// dial performs a single connection attempt: open the endpoint, then wait
// for the first heartbeat to resolve the target system and component.
func dial(identity Identity, s *settings) (*Conn, error) {
	n, err := s.open(identity)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", identity.Device, err)
	}

	deadline := time.NewTimer(s.heartbeatTimeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-n.Events():
			if !ok {
				n.Close()
				return nil, errors.New("event channel closed before heartbeat")
			}
			fr, ok := ev.(*gomavlib.EventFrame)
			if !ok {
				continue
			}
			if _, ok = fr.Message().(*ardupilotmega.MessageHeartbeat); !ok {
				continue
			}

			identity.TargetSystem = fr.SystemID()
			identity.TargetComponent = fr.ComponentID()

			c := &Conn{
				identity:       identity,
				node:           n,
				pump:           NewPump(frameBuffer),
				logger:         s.logger,
				livenessWindow: s.livenessWindow,
				closed:         make(chan struct{}),
			}
			c.noteHeartbeat()

			c.wg.Add(1)
			go c.route()
			return c, nil

		case <-deadline.C:
			n.Close()
			return nil, fmt.Errorf("no heartbeat within %s", s.heartbeatTimeout)
		}
	}
}

// openNode maps a device string onto a gomavlib endpoint and opens it.
func openNode(identity Identity) (node, error) {
	endpoint, err := endpointFor(identity)
	if err != nil {
		return nil, err
	}

	n, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpoint},
		Dialect:     ardupilotmega.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: GCSSystemID,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func endpointFor(identity Identity) (gomavlib.EndpointConf, error) {
	switch {
	case identity.Device == "":
		return nil, errors.New("no device specified")

	case strings.HasPrefix(identity.Device, "udp:"):
		return gomavlib.EndpointUDPClient{Address: strings.TrimPrefix(identity.Device, "udp:")}, nil

	case strings.HasPrefix(identity.Device, "tcp:"):
		return gomavlib.EndpointTCPClient{Address: strings.TrimPrefix(identity.Device, "tcp:")}, nil

	default:
		return gomavlib.EndpointSerial{Device: identity.Device, Baud: identity.Baud}, nil
	}
}

// route is the single consumer of the endpoint's event channel. It stamps
// heartbeat liveness and hands every frame to the Pump.
func (c *Conn) route() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closed:
			return

		case ev, ok := <-c.node.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *gomavlib.EventFrame:
				if _, ok := e.Message().(*ardupilotmega.MessageHeartbeat); ok {
					c.noteHeartbeat()
				}
				c.pump.Dispatch(Frame{
					Message:     e.Message(),
					SystemID:    e.SystemID(),
					ComponentID: e.ComponentID(),
					Received:    time.Now(),
				})

			case *gomavlib.EventChannelClose:
				c.logger.Warn("endpoint channel closed")

			case *gomavlib.EventParseError:
				c.logger.Debug("frame parse error")
			}
		}
	}
}

func (c *Conn) noteHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

// Send writes one frame to the vehicle. Writes are serialized so two
// concurrent callers never interleave their frames on the wire.
func (c *Conn) Send(msg message.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	return c.node.WriteMessageAll(msg)
}

// Frames returns the inbound frame stream for the telemetry ingester.
func (c *Conn) Frames() <-chan Frame { return c.pump.Frames() }

// Await blocks for the next frame satisfying match, up to timeout.
func (c *Conn) Await(timeout time.Duration, match func(Frame) bool) (Frame, bool) {
	return c.pump.Await(timeout, match)
}

// Subscribe registers a persistent frame matcher.
func (c *Conn) Subscribe(match func(Frame) bool) (<-chan Frame, func()) {
	return c.pump.Subscribe(match)
}

// IsConnected reports whether a heartbeat was observed within the liveness
// window.
func (c *Conn) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	last := c.lastHeartbeat.Load()
	return last != 0 && time.Since(time.Unix(0, last)) <= c.livenessWindow
}

// Target returns the vehicle's system and component ids.
func (c *Conn) Target() (byte, byte) {
	return c.identity.TargetSystem, c.identity.TargetComponent
}

// Identity returns the link identity resolved at connect time.
func (c *Conn) Identity() Identity { return c.identity }

// Close shuts the connection down. It is idempotent and safe to call from
// any state.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.node.Close()
		c.wg.Wait()
		c.logger.Info("disconnected", slog.String("device", c.identity.Device))
	})
	return nil
}
