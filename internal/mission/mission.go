// Package mission implements the waypoint upload handshake. The ground side
// announces an item count, answers the vehicle's per-item requests, and
// finishes when the vehicle sends its final MISSION_ACK.
package mission

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/dronix/groundstation/internal/link"
)

const (
	defaultSessionTimeout = 10 * time.Second
	defaultStepTimeout    = 5 * time.Second
)

var (
	// ErrNoWaypoints is returned when an upload is started with an empty plan.
	ErrNoWaypoints = errors.New("mission has no waypoints")

	// ErrSessionTimeout is returned when the vehicle stops driving the
	// handshake before the final ack.
	ErrSessionTimeout = errors.New("mission upload timed out")
)

// Waypoint is one mission item, relative-altitude metres above home.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Phase tracks where an upload session is in the handshake.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountSent
	PhaseItemSent
	PhaseAwaitingFinalAck
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountSent:
		return "count_sent"
	case PhaseItemSent:
		return "item_sent"
	case PhaseAwaitingFinalAck:
		return "awaiting_final_ack"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Link is the slice of the transport a session depends on.
type Link interface {
	Send(msg message.Message) error
	Subscribe(match func(link.Frame) bool) (<-chan link.Frame, func())
	Target() (system, component byte)
}

// WithTimeout sets the overall session deadline.
func WithTimeout(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithStepTimeout sets the deadline for each individual vehicle response.
func WithStepTimeout(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.stepTimeout = d
	}
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is a single mission upload. The vehicle drives the transfer: the
// session only ever answers the item sequence the vehicle asks for, so a
// lost request or item is recovered by the vehicle asking again.
type Session struct {
	link   Link
	items  []Waypoint
	logger *slog.Logger

	timeout     time.Duration
	stepTimeout time.Duration

	phase Phase
	sent  int
}

// NewSession prepares an upload of items. Run performs the transfer.
func NewSession(l Link, items []Waypoint, options ...func(*Session)) *Session {
	s := Session{
		link:        l,
		items:       items,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:     defaultSessionTimeout,
		stepTimeout: defaultStepTimeout,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Phase reports the session state after Run returns.
func (s *Session) Phase() Phase { return s.phase }

// ItemsSent reports how many item frames were transmitted, repeats included.
func (s *Session) ItemsSent() int { return s.sent }

// Run performs the upload handshake and blocks until the vehicle accepts or
// refuses the mission, or a timeout fires.
func (s *Session) Run() error {
	if len(s.items) == 0 {
		s.phase = PhaseFailed
		return ErrNoWaypoints
	}

	// Register before announcing the count so the first request cannot be
	// missed.
	frames, cancel := s.link.Subscribe(func(f link.Frame) bool {
		switch f.Message.(type) {
		case *ardupilotmega.MessageMissionRequestInt,
			*ardupilotmega.MessageMissionRequest,
			*ardupilotmega.MessageMissionAck:
			return true
		}
		return false
	})
	defer cancel()

	sys, comp := s.link.Target()
	err := s.link.Send(&ardupilotmega.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(len(s.items)),
	})
	if err != nil {
		s.phase = PhaseFailed
		return fmt.Errorf("announcing mission count: %w", err)
	}

	s.phase = PhaseCountSent
	s.logger.Info("mission upload started", "items", len(s.items))

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		step := time.NewTimer(s.stepTimeout)

		select {
		case f := <-frames:
			step.Stop()
			done, err := s.handle(f.Message, sys, comp)
			if err != nil {
				s.phase = PhaseFailed
				return err
			}
			if done {
				s.phase = PhaseCompleted
				s.logger.Info("mission upload completed", "items", len(s.items))
				return nil
			}

		case <-step.C:
			s.phase = PhaseFailed
			return fmt.Errorf("%w: no response for %s", ErrSessionTimeout, s.stepTimeout)

		case <-deadline.C:
			step.Stop()
			s.phase = PhaseFailed
			return fmt.Errorf("%w: not finished within %s", ErrSessionTimeout, s.timeout)
		}
	}
}

// handle answers one vehicle frame. It returns true once the final ack
// arrives.
func (s *Session) handle(msg message.Message, sys, comp byte) (bool, error) {
	var seq uint16
	switch m := msg.(type) {
	case *ardupilotmega.MessageMissionRequestInt:
		seq = m.Seq
	case *ardupilotmega.MessageMissionRequest:
		seq = m.Seq
	case *ardupilotmega.MessageMissionAck:
		if m.Type != ardupilotmega.MAV_MISSION_ACCEPTED {
			return false, fmt.Errorf("vehicle refused mission: %s", m.Type)
		}
		return true, nil
	default:
		return false, nil
	}

	if int(seq) >= len(s.items) {
		s.logger.Warn("ignoring out of range item request", "seq", seq, "items", len(s.items))
		return false, nil
	}

	wp := s.items[seq]
	err := s.link.Send(&ardupilotmega.MessageMissionItemInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             seq,
		Frame:           ardupilotmega.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		Command:         common.MAV_CMD_NAV_WAYPOINT,
		Autocontinue:    1,
		X:               int32(math.Round(wp.Lat * 1e7)),
		Y:               int32(math.Round(wp.Lon * 1e7)),
		Z:               float32(wp.Alt),
	})
	if err != nil {
		return false, fmt.Errorf("sending mission item %d: %w", seq, err)
	}

	s.sent++
	if int(seq) == len(s.items)-1 {
		s.phase = PhaseAwaitingFinalAck
	} else {
		s.phase = PhaseItemSent
	}
	s.logger.Debug("mission item sent", "seq", seq)
	return false, nil
}

// Upload is the one-shot convenience wrapper around a session.
func Upload(l Link, items []Waypoint, options ...func(*Session)) error {
	return NewSession(l, items, options...).Run()
}
