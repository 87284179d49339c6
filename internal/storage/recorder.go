package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dronix/groundstation/internal/telemetry"
)

const (
	defaultSampleInterval = time.Second
	defaultBatchSize      = 30
)

// SnapshotFunc supplies the current telemetry for sampling.
type SnapshotFunc func() (telemetry.Snapshot, error)

// WithSampleInterval sets how often the recorder samples telemetry.
func WithSampleInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.interval = d
	}
}

// WithBatchSize sets how many samples are buffered between flushes.
func WithBatchSize(n int) func(*Recorder) {
	return func(r *Recorder) {
		r.batchSize = n
	}
}

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// Recorder samples telemetry into a session at a fixed rate, flushing in
// batches so each flush is a single transaction.
type Recorder struct {
	store     *Store
	sessionID int64
	snapshot  SnapshotFunc
	logger    *slog.Logger

	interval  time.Duration
	batchSize int

	pending []Sample
	total   int64
}

// NewRecorder creates a recorder feeding sessionID from snapshot.
func NewRecorder(store *Store, sessionID int64, snapshot SnapshotFunc, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:     store,
		sessionID: sessionID,
		snapshot:  snapshot,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  defaultSampleInterval,
		batchSize: defaultBatchSize,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run samples until ctx is cancelled, then flushes what is buffered.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("flight recording started", "session", r.sessionID, "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			if err := r.flush(context.Background()); err != nil {
				return err
			}
			r.logger.Info("flight recording stopped",
				"session", r.sessionID, "samples", humanize.Comma(r.total))
			return nil

		case now := <-ticker.C:
			snap, err := r.snapshot()
			if err != nil {
				r.logger.Warn("sampling telemetry", "error", err)
				continue
			}

			r.pending = append(r.pending, Sample{Timestamp: now, Snapshot: snap})
			if len(r.pending) < r.batchSize {
				continue
			}

			if err := r.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}

	if err := r.store.StoreSamples(ctx, r.sessionID, r.pending); err != nil {
		return fmt.Errorf("flushing %d samples: %w", len(r.pending), err)
	}

	r.total += int64(len(r.pending))
	r.logger.Debug("telemetry batch stored",
		"session", r.sessionID, "batch", len(r.pending), "total", humanize.Comma(r.total))
	r.pending = r.pending[:0]
	return nil
}
