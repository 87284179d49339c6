// Package storage persists flight sessions and sampled telemetry to sqlite.
// Writes go through a WAL connection opened lazily on first use; reads use a
// separate read-only connection so queries never contend with the recorder.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dronix/groundstation/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (device, simulated, config)
VALUES (?, ?, ?)`

	insertTelemetrySQL = `
INSERT INTO telemetry (
    session_id, timestamp, connected, armed, mode,
    altitude, speed, climb_rate,
    latitude, longitude, satellites, fix_type,
    voltage, current, battery_remaining,
    roll, pitch, yaw
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	countTelemetrySQL = `
SELECT COUNT(*) FROM telemetry WHERE session_id = ?`
)

// Sample is one recorded telemetry row.
type Sample struct {
	Timestamp time.Time
	Snapshot  telemetry.Snapshot
}

// Store handles database operations.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the sqlite database at dbPath. Connections
// are opened lazily.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The write connection creates the schema before any read.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession records the start of a flight session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, device string, simulated bool, config any) (sessionID int64, err error) {
	var configData sql.NullString
	if config != nil {
		var p []byte
		if p, err = json.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}
		configData.Valid = true
		configData.String = string(p)
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, device, simulated, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// StoreSamples writes a batch of telemetry rows in one transaction.
func (s *Store) StoreSamples(ctx context.Context, sessionID int64, samples []Sample) (err error) {
	if len(samples) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		rollbackWithError(tx, &err)
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for i := range samples {
		snap := &samples[i].Snapshot
		_, err = stmt.ExecContext(ctx,
			sessionID, samples[i].Timestamp.UTC(),
			snap.Connected, snap.Armed, snap.Mode,
			snap.Altitude, snap.Speed, snap.ClimbRate,
			snap.GPS.Lat, snap.GPS.Lon, snap.GPS.Satellites, snap.GPS.FixType,
			snap.Battery.Voltage, snap.Battery.Current, snap.Battery.Remaining,
			snap.Attitude.Roll, snap.Attitude.Pitch, snap.Attitude.Yaw,
		)
		if err != nil {
			rollbackWithError(tx, &err)
			return fmt.Errorf("inserting telemetry row: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CountSamples reports how many telemetry rows a session holds.
func (s *Store) CountSamples(ctx context.Context, sessionID int64) (count int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, countTelemetrySQL, sessionID).Scan(&count); err != nil {
		err = fmt.Errorf("counting telemetry rows: %w", err)
	}
	return
}

// Close closes the database connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.writeDB != nil {
			s.closeErr = s.writeDB.Close()
		}
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
