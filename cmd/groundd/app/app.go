// Package app wires the ground station together: the vehicle manager with
// its supervisor loop, the flight-log recorder and the HTTP server, all torn
// down on context cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dronix/groundstation/internal/api"
	"github.com/dronix/groundstation/internal/storage"
	"github.com/dronix/groundstation/internal/telemetry"
	"github.com/dronix/groundstation/internal/vehicle"
)

const shutdownTimeout = 5 * time.Second

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	manager := vehicle.NewManager(config.Vehicle.Device, config.Vehicle.BaudRate,
		vehicle.WithManagerLogger(logger),
		vehicle.WithProbeInterval(seconds(config.Vehicle.ProbeInterval)),
		vehicle.WithSimFallback(config.Vehicle.SimFallback == nil || *config.Vehicle.SimFallback),
	)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("attaching vehicle: %w", err)
	}

	info, err := manager.Info()
	if err != nil {
		return fmt.Errorf("reading vehicle info: %w", err)
	}
	logger.Info("vehicle attached", "device", info.Device, "simulated", info.Simulated)

	store := storage.New(config.Storage.Database)
	defer store.Close()

	sessionID, err := store.CreateSession(ctx, info.Device, info.Simulated, config.Vehicle)
	if err != nil {
		return fmt.Errorf("creating flight session: %w", err)
	}

	recorder := storage.NewRecorder(store, sessionID, snapshotFrom(manager),
		storage.WithSampleInterval(seconds(config.Storage.SampleInterval)),
		storage.WithBatchSize(config.Storage.MaxBatchSize),
		storage.WithRecorderLogger(logger),
	)

	server := api.NewServer(manager, api.WithLogger(logger))
	httpServer := &http.Server{
		Addr:    config.Server.Listen,
		Handler: server,
	}

	errs := make(chan error, 1)

	go manager.Run(ctx)
	go server.Broadcast(ctx)
	go func() {
		if err := recorder.Run(ctx); err != nil {
			errs <- fmt.Errorf("flight recorder: %w", err)
		}
	}()
	go func() {
		logger.Info("http server listening", "addr", config.Server.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping http server: %w", err)
	}

	return nil
}

// snapshotFrom adapts the manager to the recorder's sampling func.
func snapshotFrom(manager *vehicle.Manager) storage.SnapshotFunc {
	return func() (telemetry.Snapshot, error) {
		ctrl, err := manager.Controller()
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		return ctrl.Telemetry(), nil
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
