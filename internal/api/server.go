// Package api exposes the ground station over HTTP: a JSON REST surface for
// commands and queries, and a websocket telemetry feed.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dronix/groundstation/internal/vehicle"
)

const broadcastInterval = 100 * time.Millisecond

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the HTTP adapter over the vehicle manager.
type Server struct {
	manager *vehicle.Manager
	bus     *Bus
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates the HTTP surface for manager.
func NewServer(manager *vehicle.Manager, options ...func(*Server)) *Server {
	s := Server{
		manager: manager,
		bus:     NewBus(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	s.routes()
	return &s
}

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/battery", s.handleBattery)
	mux.HandleFunc("GET /api/gps", s.handleGPS)
	mux.HandleFunc("GET /api/preflight", s.handlePreflight)
	mux.HandleFunc("GET /api/connection", s.handleConnection)

	mux.HandleFunc("POST /api/arm", s.handleArm)
	mux.HandleFunc("POST /api/disarm", s.handleDisarm)
	mux.HandleFunc("POST /api/takeoff", s.handleTakeoff)
	mux.HandleFunc("POST /api/land", s.handleLand)
	mux.HandleFunc("POST /api/rtl", s.handleRTL)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.HandleFunc("POST /api/goto", s.handleGoto)
	mux.HandleFunc("POST /api/emergency", s.handleEmergency)

	mux.HandleFunc("POST /api/rc/control", s.handleRCControl)
	mux.HandleFunc("POST /api/rc/reset", s.handleRCReset)
	mux.HandleFunc("GET /api/rc/values", s.handleRCValues)

	mux.HandleFunc("GET /api/param/{name}", s.handleGetParam)
	mux.HandleFunc("POST /api/param", s.handleSetParam)

	mux.HandleFunc("POST /api/mission/upload", s.handleMissionUpload)
	mux.HandleFunc("POST /api/mission/start", s.handleMissionStart)
	mux.HandleFunc("POST /api/mission/pause", s.handleMissionPause)
	mux.HandleFunc("POST /api/mission/resume", s.handleMissionResume)
	mux.HandleFunc("POST /api/mission/clear", s.handleMissionClear)

	s.mux = mux
}

// ServeHTTP implements http.Handler with request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

// Broadcast pushes telemetry snapshots onto the bus at a fixed rate while
// any websocket client is connected. It blocks until ctx is cancelled.
func (s *Server) Broadcast(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.bus.Len() == 0 {
				continue
			}

			ctrl, err := s.manager.Controller()
			if err != nil {
				continue
			}
			s.bus.Publish(ctrl.Telemetry())
		}
	}
}

// controller resolves the active backend, answering 503 when none is
// attached. The bool reports whether the request can proceed.
func (s *Server) controller(w http.ResponseWriter) (vehicle.Controller, bool) {
	ctrl, err := s.manager.Controller()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return ctrl, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON request body, answering 400 on malformed input.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// result answers a command outcome: 200 with success true, or 409 when the
// vehicle refused.
func result(w http.ResponseWriter, action string, ok bool) {
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "action": action})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "action": action})
}
