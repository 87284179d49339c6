package api

import (
	"net/http"
	"strings"

	"github.com/dronix/groundstation/internal/copter"
	"github.com/dronix/groundstation/internal/mission"
	"github.com/dronix/groundstation/internal/rc"
)

const (
	minTakeoffAlt = 2.0
	maxTakeoffAlt = 100.0
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": "groundstation", "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Telemetry())
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Battery())
}

func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.GPS())
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Preflight())
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.Info()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	if ctrl.Status().Armed && !req.Force {
		writeError(w, http.StatusConflict, "vehicle is already armed")
		return
	}
	result(w, "arm", ctrl.Arm())
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	result(w, "disarm", ctrl.Disarm(req.Force))
}

func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Alt float64 `json:"alt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Alt < minTakeoffAlt || req.Alt > maxTakeoffAlt {
		writeError(w, http.StatusBadRequest, "takeoff altitude must be between 2 and 100 metres")
		return
	}
	result(w, "takeoff", ctrl.Takeoff(req.Alt))
}

func (s *Server) handleLand(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "land", ctrl.Land())
}

func (s *Server) handleRTL(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "rtl", ctrl.RTL())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if _, known := copter.ModeID(req.Mode); !known {
		writeError(w, http.StatusBadRequest, "unknown mode, valid modes: "+strings.Join(copter.Modes(), ", "))
		return
	}
	result(w, "mode", ctrl.SetMode(req.Mode))
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !ctrl.Status().Armed {
		writeError(w, http.StatusConflict, "vehicle must be armed to reposition")
		return
	}
	result(w, "goto", ctrl.Goto(req.Lat, req.Lon, req.Alt))
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	switch strings.ToUpper(req.Action) {
	case "", "STOP":
		result(w, "emergency_stop", ctrl.EmergencyStop())
	case "RTL":
		result(w, "emergency_rtl", ctrl.RTL())
	case "LAND":
		result(w, "emergency_land", ctrl.Land())
	case "KILL":
		result(w, "emergency_kill", ctrl.Disarm(true))
	default:
		writeError(w, http.StatusBadRequest, "unknown emergency action, expected STOP, RTL, LAND or KILL")
	}
}

func (s *Server) handleRCControl(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req rc.Input
	if !decode(w, r, &req) {
		return
	}

	ctrl.SetRC(req)
	writeJSON(w, http.StatusOK, ctrl.RCValues())
}

func (s *Server) handleRCReset(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	ctrl.ResetRC()
	writeJSON(w, http.StatusOK, ctrl.RCValues())
}

func (s *Server) handleRCValues(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.RCValues())
}

func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	p, err := ctrl.GetParam(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Name  string  `json:"param_id"`
		Value float64 `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "param_id is required")
		return
	}

	p, err := ctrl.SetParam(req.Name, req.Value)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMissionUpload(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}

	var req struct {
		Waypoints []mission.Waypoint `json:"waypoints"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.Waypoints) == 0 {
		writeError(w, http.StatusBadRequest, "at least one waypoint is required")
		return
	}

	if err := ctrl.UploadMission(req.Waypoints); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "items": len(req.Waypoints)})
}

func (s *Server) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "mission_start", ctrl.StartMission())
}

func (s *Server) handleMissionPause(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "mission_pause", ctrl.PauseMission())
}

func (s *Server) handleMissionResume(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "mission_resume", ctrl.ResumeMission())
}

func (s *Server) handleMissionClear(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w)
	if !ok {
		return
	}
	result(w, "mission_clear", ctrl.ClearMission())
}
