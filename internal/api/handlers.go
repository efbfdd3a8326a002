package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"energy-monitor/internal/analyzer"
	"energy-monitor/internal/model"
)

const defaultWindowHours = 24

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.store.Devices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hours := queryHours(r)
	to := time.Now()
	rows, err := s.store.Readings(r.Context(), id, to.Add(-time.Duration(hours)*time.Hour), to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []model.Reading{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDeviceAnalysis(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rep, err := s.analyzer.Analyze(r.Context(), id, time.Duration(queryHours(r))*time.Hour)
	if errors.Is(err, analyzer.ErrUnknownDevice) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleSystemAnalysis(w http.ResponseWriter, r *http.Request) {
	rep, err := s.analyzer.Analyze(r.Context(), analyzer.ScopeSystem, time.Duration(queryHours(r))*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	dr, ok := s.analyzer.(analyzer.DailyReporter)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "daily reports not supported"})
		return
	}
	day := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, time.Local)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	rep, err := dr.DailyReport(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type calibrateRequest struct {
	KnownWatts float64 `json:"known_watts"`
	Samples    int     `json:"samples"`
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "collector not attached"})
		return
	}
	id := mux.Vars(r)["id"]
	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if req.KnownWatts <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "known_watts must be positive"})
		return
	}
	factor, err := s.collector.Calibrate(r.Context(), id, req.Samples, req.KnownWatts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rules, ok := s.analyzer.(*analyzer.Rules); ok {
		rules.InvalidateCache()
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "calibration_factor": factor})
}

func queryHours(r *http.Request) int {
	if q := r.URL.Query().Get("hours"); q != "" {
		if h, err := strconv.Atoi(q); err == nil && h > 0 {
			return h
		}
	}
	return defaultWindowHours
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
