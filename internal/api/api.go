// Package api exposes the monitor over HTTP: device inventory, raw readings,
// analysis reports, calibration and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"energy-monitor/internal/analyzer"
	"energy-monitor/internal/collector"
	"energy-monitor/internal/store"
)

// Server wires the store, analyzer and collector behind the HTTP routes.
type Server struct {
	store     *store.Store
	analyzer  analyzer.Analyzer
	collector *collector.Collector
}

func NewServer(st *store.Store, an analyzer.Analyzer, col *collector.Collector) *Server {
	return &Server{store: st, analyzer: an, collector: col}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}/readings", s.handleReadings).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}/analysis", s.handleDeviceAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	r.HandleFunc("/api/analysis", s.handleSystemAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/api/report/daily", s.handleDailyReport).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
