// Package server provides the HTTP status surface for the recognizer: run
// registry queries, a live prediction feed over WebSocket and an MJPEG
// preview of overlaid frames.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Store *store.Store
}

// Server is the HTTP server for the recognizer's status surface.
type Server struct {
	config      Config
	mux         *http.ServeMux
	start       time.Time
	Predictions *PredictionsHandler
	Preview     *PreviewHandler
}

// New creates a Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config:      config,
		mux:         http.NewServeMux(),
		start:       time.Now(),
		Predictions: NewPredictionsHandler(),
		Preview:     NewPreviewHandler(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/predictions", s.Predictions)
	s.mux.Handle("/api/preview", s.Preview)

	if s.config.Store != nil {
		s.mux.HandleFunc("/api/runs", s.handleRuns)
		s.mux.HandleFunc("/api/runs/", s.handleRunDetail)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleRuns handles GET requests to /api/runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runs, err := s.config.Store.Runs().List()
	if err != nil {
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

// handleRunDetail handles GET /api/runs/{id} and GET /api/runs/{id}/metrics.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	switch tail {
	case "":
		run, err := s.config.Store.Runs().GetByID(id)
		if err != nil {
			if err == store.ErrNotFound {
				http.Error(w, "Run not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load run", http.StatusInternalServerError)
			return
		}
		writeJSON(w, run)
	case "metrics":
		metrics, err := s.config.Store.Runs().EpochMetrics(id)
		if err != nil {
			http.Error(w, "Failed to load metrics", http.StatusInternalServerError)
			return
		}
		writeJSON(w, metrics)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
