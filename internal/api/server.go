// Package api exposes the crawler's status HTTP interface: liveness,
// Prometheus metrics, and a live snapshot of the current run's counters.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/record"
)

// Server wires the status routes over the run's shared counters.
type Server struct {
	router chi.Router
	stats  *record.RunStats
	runID  string
	site   string
	start  time.Time
	logger *zap.Logger
}

// NewServer constructs a Server reporting on the given run.
func NewServer(stats *record.RunStats, runID, site string, logger *zap.Logger) *Server {
	s := &Server{
		stats:  stats,
		runID:  runID,
		site:   site,
		start:  time.Now(),
		logger: logger,
	}
	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/progress", s.progress)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type progressResponse struct {
	RunID   string                  `json:"run_id"`
	Site    string                  `json:"site"`
	Uptime  string                  `json:"uptime"`
	Counter record.RunStatsSnapshot `json:"counters"`
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, progressResponse{
		RunID:   s.runID,
		Site:    s.site,
		Uptime:  time.Since(s.start).Round(time.Second).String(),
		Counter: s.stats.Snapshot(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("writing status response", zap.Error(err))
	}
}
