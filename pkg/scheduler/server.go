package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mindshare-hq/callisto/pkg/guardian"
	"mindshare-hq/callisto/pkg/telemetry"
)

// Anomalist runs the post-hoc anomaly classifier. Implemented by
// *guardian.Guardian.
type Anomalist interface {
	Anomalies(ctx context.Context) ([]guardian.Anomaly, error)
}

// Server is the crawler's HTTP control plane.
type Server struct {
	sched     *Scheduler
	gate      Gate
	anomalist Anomalist
	metrics   *telemetry.Collector
	logger    *slog.Logger
}

// NewServer builds the control plane around a scheduler.
func NewServer(sched *Scheduler, gate Gate, anomalist Anomalist, metrics *telemetry.Collector) *Server {
	return &Server{
		sched:     sched,
		gate:      gate,
		anomalist: anomalist,
		metrics:   metrics,
		logger:    slog.Default().With("component", "http"),
	}
}

// Router wires the control-plane routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/anomalies", s.handleAnomalies)
	r.Post("/trigger", s.handleTrigger)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// healthResponse is the control-plane health shape. The guardian
// report rides along as detail.
type healthResponse struct {
	Status           string           `json:"status"`
	ProvidersEnabled int              `json:"providers_enabled"`
	ActiveRuns       int              `json:"active_runs"`
	Checks           []guardian.Check `json:"checks,omitempty"`
	Error            string           `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "healthy",
		ProvidersEnabled: s.sched.EnabledProviderCount(),
		ActiveRuns:       len(s.sched.ActiveRuns()),
	}
	report, err := s.gate.Preflight(r.Context())
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Checks = report.Checks
	code := http.StatusOK
	if !report.Healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sched.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.anomalist.Anomalies(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if anomalies == nil {
		anomalies = []guardian.Anomaly{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

type triggerRequest struct {
	Tier  string `json:"tier"`
	Limit int    `json:"limit"`
	Force bool   `json:"force"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Tier == "" {
		req.Tier = TierCheap
	}

	id, err := s.sched.Trigger(req.Tier, req.Limit, req.Force)
	switch {
	case errors.Is(err, ErrRunActive):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, guardian.ErrBlocked):
		s.writeError(w, http.StatusPreconditionFailed, err)
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Info("run triggered", "tier", req.Tier, "run_id", id, "force", req.Force)
		s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "tier": req.Tier})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sched.Cancel(id)
	switch {
	case errors.Is(err, ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"run_id": id, "state": "canceling"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
