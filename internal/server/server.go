// Package server exposes the subsystem's HTTP surface: the cache
// health endpoint, the authenticated manual refresh trigger, and
// Prometheus metrics.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/perswall/site-cache/pkg/diagnostics"
	"github.com/perswall/site-cache/pkg/logging"
	"github.com/perswall/site-cache/pkg/scheduler"
)

// Server wires the HTTP handlers.
type Server struct {
	reporter     *diagnostics.Reporter
	sched        *scheduler.Scheduler
	trackedKeys  []string
	refreshToken string
	logger       zerolog.Logger
}

// New creates the server. refreshToken is the shared secret for the
// manual trigger endpoint; an empty token disables it.
func New(reporter *diagnostics.Reporter, sched *scheduler.Scheduler, trackedKeys []string, refreshToken string) *Server {
	return &Server{
		reporter:     reporter,
		sched:        sched,
		trackedKeys:  trackedKeys,
		refreshToken: refreshToken,
		logger:       logging.NewLogger("server"),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz/cache", s.handleCacheHealth)
	r.Get("/status/jobs", s.handleJobStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/refresh/{job}", s.requireToken(s.handleRefresh))

	return r
}

// handleCacheHealth reports per-tracked-key population and an aggregate
// flag. Missing keys answer 503 so platform probes notice.
func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	report := s.reporter.Health(r.Context(), s.trackedKeys)

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// handleJobStatus exposes scheduler snapshots for operators.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	type jobStatus struct {
		Name        string `json:"name"`
		State       string `json:"state"`
		NextFire    string `json:"next_fire"`
		LastSuccess string `json:"last_success,omitempty"`
		LastFailure string `json:"last_failure,omitempty"`
		LastError   string `json:"last_error,omitempty"`
	}

	statuses := s.sched.Status()
	out := make([]jobStatus, 0, len(statuses))
	for _, st := range statuses {
		js := jobStatus{
			Name:      st.Name,
			State:     string(st.State),
			NextFire:  st.NextFire.UTC().Format("2006-01-02T15:04:05Z"),
			LastError: st.LastError,
		}
		if !st.LastSuccess.IsZero() {
			js.LastSuccess = st.LastSuccess.UTC().Format("2006-01-02T15:04:05Z")
		}
		if !st.LastFailure.IsZero() {
			js.LastFailure = st.LastFailure.UTC().Format("2006-01-02T15:04:05Z")
		}
		out = append(out, js)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRefresh force-runs a named job, bypassing its cadence but not
// its run lock.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	err := s.sched.Trigger(name)
	switch {
	case err == nil:
		s.logger.Info().Str("job", name).Msg("Manual refresh accepted")
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "accepted"})
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job: " + name})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already running: " + name})
	default:
		s.logger.Error().Err(err).Str("job", name).Msg("Manual refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "trigger failed"})
	}
}

// requireToken guards an endpoint with a shared-secret bearer token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.refreshToken == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "manual refresh disabled"})
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.refreshToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
