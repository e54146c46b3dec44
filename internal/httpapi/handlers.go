package httpapi

import (
	"errors"
	"net/http"

	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/metrics"
)

// AuthConfig returns the client bootstrap: enough to start an OIDC login.
func (s *Server) AuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"domain":    s.Cfg.Auth0Domain,
		"client_id": s.Cfg.Auth0Client,
		"audience":  s.Cfg.OIDCAud,
	})
}

// MetricsSnapshot serves the JSON counters on /v1/metrics. Memory-backed
// deployments report zeros.
func (s *Server) MetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Read(r.Context(), s.Redis))
}

// MemEvents lists recent memory events, newest first.
func (s *Server) MemEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	events, err := s.Mem.Events(r.Context(), limit)
	if err != nil {
		if errors.Is(err, mem.ErrNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "memory backend not ready"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
