// Package httpapi mounts the gateway's middleware chain and endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/auth"
	"github.com/attach-dev/attach-gateway/internal/config"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/oidc"
	"github.com/attach-dev/attach-gateway/internal/proxy"
	"github.com/attach-dev/attach-gateway/internal/quota"
	"github.com/attach-dev/attach-gateway/internal/session"
	"github.com/attach-dev/attach-gateway/internal/tasks"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	Cfg   *config.Config
	Auth  *oidc.Authenticator
	Quota *quota.Middleware
	Tasks *tasks.Registry
	Proxy *proxy.Handler
	Mem   mem.Store
	Redis *redis.Client // nil with memory backends
}

// Routes builds the full handler chain: CORS outermost, then
// auth -> session -> quota, then the endpoint table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(auth.Middleware(s.Auth))
	r.Use(session.Middleware)
	r.Use(s.Quota.Handler)

	// Public bootstrap and documentation (auth bypass via allow-list).
	r.Get("/auth/config", s.AuthConfig)
	r.Get("/docs", s.Docs)
	r.Get("/redoc", s.Redoc)
	r.Get("/openapi.json", s.OpenAPI)

	// Chat dispatch.
	r.Post("/api/chat", s.Proxy.Chat)

	// Async task registry.
	r.Route("/a2a", func(r chi.Router) {
		r.Post("/tasks/send", s.Tasks.Send)
		r.Get("/tasks/status/{id}", s.Tasks.Status)
	})

	// Observability.
	r.Get("/v1/metrics", s.MetricsSnapshot)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/mem/events", s.MemEvents)

	// Everything else relays to the engine.
	r.NotFound(s.Proxy.Passthrough)

	log.Info().Msg("HTTP routes registered")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.Cfg.CORSOrigins,
		AllowedMethods:   []string{"*"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max.
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
