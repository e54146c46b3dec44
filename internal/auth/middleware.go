package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/oidc"
)

type ctxKey string

const ctxSubject ctxKey = "sub"

// PublicPaths bypass authentication (and sessioning): client bootstrap and
// API documentation.
var PublicPaths = map[string]bool{
	"/auth/config":  true,
	"/docs":         true,
	"/redoc":        true,
	"/openapi.json": true,
}

// Middleware authenticates every non-public request with a Bearer JWT and
// attaches the subject to the request context.
func Middleware(a *oidc.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || PublicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeDetail(w, http.StatusUnauthorized, "Missing Bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			claims, err := a.Authenticate(r.Context(), token)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("token verification failed")
				writeDetail(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ctxSubject, claims.Subject)
			logger := log.Ctx(ctx).With().Str("sub", claims.Subject).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the authenticated subject, or "" before authentication.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(ctxSubject).(string); ok {
		return s
	}
	return ""
}

// WithSubject returns a context carrying sub. Used by tests and by handlers
// that re-dispatch requests internally.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxSubject, sub)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}
