// Package session derives a stable per-(user, client) session identifier and
// exposes it to downstream handlers and to the client.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

// Header carries the truncated session id on every authenticated response.
const Header = "X-Attach-Session"

type ctxKey string

const ctxSessionID ctxKey = "sid"

// ID computes the session id for a subject and user agent. Deterministic:
// the same pair always maps to the same id.
func ID(sub, userAgent string) string {
	sum := sha256.Sum256([]byte(sub + ":" + userAgent))
	return hex.EncodeToString(sum[:])
}

// Middleware attaches the session id to the request context and sets the
// truncated id on the response. Must run after auth.Middleware.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || auth.PublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		sub := auth.Subject(r.Context())
		if sub == "" {
			// Should not happen behind auth.Middleware; 401 beats a panic.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if err := json.NewEncoder(w).Encode(map[string]string{"detail": "Unauthenticated"}); err != nil {
				log.Error().Err(err).Msg("failed to encode error response")
			}
			return
		}

		sid := ID(sub, r.UserAgent())
		ctx := context.WithValue(r.Context(), ctxSessionID, sid)

		// Truncated on the wire, full digest in the context.
		w.Header().Set(Header, sid[:16])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the full session id, or "" outside the middleware.
func FromContext(ctx context.Context) string {
	if sid, ok := ctx.Value(ctxSessionID).(string); ok {
		return sid
	}
	return ""
}

// WithID returns a context carrying sid; used by tests.
func WithID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ctxSessionID, sid)
}
