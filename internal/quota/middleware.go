package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/usage"
)

// ModelHeader is set by the proxy when the upstream names the model that
// served the request.
const ModelHeader = "X-LLM-Model"

// monitoringPrefixes skip metering entirely: scrapes and bootstrap calls
// must not burn user budget.
var monitoringPrefixes = []string{"/metrics", "/mem/events", "/auth/config"}

func isMonitoringPath(path string) bool {
	for _, p := range monitoringPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware meters request and response bodies against a per-user sliding
// window and emits one usage event per request.
type Middleware struct {
	Store     MeterStore
	Counter   Counter
	Sink      usage.Sink
	MaxTokens int
	Window    time.Duration
	MaxBody   int64
}

// Handler wraps next with quota enforcement. The request body is read here
// exactly once and re-materialised for downstream handlers.
func (q *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMonitoringPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		draft := &usage.Event{
			User:      meterUser(r),
			Project:   headerOr(r, "X-Attach-Project", "default"),
			Model:     "unknown",
			RequestID: headerOr(r, "X-Request-Id", ""),
		}
		if draft.RequestID == "" {
			draft.RequestID = uuid.NewString()
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, q.MaxBody))
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("failed to read request body")
		}
		r.Body.Close()

		if isTextual(r.Header.Get("Content-Type")) {
			draft.TokensIn = q.Counter.Count(string(body))
		}

		total, oldest, err := q.Store.Increment(r.Context(), draft.User, draft.TokensIn)
		if err != nil {
			// Fail open: a broken meter backend must not take the gateway down.
			log.Ctx(r.Context()).Error().Err(err).Msg("meter store increment failed")
		} else if total > q.MaxTokens {
			q.reject(r.Context(), w, draft, oldest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		mw := &meteredWriter{ResponseWriter: w, q: q, r: r, draft: draft}
		next.ServeHTTP(mw, r)
		mw.finish()
	})
}

func meterUser(r *http.Request) string {
	if u := r.Header.Get("X-Attach-User"); u != "" {
		return u
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func headerOr(r *http.Request, name, def string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	return def
}

// reject finalises the draft and answers 429 with the retry hint derived
// from the oldest sample still in the window.
func (q *Middleware) reject(ctx context.Context, w http.ResponseWriter, draft *usage.Event, oldest time.Time) {
	draft.Timestamp = time.Now()
	q.Sink.Record(ctx, *draft)

	retryAfter := int(q.Window.Seconds() - time.Since(oldest).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"detail":      "token quota exceeded",
		"retry_after": retryAfter,
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode quota rejection")
	}
}

// meteredWriter counts response chunks against the window. It defers the
// status line until the first body write so an overflow on the first chunk
// can still be answered with 429; once bytes have gone out, an overflow only
// truncates the stream (single-writer rule).
type meteredWriter struct {
	http.ResponseWriter
	q     *Middleware
	r     *http.Request
	draft *usage.Event

	status     int
	headerSeen bool // handler called WriteHeader
	headerSent bool // status line committed to the wire
	textual    bool
	truncated  bool
	rejected   bool
	emitted    bool
}

func (m *meteredWriter) WriteHeader(code int) {
	if m.headerSeen {
		return
	}
	m.headerSeen = true
	m.status = code
	m.textual = isTextual(m.Header().Get("Content-Type"))
	if model := m.Header().Get(ModelHeader); model != "" {
		m.draft.Model = model
	}
}

func (m *meteredWriter) Write(p []byte) (int, error) {
	if m.truncated || m.rejected {
		// Stream is over for the client; swallow the rest.
		return len(p), nil
	}
	if !m.headerSeen {
		m.WriteHeader(http.StatusOK)
	}

	count := 0
	if m.textual {
		count = m.q.Counter.Count(string(p))
	}

	total, oldest, err := m.q.Store.Increment(m.r.Context(), m.draft.User, count)
	if err != nil {
		log.Ctx(m.r.Context()).Error().Err(err).Msg("meter store increment failed")
	} else if total > m.q.MaxTokens {
		if !m.headerSent {
			// Nothing on the wire yet: the 429 may still own the response.
			m.rejected = true
			m.draft.TokensOut += count
			m.emitted = true
			m.q.reject(m.r.Context(), m.ResponseWriter, m.draft, oldest)
			return len(p), nil
		}
		// Mid-stream: truncate cleanly, never tear down the connection.
		m.truncated = true
		return len(p), nil
	}

	m.draft.TokensOut += count

	if !m.headerSent {
		m.headerSent = true
		m.ResponseWriter.WriteHeader(m.status)
	}
	return m.ResponseWriter.Write(p)
}

// Flush forwards flushes once the response has been committed, so streaming
// handlers keep their per-chunk delivery.
func (m *meteredWriter) Flush() {
	if !m.headerSent {
		return
	}
	if f, ok := m.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// finish commits a header-only response and emits the draft exactly once.
func (m *meteredWriter) finish() {
	if m.headerSeen && !m.headerSent && !m.rejected {
		m.headerSent = true
		m.ResponseWriter.WriteHeader(m.status)
	}
	if m.emitted {
		return
	}
	m.emitted = true
	m.draft.Timestamp = time.Now()
	m.q.Sink.Record(m.r.Context(), *m.draft)
}
