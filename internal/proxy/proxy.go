// Package proxy dispatches chat requests: cache hit, deferred queue, or a
// streamed relay to the upstream engine.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/auth"
	"github.com/attach-dev/attach-gateway/internal/cache"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/queue"
	"github.com/attach-dev/attach-gateway/internal/session"
)

const completionsPath = "/v1/chat/completions"

// Handler owns the /api/chat dispatcher and the catch-all passthrough.
type Handler struct {
	EngineURL     string
	EngineTimeout time.Duration
	Cache         cache.Cache
	Queue         queue.Queue
	QueueShared   bool
	Mem           mem.Store

	// Client relays streaming responses; it must not carry a wall-clock
	// timeout because streams are unbounded.
	Client *http.Client
}

// NewHandler wires a dispatcher against the configured engine.
func NewHandler(engineURL string, engineTimeout time.Duration, c cache.Cache, q queue.Queue, queueShared bool, m mem.Store) *Handler {
	return &Handler{
		EngineURL:     strings.TrimRight(engineURL, "/"),
		EngineTimeout: engineTimeout,
		Cache:         c,
		Queue:         q,
		QueueShared:   queueShared,
		Mem:           m,
		Client:        &http.Client{},
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []any          `json:"messages"`
	Params   map[string]any `json:"params"`
	Stream   *bool          `json:"stream"`
}

func (r chatRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Chat implements POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Body must be valid JSON")
		return
	}

	var body chatRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Body must be valid JSON")
		return
	}

	fp := cache.Fingerprint(body.Model, body.Messages, body.Params)

	if hit, ok, err := h.Cache.Get(r.Context(), fp); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("cache lookup failed")
	} else if ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(hit)
		return
	}

	if h.QueueShared {
		job := queue.NewJob(raw, forwardHeaders(r))
		if err := h.Queue.Put(r.Context(), job); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("enqueue failed")
			writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID, "status": "queued"})
		return
	}

	upstreamURL := h.EngineURL + completionsPath
	if body.streaming() {
		h.stream(w, r, upstreamURL, raw)
		return
	}
	h.buffered(w, r, upstreamURL, raw, fp, body)
}

// buffered performs a non-streaming upstream call, fills the cache on
// success and returns the body verbatim.
func (h *Handler) buffered(w http.ResponseWriter, r *http.Request, url string, raw []byte, fp string, body chatRequest) {
	ctx := r.Context()
	if h.EngineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.EngineTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	setForwardHeaders(req, r)

	resp, err := h.Client.Do(req)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("upstream call failed")
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("upstream body read failed")
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}

	copyUpstreamHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := h.Cache.Set(r.Context(), fp, respBody); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("cache fill failed")
		}
		h.remember(r, body, respBody)
	}
}

// stream relays upstream bytes as they arrive. The request context cancels
// the upstream call when the client disconnects. Streamed responses are not
// cached.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, url string, raw []byte) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	setForwardHeaders(req, r)

	resp, err := h.Client.Do(req)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("upstream call failed")
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	defer resp.Body.Close()

	copyUpstreamHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	relay(w, resp.Body)
}

// relay copies body to w chunk by chunk, flushing after each write so bytes
// reach the client in arrival order without buffering.
func relay(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("upstream stream ended abnormally")
			}
			return
		}
	}
}

// Passthrough relays any other authenticated request to the engine,
// preserving method, path and query.
func (h *Handler) Passthrough(w http.ResponseWriter, r *http.Request) {
	url := h.EngineURL + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	setForwardHeaders(req, r)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("passthrough call failed")
		writeDetail(w, http.StatusBadGateway, "upstream chat engine error")
		return
	}
	defer resp.Body.Close()

	copyUpstreamHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	relay(w, resp.Body)
}

// remember emits a fire-and-forget memory event for a completed exchange.
func (h *Handler) remember(r *http.Request, body chatRequest, respBody []byte) {
	if h.Mem == nil {
		return
	}
	prompt := ""
	if len(body.Messages) > 0 {
		if m, ok := body.Messages[len(body.Messages)-1].(map[string]any); ok {
			prompt, _ = m["content"].(string)
		}
	}
	h.Mem.Write(r.Context(), mem.Event{
		User:   auth.Subject(r.Context()),
		SID:    session.FromContext(r.Context()),
		Prompt: prompt,
		Answer: string(respBody),
		TS:     time.Now(),
	})
}

// forwardHeaders collects the headers a deferred job carries to the worker.
// Hop-by-hop headers are dropped; only Authorization and the session survive.
func forwardHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, 2)
	if v := r.Header.Get("Authorization"); v != "" {
		headers["Authorization"] = v
	}
	if sid := session.FromContext(r.Context()); sid != "" {
		headers[session.Header] = sid[:16]
	}
	return headers
}

func setForwardHeaders(req *http.Request, r *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if v := r.Header.Get("Authorization"); v != "" {
		req.Header.Set("Authorization", v)
	}
}

// copyUpstreamHeaders passes through the response headers that matter to
// clients; X-LLM-Model additionally feeds the quota middleware's usage draft.
func copyUpstreamHeaders(w http.ResponseWriter, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if model := resp.Header.Get("X-LLM-Model"); model != "" {
		w.Header().Set("X-LLM-Model", model)
	}
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}
