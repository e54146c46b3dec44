package tasks

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/session"
)

var errNonJSONResponse = errors.New("target returned a non-JSON body")

// Send implements POST /a2a/tasks/send.
func (r *Registry) Send(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Input     json.RawMessage `json:"input"`
		TargetURL string          `json:"target_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Input == nil {
		writeDetail(w, http.StatusBadRequest, "payload must contain an 'input' field")
		return
	}

	task := r.Create()

	// JWT is mandatory, session optional; nothing else is forwarded.
	headers := make(map[string]string, 2)
	if v := req.Header.Get("Authorization"); v != "" {
		headers["Authorization"] = v
	}
	if sid := session.FromContext(req.Context()); sid != "" {
		headers[session.Header] = sid[:16]
	}

	go r.Forward(task.ID, body.Input, body.TargetURL, headers)
	go r.EvictExpired()

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": task.ID,
		"state":   string(StateQueued),
	})
}

// Status implements GET /a2a/tasks/status/{id}.
func (r *Registry) Status(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	task, ok := r.Get(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
