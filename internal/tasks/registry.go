// Package tasks tracks asynchronously forwarded chat requests.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State of a task. queued is initial, in_progress transient, done and error
// terminal. No backward transitions.
type State string

const (
	StateQueued     State = "queued"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
	StateError      State = "error"
)

// Task is one registered forwarded request.
type Task struct {
	ID      string          `json:"task_id"`
	State   State           `json:"state"`
	Result  json.RawMessage `json:"result"`
	Created time.Time       `json:"created_at"`
}

// Registry is the in-process task table.
type Registry struct {
	TargetURL string        // default forward target (local /api/chat)
	Timeout   time.Duration // forwarder deadline
	TTL       time.Duration // eviction age

	client *http.Client

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry creates a table forwarding to targetURL by default.
func NewRegistry(targetURL string) *Registry {
	r := &Registry{
		TargetURL: targetURL,
		Timeout:   60 * time.Second,
		TTL:       time.Hour,
		tasks:     make(map[string]*Task),
	}
	r.client = &http.Client{Timeout: r.Timeout}
	return r
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a queued task and returns it.
func (r *Registry) Create() *Task {
	t := &Task{ID: newTaskID(), State: StateQueued, Created: time.Now()}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	return t
}

// Get returns a copy of the task, or false if unknown or evicted.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (r *Registry) transition(id string, state State, result json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = state
		if result != nil {
			t.Result = result
		}
	}
}

// Forward posts input to target (or the registry default) and records the
// outcome. Runs on its own goroutine; errors land in the task record, never
// on a client connection.
func (r *Registry) Forward(id string, input json.RawMessage, target string, headers map[string]string) {
	if target == "" {
		target = r.TargetURL
	}
	r.transition(id, StateInProgress, nil)

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	result, err := r.post(ctx, target, input, headers)
	if err != nil {
		log.Warn().Err(err).Str("task_id", id).Msg("task forward failed")
		detail, _ := json.Marshal(map[string]string{"detail": err.Error()})
		r.transition(id, StateError, detail)
		return
	}
	r.transition(id, StateDone, result)
}

func (r *Registry) post(ctx context.Context, target string, input json.RawMessage, headers map[string]string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errNonJSONResponse
	}
	return body, nil
}

// EvictExpired removes tasks older than TTL. Scheduled after each Create.
func (r *Registry) EvictExpired() {
	cutoff := time.Now().Add(-r.TTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.Created.Before(cutoff) {
			delete(r.tasks, id)
		}
	}
}
