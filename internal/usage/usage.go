// Package usage records finalised per-request token accounting.
package usage

import (
	"context"
	"time"
)

// Event is one finalised usage record. Produced exactly once per metered
// request, including rejections.
type Event struct {
	User      string    `json:"user"`
	Project   string    `json:"project"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Model     string    `json:"model"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"ts"`
}

// Sink consumes usage events. Implementations are best-effort: failures are
// logged and swallowed, never surfaced to the request path.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

// Null drops every event.
type Null struct{}

func (Null) Record(context.Context, Event) {}
