// Package mem stores chat memory events for later retrieval.
package mem

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const stream = "attach:mem:events"

// ErrNotReady is returned when no memory backend is configured or the
// backend cannot be reached. Surfaces as 503 on /mem/events.
var ErrNotReady = errors.New("memory backend not ready")

// Event is one remembered exchange.
type Event struct {
	User   string    `json:"user"`
	SID    string    `json:"sid"`
	Prompt string    `json:"prompt"`
	Answer string    `json:"answer"`
	TS     time.Time `json:"ts"`
}

// Store persists memory events. Write is fire-and-forget so proxy latency
// is unaffected.
type Store interface {
	Write(ctx context.Context, evt Event)
	Events(ctx context.Context, limit int) ([]Event, error)
}

// None drops writes and reports not-ready on reads.
type None struct{}

func (None) Write(context.Context, Event) {}

func (None) Events(context.Context, int) ([]Event, error) {
	return nil, ErrNotReady
}

// Redis appends events to a Redis stream.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Write(_ context.Context, evt Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{
				"user":   evt.User,
				"sid":    evt.SID,
				"prompt": evt.Prompt,
				"answer": evt.Answer,
				"ts":     strconv.FormatInt(evt.TS.UnixNano(), 10),
			},
		}).Err()
		if err != nil {
			log.Warn().Err(err).Msg("memory event write failed")
		}
	}()
}

func (s *Redis) Events(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, errors.Join(ErrNotReady, err)
	}

	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		evt := Event{
			User:   str(m.Values["user"]),
			SID:    str(m.Values["sid"]),
			Prompt: str(m.Values["prompt"]),
			Answer: str(m.Values["answer"]),
		}
		if ns, err := strconv.ParseInt(str(m.Values["ts"]), 10, 64); err == nil {
			evt.TS = time.Unix(0, ns)
		}
		events = append(events, evt)
	}
	return events, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
