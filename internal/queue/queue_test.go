package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	first := NewJob(json.RawMessage(`{"n":1}`), nil)
	second := NewJob(json.RawMessage(`{"n":2}`), map[string]string{"Authorization": "Bearer t"})

	if err := q.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := q.Put(ctx, second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected first job out first, got %s", got.ID)
	}

	got, err = q.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("expected second job next, got %s", got.ID)
	}
	if got.Headers["Authorization"] != "Bearer t" {
		t.Errorf("headers not preserved: %+v", got.Headers)
	}
}

func TestMemory_GetBlocksUntilCancel(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Get returned before the context expired")
	}
}

func TestNewJob_FreshIDs(t *testing.T) {
	a := NewJob(json.RawMessage(`{}`), nil)
	b := NewJob(json.RawMessage(`{}`), nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
}
