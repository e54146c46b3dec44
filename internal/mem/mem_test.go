package mem

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNone_NotReady(t *testing.T) {
	var s Store = None{}

	// Writes are silently dropped.
	s.Write(context.Background(), Event{User: "u", Prompt: "p", TS: time.Now()})

	if _, err := s.Events(context.Background(), 10); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}
