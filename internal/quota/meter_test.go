package quota

import (
	"context"
	"testing"
	"time"
)

func TestMemoryMeterStore_Accumulates(t *testing.T) {
	s := NewMemoryMeterStore(time.Minute)
	ctx := context.Background()

	if total, _, err := s.Increment(ctx, "u1", 10); err != nil || total != 10 {
		t.Fatalf("Increment = (%d, %v), want (10, nil)", total, err)
	}
	if total, _, err := s.Increment(ctx, "u1", 5); err != nil || total != 15 {
		t.Fatalf("Increment = (%d, %v), want (15, nil)", total, err)
	}

	// Users are independent.
	if total, _, _ := s.Increment(ctx, "u2", 3); total != 3 {
		t.Errorf("u2 total = %d, want 3", total)
	}
}

func TestMemoryMeterStore_WindowExpiry(t *testing.T) {
	s := NewMemoryMeterStore(50 * time.Millisecond)
	ctx := context.Background()

	s.Increment(ctx, "u1", 100)
	time.Sleep(80 * time.Millisecond)

	total, oldest, err := s.Increment(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if total != 1 {
		t.Errorf("expired samples retained: total = %d, want 1", total)
	}
	if time.Since(oldest) > 50*time.Millisecond {
		t.Errorf("oldest %v predates the window", oldest)
	}
}

func TestMemoryMeterStore_OldestForRetryHint(t *testing.T) {
	s := NewMemoryMeterStore(time.Minute)
	ctx := context.Background()

	before := time.Now()
	s.Increment(ctx, "u1", 1)
	time.Sleep(10 * time.Millisecond)
	_, oldest, _ := s.Increment(ctx, "u1", 1)

	if oldest.Before(before) || oldest.After(time.Now()) {
		t.Errorf("oldest %v not the first retained sample", oldest)
	}
	if time.Since(oldest) < 10*time.Millisecond {
		t.Errorf("oldest should be the earlier sample, got %v", oldest)
	}
}

func TestByteCounter(t *testing.T) {
	if got := (ByteCounter{}).Count("hello"); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if got := (ByteCounter{}).Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestNewCounter_FallsBackOnUnknownEncoding(t *testing.T) {
	c := NewCounter("no-such-encoding")
	if _, ok := c.(ByteCounter); !ok {
		t.Fatalf("expected ByteCounter fallback, got %T", c)
	}
}

func TestIsTextual(t *testing.T) {
	cases := map[string]bool{
		"application/json":               true,
		"application/json; charset=utf": true,
		"text/plain":                     true,
		"text/event-stream":              true,
		"application/octet-stream":       false,
		"image/png":                      false,
		"":                               false,
	}
	for ct, want := range cases {
		if got := isTextual(ct); got != want {
			t.Errorf("isTextual(%q) = %v, want %v", ct, got, want)
		}
	}
}
