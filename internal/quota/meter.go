// Package quota enforces per-user token budgets over a sliding window.
package quota

import (
	"context"
	"sync"
	"time"
)

// MeterStore tracks per-user token samples over a rolling window.
//
// Increment appends (now, tokens), drops samples older than the window and
// returns the retained total plus the oldest retained timestamp (now when
// the window is empty). tokens may be zero for a pure read-after-trim.
type MeterStore interface {
	Increment(ctx context.Context, user string, tokens int) (total int, oldest time.Time, err error)
}

type sample struct {
	ts     time.Time
	tokens int
}

// userWindow serialises updates to one user's samples. Different users are
// independent.
type userWindow struct {
	mu      sync.Mutex
	samples []sample
}

// MemoryMeterStore is the single-process variant. Each process keeps its own
// counters; use RedisMeterStore when several replicas share a budget.
type MemoryMeterStore struct {
	window time.Duration

	mu      sync.Mutex
	windows map[string]*userWindow
}

// NewMemoryMeterStore creates a store with the given window width.
func NewMemoryMeterStore(window time.Duration) *MemoryMeterStore {
	return &MemoryMeterStore{
		window:  window,
		windows: make(map[string]*userWindow),
	}
}

func (s *MemoryMeterStore) userWindow(user string) *userWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[user]
	if !ok {
		w = &userWindow{}
		s.windows[user] = w
	}
	return w
}

// Increment implements MeterStore.
func (s *MemoryMeterStore) Increment(_ context.Context, user string, tokens int) (int, time.Time, error) {
	now := time.Now()
	w := s.userWindow(user)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, sample{ts: now, tokens: tokens})

	cutoff := now.Add(-s.window)
	drop := 0
	for drop < len(w.samples) && w.samples[drop].ts.Before(cutoff) {
		drop++
	}
	w.samples = w.samples[drop:]

	total := 0
	for _, smp := range w.samples {
		total += smp.tokens
	}

	oldest := now
	if len(w.samples) > 0 {
		oldest = w.samples[0].ts
	}
	return total, oldest, nil
}
