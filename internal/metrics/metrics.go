// Package metrics names the shared gateway counters and reads them back for
// the /v1/metrics snapshot.
package metrics

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	CacheHitsKey     = "metrics:cache_hits"
	JobsProcessedKey = "metrics:jobs_processed"
)

// Snapshot is the JSON body served on /v1/metrics.
type Snapshot struct {
	CacheHits     int64 `json:"cache_hits"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// Read returns the current counters. A nil client (memory backends) or an
// unreachable one yields zeros; the snapshot endpoint never fails.
func Read(ctx context.Context, client *redis.Client) Snapshot {
	var snap Snapshot
	if client == nil {
		return snap
	}
	if v, err := client.Get(ctx, CacheHitsKey).Int64(); err == nil {
		snap.CacheHits = v
	}
	if v, err := client.Get(ctx, JobsProcessedKey).Int64(); err == nil {
		snap.JobsProcessed = v
	}
	return snap
}
