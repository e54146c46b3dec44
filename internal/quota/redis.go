package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const meterKeyPrefix = "attach:quota:"

// RedisMeterStore is the shared sliding-window variant: a sorted set per user
// scored by sample timestamp, updated inside one pipelined transaction so a
// caller sees a consistent view.
type RedisMeterStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisMeterStore wraps an existing client.
func NewRedisMeterStore(client *redis.Client, window time.Duration) *RedisMeterStore {
	return &RedisMeterStore{client: client, window: window}
}

// Increment implements MeterStore.
func (s *RedisMeterStore) Increment(ctx context.Context, user string, tokens int) (int, time.Time, error) {
	now := time.Now()
	key := meterKeyPrefix + user
	score := float64(now.UnixNano()) / float64(time.Second)
	member := fmt.Sprintf("%d:%d", now.UnixNano(), tokens)
	cutoff := score - s.window.Seconds()

	var rng *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatFloat(cutoff, 'f', -1, 64))
		rng = pipe.ZRangeWithScores(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return 0, now, fmt.Errorf("meter pipeline: %w", err)
	}

	total := 0
	oldest := now
	for _, z := range rng.Val() {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		parts := strings.SplitN(m, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if tok, err := strconv.Atoi(parts[1]); err == nil {
			total += tok
		}
		ts := time.Unix(0, int64(z.Score*float64(time.Second)))
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return total, oldest, nil
}
