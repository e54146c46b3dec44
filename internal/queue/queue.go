// Package queue hands deferred engine calls to background workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKey = "attach:queue"

// Job is one deferred engine call. Consumed at least once; fills are
// idempotent at the fingerprint level so duplicates are harmless.
type Job struct {
	ID      string            `json:"id"`
	Request json.RawMessage   `json:"request"`
	Headers map[string]string `json:"headers"`
}

// NewJob wraps a request payload with a fresh id.
func NewJob(request json.RawMessage, headers map[string]string) Job {
	return Job{ID: uuid.NewString(), Request: request, Headers: headers}
}

// Queue is a FIFO of pending jobs. Get blocks until a job is available or
// ctx is cancelled, and removes the job before returning.
type Queue interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context) (Job, error)
}

// Memory is a channel-backed single-process queue.
type Memory struct {
	jobs chan Job
}

// NewMemory creates a queue buffering up to size pending jobs.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{jobs: make(chan Job, size)}
}

func (q *Memory) Put(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Get(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Redis is the shared variant: LPUSH to enqueue, blocking BRPOP to drain.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (q *Redis) Put(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, redisKey, data).Err()
}

func (q *Redis) Get(ctx context.Context) (Job, error) {
	res, err := q.client.BRPop(ctx, 0, redisKey).Result()
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}
