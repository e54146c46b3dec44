// Package worker drains the job queue and fills the cache.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/cache"
	"github.com/attach-dev/attach-gateway/internal/metrics"
	"github.com/attach-dev/attach-gateway/internal/queue"
)

// Worker consumes jobs, calls the engine and stores results under the job's
// fingerprint. Failures are logged and the job dropped; a duplicate delivery
// just overwrites the cache entry with the same value.
type Worker struct {
	EngineURL string
	Queue     queue.Queue
	Cache     cache.Cache
	Client    *http.Client

	// Redis bumps the jobs_processed counter when set (shared deployments).
	Redis *redis.Client
}

// New creates a worker against the configured engine.
func New(engineURL string, q queue.Queue, c cache.Cache, rdb *redis.Client) *Worker {
	return &Worker{
		EngineURL: strings.TrimRight(engineURL, "/"),
		Queue:     q,
		Cache:     c,
		Client:    &http.Client{Timeout: 5 * time.Minute},
		Redis:     rdb,
	}
}

// Run loops until ctx is cancelled. Multiple workers may run in parallel;
// fingerprint collisions resolve last-writer-wins.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Str("engine", w.EngineURL).Msg("worker started")
	for {
		job, err := w.Queue.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("worker stopped")
				return
			}
			log.Error().Err(err).Msg("queue get failed")
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	var req struct {
		Model    string         `json:"model"`
		Messages []any          `json:"messages"`
		Params   map[string]any `json:"params"`
	}
	if err := json.Unmarshal(job.Request, &req); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("dropping malformed job")
		return
	}
	fp := cache.Fingerprint(req.Model, req.Messages, req.Params)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.EngineURL+"/v1/chat/completions", bytes.NewReader(job.Request))
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("dropping job")
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range job.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("engine call failed, dropping job")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("engine body read failed, dropping job")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("job_id", job.ID).Msg("engine rejected job")
		return
	}

	if err := w.Cache.Set(ctx, fp, body); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("cache fill failed")
		return
	}
	if w.Redis != nil {
		if err := w.Redis.Incr(ctx, metrics.JobsProcessedKey).Err(); err != nil {
			log.Warn().Err(err).Msg("jobs counter increment failed")
		}
	}
	log.Debug().Str("job_id", job.ID).Str("fingerprint", fp).Msg("job processed")
}
