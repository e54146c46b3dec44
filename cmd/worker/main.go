package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/cache"
	"github.com/attach-dev/attach-gateway/internal/config"
	"github.com/attach-dev/attach-gateway/internal/queue"
	"github.com/attach-dev/attach-gateway/internal/worker"
)

// The worker drains the shared queue the gateway defers onto, so it only
// makes sense against the Redis backends.
func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "attach-worker").Logger()

	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg := config.FromEnv()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(opts)

	var store cache.Cache = cache.NewRedis(rdb)
	if cfg.CacheBackend == config.BackendMemory {
		// A memory cache in the worker process is invisible to the gateway;
		// still useful for local smoke tests.
		store = cache.NewMemory()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	w := worker.New(cfg.EngineURL, queue.NewRedis(rdb), store, rdb)
	w.Run(ctx)
}
