package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/attach-dev/attach-gateway/internal/cache"
	"github.com/attach-dev/attach-gateway/internal/config"
	"github.com/attach-dev/attach-gateway/internal/db"
	"github.com/attach-dev/attach-gateway/internal/httpapi"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/oidc"
	"github.com/attach-dev/attach-gateway/internal/proxy"
	"github.com/attach-dev/attach-gateway/internal/queue"
	"github.com/attach-dev/attach-gateway/internal/quota"
	"github.com/attach-dev/attach-gateway/internal/tasks"
	"github.com/attach-dev/attach-gateway/internal/usage"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "attach-gateway").Logger()

	// Pretty logging for local dev
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Shared Redis client, only when some backend needs it
	var rdb *redis.Client
	if cfg.CacheBackend == config.BackendShared ||
		cfg.QueueBackend == config.BackendShared ||
		cfg.QuotaBackend == config.BackendShared ||
		cfg.MemBackend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup, shared backends will retry")
		}
		cancel()
	}

	var store cache.Cache = cache.NewMemory()
	if cfg.CacheBackend == config.BackendShared {
		store = cache.NewRedis(rdb)
	}

	var jobs queue.Queue = queue.NewMemory(0)
	if cfg.QueueBackend == config.BackendShared {
		jobs = queue.NewRedis(rdb)
	}

	var meter quota.MeterStore = quota.NewMemoryMeterStore(cfg.QuotaWindow)
	if cfg.QuotaBackend == config.BackendShared {
		meter = quota.NewRedisMeterStore(rdb, cfg.QuotaWindow)
	}

	var memory mem.Store = mem.None{}
	if cfg.MemBackend == "redis" {
		memory = mem.NewRedis(rdb)
	}

	// Usage sink (optionally backed by postgres)
	usageOpts := usage.Options{
		OpenMeterURL:   cfg.OpenMeterURL,
		OpenMeterToken: cfg.OpenMeterToken,
	}
	if cfg.UsageMetering == "postgres" && cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		usageOpts.Pool = pool
	}
	sink := usage.NewSink(ctx, cfg.UsageMetering, usageOpts)

	// Token verification
	var primary *oidc.Verifier
	if cfg.AuthBackend == config.AuthBackendDescope {
		primary = oidc.NewDescopeVerifier(cfg.DescopeBaseURL, cfg.DescopeProjectID, cfg.ClockSkew, cfg.JWKSTTL)
	} else {
		primary = oidc.NewVerifier(cfg.OIDCIssuer, cfg.OIDCAud, cfg.ClockSkew, cfg.JWKSTTL)
	}
	authn := &oidc.Authenticator{Primary: primary}
	if cfg.EnableExchange {
		authn.Exchanger = oidc.NewExchanger(cfg.DescopeBaseURL, cfg.DescopeClientID, cfg.DescopeClientSecret)
		authn.Provider = oidc.NewDescopeVerifier(cfg.DescopeBaseURL, cfg.DescopeProjectID, cfg.ClockSkew, cfg.JWKSTTL)
	}

	quotaMW := &quota.Middleware{
		Store:     meter,
		Counter:   quota.NewCounter(cfg.QuotaEncoding),
		Sink:      sink,
		MaxTokens: cfg.MaxTokensPerMin,
		Window:    cfg.QuotaWindow,
		MaxBody:   cfg.MaxRequestBytes,
	}

	dispatcher := proxy.NewHandler(cfg.EngineURL, cfg.EngineTimeout, store, jobs,
		cfg.QueueBackend == config.BackendShared, memory)

	registry := tasks.NewRegistry(localChatURL(cfg.HTTPAddr))

	srv := &httpapi.Server{
		Cfg:   cfg,
		Auth:  authn,
		Quota: quotaMW,
		Tasks: registry,
		Proxy: dispatcher,
		Mem:   memory,
		Redis: rdb,
	}

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("engine", cfg.EngineURL).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// localChatURL is where the task forwarder posts by default.
func localChatURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/api/chat"
}
