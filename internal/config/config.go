package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Backend selection constants. "shared" means the Redis-backed variant.
const (
	BackendMemory = "memory"
	BackendShared = "shared"
)

// AuthBackend values accepted in AUTH_BACKEND.
const (
	AuthBackendAuth0   = "auth0"
	AuthBackendDescope = "descope"
	AuthBackendMixed   = "mixed"
)

// Config holds all gateway configuration, resolved once at startup.
type Config struct {
	HTTPAddr string

	// OIDC verification
	OIDCIssuer  string
	OIDCAud     string
	AuthBackend string
	ClockSkew   time.Duration
	JWKSTTL     time.Duration

	// Descope token exchange (second-chance verification)
	EnableExchange      bool
	DescopeProjectID    string
	DescopeClientID     string
	DescopeClientSecret string
	DescopeBaseURL      string

	// Upstream engine
	EngineURL     string
	EngineTimeout time.Duration

	// Backends
	CacheBackend string
	QueueBackend string
	MemBackend   string
	RedisURL     string

	// Quota
	QuotaBackend    string
	MaxTokensPerMin int
	QuotaWindow     time.Duration
	QuotaEncoding   string
	MaxRequestBytes int64

	// Usage metering
	UsageMetering  string
	OpenMeterURL   string
	OpenMeterToken string
	DatabaseURL    string

	// CORS
	CORSOrigins []string

	// Auth bootstrap served on /auth/config
	Auth0Domain string
	Auth0Client string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("var", k).Str("value", v).Msg("not an integer, using default")
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("var", k).Str("value", v).Msg("not a boolean, using default")
	}
	return def
}

// FromEnv builds a Config from environment variables with defaults applied.
// Validation is separate so callers can apply overrides first.
func FromEnv() *Config {
	cfg := &Config{
		HTTPAddr: env("HTTP_ADDR", ":8080"),

		OIDCIssuer:  os.Getenv("OIDC_ISSUER"),
		OIDCAud:     os.Getenv("OIDC_AUD"),
		AuthBackend: env("AUTH_BACKEND", AuthBackendAuth0),
		ClockSkew:   time.Duration(envInt("OIDC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		JWKSTTL:     time.Duration(envInt("JWKS_TTL_SECONDS", 600)) * time.Second,

		EnableExchange:      envBool("ENABLE_DESCOPE_EXCHANGE", false),
		DescopeProjectID:    os.Getenv("DESCOPE_PROJECT_ID"),
		DescopeClientID:     os.Getenv("DESCOPE_CLIENT_ID"),
		DescopeClientSecret: os.Getenv("DESCOPE_CLIENT_SECRET"),
		DescopeBaseURL:      env("DESCOPE_BASE_URL", "https://api.descope.com"),

		EngineURL:     env("ENGINE_URL", "http://localhost:11434"),
		EngineTimeout: time.Duration(envInt("ENGINE_TIMEOUT_SECONDS", 120)) * time.Second,

		CacheBackend: env("CACHE_BACKEND", BackendMemory),
		QueueBackend: env("QUEUE_BACKEND", BackendMemory),
		MemBackend:   env("MEM_BACKEND", "none"),
		RedisURL:     env("REDIS_URL", "redis://localhost:6379/0"),

		QuotaBackend:    env("QUOTA_BACKEND", BackendMemory),
		MaxTokensPerMin: envInt("MAX_TOKENS_PER_MIN", 60000),
		QuotaWindow:     60 * time.Second,
		QuotaEncoding:   env("QUOTA_ENCODING", "cl100k_base"),
		MaxRequestBytes: int64(envInt("MAX_REQUEST_BYTES", 10<<20)),

		UsageMetering:  usageMeteringFromEnv(),
		OpenMeterURL:   os.Getenv("OPENMETER_URL"),
		OpenMeterToken: os.Getenv("OPENMETER_TOKEN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		CORSOrigins: []string{env("CORS_ORIGINS", "http://localhost:9000")},

		Auth0Domain: os.Getenv("AUTH0_DOMAIN"),
		Auth0Client: os.Getenv("AUTH0_CLIENT"),
	}
	return cfg
}

// usageMeteringFromEnv resolves USAGE_METERING, honouring the legacy
// USAGE_BACKEND alias with a deprecation warning.
func usageMeteringFromEnv() string {
	if v := os.Getenv("USAGE_METERING"); v != "" {
		return v
	}
	if v := os.Getenv("USAGE_BACKEND"); v != "" {
		log.Warn().Msg("USAGE_BACKEND is deprecated, use USAGE_METERING")
		return v
	}
	return "null"
}

// Validate checks required fields and enum values.
func (c *Config) Validate() error {
	if c.OIDCIssuer == "" {
		return ErrMissingIssuer
	}
	if c.OIDCAud == "" {
		return ErrMissingAudience
	}
	switch c.AuthBackend {
	case AuthBackendAuth0, AuthBackendDescope, AuthBackendMixed:
	default:
		return ErrBadAuthBackend
	}
	switch c.CacheBackend {
	case BackendMemory, BackendShared:
	default:
		return ErrBadCacheBackend
	}
	switch c.QueueBackend {
	case BackendMemory, BackendShared:
	default:
		return ErrBadQueueBackend
	}
	switch c.QuotaBackend {
	case BackendMemory, BackendShared:
	default:
		return ErrBadQuotaBackend
	}
	if c.EnableExchange {
		if c.DescopeProjectID == "" || c.DescopeClientID == "" || c.DescopeClientSecret == "" {
			return ErrMissingDescopeCreds
		}
	}
	return nil
}
