package usage

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Options carries the backend-specific wiring a sink may need.
type Options struct {
	Registry       prometheus.Registerer
	OpenMeterURL   string
	OpenMeterToken string
	Pool           *pgxpool.Pool
}

// NewSink builds the sink named by kind, degrading to Null when the backend
// is misconfigured. Metering must never block serving.
func NewSink(ctx context.Context, kind string, opts Options) Sink {
	switch strings.ToLower(kind) {
	case "prometheus", "metric":
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		sink, err := NewPrometheusSink(reg)
		if err != nil {
			log.Warn().Err(err).Msg("prometheus sink unavailable, dropping usage events")
			return Null{}
		}
		return sink
	case "openmeter":
		if opts.OpenMeterURL == "" {
			log.Warn().Msg("USAGE_METERING=openmeter but OPENMETER_URL unset, dropping usage events")
			return Null{}
		}
		return NewOpenMeterSink(opts.OpenMeterURL, opts.OpenMeterToken)
	case "postgres":
		if opts.Pool == nil {
			log.Warn().Msg("USAGE_METERING=postgres but DATABASE_URL unset, dropping usage events")
			return Null{}
		}
		sink, err := NewPostgresSink(ctx, opts.Pool)
		if err != nil {
			log.Warn().Err(err).Msg("postgres sink unavailable, dropping usage events")
			return Null{}
		}
		return sink
	case "", "null":
		return Null{}
	default:
		log.Warn().Str("kind", kind).Msg("unknown usage backend, dropping usage events")
		return Null{}
	}
}
