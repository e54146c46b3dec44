package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSink appends usage events to the usage_event table. Like the other
// external sinks it is fire-and-forget.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wraps an existing pool and ensures the table exists.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresSink, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_event (
			id          BIGSERIAL PRIMARY KEY,
			"user"      TEXT NOT NULL,
			project     TEXT NOT NULL,
			tokens_in   INT  NOT NULL,
			tokens_out  INT  NOT NULL,
			model       TEXT NOT NULL,
			request_id  TEXT NOT NULL,
			ts          TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

// Record implements Sink.
func (s *PostgresSink) Record(_ context.Context, evt Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.pool.Exec(ctx, `
			INSERT INTO usage_event ("user", project, tokens_in, tokens_out, model, request_id, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			evt.User, evt.Project, evt.TokensIn, evt.TokensOut, evt.Model, evt.RequestID, evt.Timestamp)
		if err != nil {
			log.Warn().Err(err).Str("request_id", evt.RequestID).Msg("postgres usage insert failed")
		}
	}()
}
