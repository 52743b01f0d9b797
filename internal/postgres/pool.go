// Package postgres opens instrumented pgx connection pools. Every query is
// traced through otelpgx, logged on the request logger and timed on a
// Prometheus histogram labelled by the chi route that issued it.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes NewPool. The zero value uses pgxpool defaults and logs
// every query.
type PoolOptions struct {
	MaxConns int32

	// SlowQuery suppresses the per-query log line for successful queries
	// faster than this.
	SlowQuery time.Duration

	Metrics *Metrics
}

// NewPool parses databaseURL, attaches the query tracer and verifies
// connectivity.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts.SlowQuery, opts.Metrics)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
