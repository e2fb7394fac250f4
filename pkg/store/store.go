// Package store is the Postgres persistence layer: the mutable domains
// work queue, the append-only responses and events tables, and the
// prompt template catalog.
//
// The domains table doubles as the cross-process work queue; claiming
// uses FOR UPDATE SKIP LOCKED so independently deployed crawlers never
// hand out the same row twice. Responses and events are append-only;
// nothing in this package ever updates or deletes either table.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool and exposes the persistence
// operations. All writes are short transactions; no transaction spans a
// provider network call.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to Postgres. maxConns should be at least the
// orchestrator's maximum expected concurrency so workers never starve
// on the pool.
func New(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > cfg.MaxConns {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
