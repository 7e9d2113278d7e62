// Package postgres implements store.Repository on top of a pgx connection
// pool, following the pool/session shape of a typical pgx-backed service.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomrun/loom/internal/store"
)

// DB wraps a pgx pool together with the logger it was opened with.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens a pgx pool against dsn and pings it once.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pgx pool for migrations.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Close releases all pooled connections.
func (db *DB) Close() { db.pool.Close() }

var _ store.Repository = (*DB)(nil)
