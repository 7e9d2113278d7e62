package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/loomrun/loom/migrations"
)

// RunMigrations applies every embedded *.sql file in filename order inside
// a single transaction. Safe to call on every process start: statements use
// IF NOT EXISTS / idempotent DDL.
func (db *DB) RunMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migration tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, name := range names {
		sqlBytes, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit migrations: %w", err)
	}
	return nil
}
