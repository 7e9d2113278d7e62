package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
)

func (db *DB) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	const q = `
		INSERT INTO artifacts (id, run_id, kind, path, bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`
	err := db.pool.QueryRow(ctx, q, a.ID, a.RunID, a.Kind, a.Path, a.Bytes).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create artifact %s: %w", a.ID, err)
	}
	return nil
}

func (db *DB) ListArtifacts(ctx context.Context, runID string) ([]*model.Artifact, error) {
	const q = `
		SELECT id, run_id, kind, path, bytes, created_at
		FROM artifacts WHERE run_id = $1 ORDER BY created_at`
	rows, err := db.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list artifacts %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a := &model.Artifact{}
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.Path, &a.Bytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) GetArtifact(ctx context.Context, runID, artifactID string) (*model.Artifact, error) {
	const q = `
		SELECT id, run_id, kind, path, bytes, created_at
		FROM artifacts WHERE run_id = $1 AND id = $2`
	a := &model.Artifact{}
	err := db.pool.QueryRow(ctx, q, runID, artifactID).Scan(
		&a.ID, &a.RunID, &a.Kind, &a.Path, &a.Bytes, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get artifact %s/%s: %w", runID, artifactID, err)
	}
	return a, nil
}
