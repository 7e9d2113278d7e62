package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
)

func (db *DB) UpsertProject(ctx context.Context, p *model.Project) error {
	const q = `
		INSERT INTO projects (id, name, task_type, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET name = $2, task_type = $3
		RETURNING created_at`
	if err := db.pool.QueryRow(ctx, q, p.ID, p.Name, string(p.TaskType)).Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("postgres: upsert project %s: %w", p.ID, err)
	}
	return nil
}

func (db *DB) GetProject(ctx context.Context, id string) (*model.Project, error) {
	const q = `SELECT id, name, task_type, created_at FROM projects WHERE id = $1`
	var p model.Project
	var taskType string
	err := db.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &taskType, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get project %s: %w", id, err)
	}
	p.TaskType = model.TaskType(taskType)
	return &p, nil
}

func (db *DB) ListProjects(ctx context.Context) ([]*model.Project, error) {
	const q = `SELECT id, name, task_type, created_at FROM projects ORDER BY id`
	rows, err := db.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	defer rows.Close()

	var out []*model.Project
	for rows.Next() {
		var p model.Project
		var taskType string
		if err := rows.Scan(&p.ID, &p.Name, &taskType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan project: %w", err)
		}
		p.TaskType = model.TaskType(taskType)
		out = append(out, &p)
	}
	return out, rows.Err()
}
