package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
)

func (db *DB) CreateRun(ctx context.Context, r *model.Run) error {
	const q = `
		INSERT INTO runs (id, project_id, name, task_type, status, progress,
			instructions, reference_run_id, source_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at`
	err := db.pool.QueryRow(ctx, q,
		r.ID, r.ProjectID, r.Name, string(r.TaskType), string(r.Status), r.Progress,
		r.Instructions, nullable(r.ReferenceRunID), nullable(r.SourceRunID),
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, id string) (*model.Run, error) {
	const q = `
		SELECT id, project_id, name, task_type, status, progress, instructions,
			COALESCE(reference_run_id, ''), COALESCE(source_run_id, ''),
			system_instructions, had_errors, errors, machine_summary,
			COALESCE(upstream_session_id, ''), created_at, started_at, finished_at
		FROM runs WHERE id = $1`
	r := &model.Run{}
	var taskType, status string
	var errorsJSON, summaryJSON []byte
	err := db.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.ProjectID, &r.Name, &taskType, &status, &r.Progress, &r.Instructions,
		&r.ReferenceRunID, &r.SourceRunID, &r.SystemInstructions, &r.HadErrors,
		&errorsJSON, &summaryJSON, &r.UpstreamSessionID, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	r.TaskType = model.TaskType(taskType)
	r.Status = model.RunStatus(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
			return nil, fmt.Errorf("postgres: decode run errors %s: %w", id, err)
		}
	}
	if len(summaryJSON) > 0 {
		var summary model.MachineSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("postgres: decode machine summary %s: %w", id, err)
		}
		r.MachineSummary = &summary
	}
	return r, nil
}

func (db *DB) ListRuns(ctx context.Context, projectID string) ([]*model.Run, error) {
	q := `
		SELECT id, project_id, name, task_type, status, progress, created_at
		FROM runs`
	args := []any{}
	if projectID != "" {
		q += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		r := &model.Run{}
		var taskType, status string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &taskType, &status, &r.Progress, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		r.TaskType = model.TaskType(taskType)
		r.Status = model.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) UpdateRun(ctx context.Context, r *model.Run) error {
	errorsJSON, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("postgres: encode run errors %s: %w", r.ID, err)
	}
	var summaryJSON []byte
	if r.MachineSummary != nil {
		summaryJSON, err = json.Marshal(r.MachineSummary)
		if err != nil {
			return fmt.Errorf("postgres: encode machine summary %s: %w", r.ID, err)
		}
	}

	const q = `
		UPDATE runs SET status = $2, progress = $3, system_instructions = $4,
			had_errors = $5, errors = $6, machine_summary = $7,
			upstream_session_id = $8, started_at = $9, finished_at = $10
		WHERE id = $1`

	// Progress updates for the same run arrive in quick succession from the
	// lifecycle goroutine; a concurrent schema migration or vacuum can
	// occasionally surface as a serialization failure here, so retry those.
	err = withRetry(ctx, 3, 20*time.Millisecond, func(ctx context.Context) error {
		tag, err := db.pool.Exec(ctx, q,
			r.ID, string(r.Status), r.Progress, r.SystemInstructions,
			r.HadErrors, errorsJSON, summaryJSON,
			nullable(r.UpstreamSessionID), r.StartedAt, r.FinishedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) RequestCancel(ctx context.Context, runID string) error {
	const q = `
		UPDATE runs SET cancel_requested = true
		WHERE id = $1 AND status IN ('queued', 'running')`
	tag, err := db.pool.Exec(ctx, q, runID)
	if err != nil {
		return fmt.Errorf("postgres: request cancel %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetRun(ctx, runID); err != nil {
			return err
		}
		return store.ErrAlreadyTerminal
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
