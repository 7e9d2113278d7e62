package postgres

import (
	"context"
	"fmt"

	"github.com/loomrun/loom/internal/model"
)

// AppendStep inserts a step. Sequence numbers are assigned by the caller
// (runservice owns the monotone counter per run, per spec §3 invariant ii);
// the unique index on (run_id, sequence) makes a double-insert a constraint
// violation rather than silent corruption.
func (db *DB) AppendStep(ctx context.Context, s *model.Step) error {
	const q = `
		INSERT INTO steps (id, run_id, sequence, role, content, touched_files,
			notes, outcome_ok, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at`
	err := db.pool.QueryRow(ctx, q,
		s.ID, s.RunID, s.Sequence, string(s.Role), s.Content, s.TouchedFiles, s.Notes, s.OutcomeOK,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append step %s: %w", s.ID, err)
	}
	return nil
}

func (db *DB) ListSteps(ctx context.Context, runID string) ([]*model.Step, error) {
	const q = `
		SELECT id, run_id, sequence, role, content, touched_files, notes, outcome_ok, created_at
		FROM steps WHERE run_id = $1 ORDER BY sequence`
	rows, err := db.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*model.Step
	for rows.Next() {
		s := &model.Step{}
		var role string
		if err := rows.Scan(&s.ID, &s.RunID, &s.Sequence, &role, &s.Content,
			&s.TouchedFiles, &s.Notes, &s.OutcomeOK, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan step: %w", err)
		}
		s.Role = model.StepRole(role)
		out = append(out, s)
	}
	return out, rows.Err()
}
