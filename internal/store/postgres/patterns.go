package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
)

func (db *DB) SavePattern(ctx context.Context, p *model.Pattern) error {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("postgres: encode pattern steps %s: %w", p.ID, err)
	}
	varsJSON, err := json.Marshal(p.Variables)
	if err != nil {
		return fmt.Errorf("postgres: encode pattern variables %s: %w", p.ID, err)
	}

	const q = `
		INSERT INTO patterns (id, project_id, name, summary, steps, variables, xml, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			name = $3, summary = $4, steps = $5, variables = $6, xml = $7
		RETURNING created_at`
	err = db.pool.QueryRow(ctx, q, p.ID, p.ProjectID, p.Name, p.Summary, stepsJSON, varsJSON, p.XML).
		Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save pattern %s: %w", p.ID, err)
	}
	return nil
}

func (db *DB) GetPattern(ctx context.Context, runID string) (*model.Pattern, error) {
	const q = `
		SELECT id, project_id, name, summary, steps, variables, xml, created_at
		FROM patterns WHERE id = $1`
	p := &model.Pattern{}
	var stepsJSON, varsJSON []byte
	err := db.pool.QueryRow(ctx, q, runID).Scan(
		&p.ID, &p.ProjectID, &p.Name, &p.Summary, &stepsJSON, &varsJSON, &p.XML, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get pattern %s: %w", runID, err)
	}
	if err := json.Unmarshal(stepsJSON, &p.Steps); err != nil {
		return nil, fmt.Errorf("postgres: decode pattern steps %s: %w", runID, err)
	}
	if err := json.Unmarshal(varsJSON, &p.Variables); err != nil {
		return nil, fmt.Errorf("postgres: decode pattern variables %s: %w", runID, err)
	}
	return p, nil
}
