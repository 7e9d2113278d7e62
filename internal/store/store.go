// Package store defines the repository interface the core consumes: typed
// CRUD over projects, runs, steps, artifacts, and cached patterns, treated
// as an opaque transactional store with snapshot reads.
package store

import (
	"context"
	"errors"

	"github.com/loomrun/loom/internal/model"
)

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// Repository is the typed persistence contract the orchestrator depends on.
// The HTTP transport and the concrete database schema are out of scope;
// this interface is the seam between them and the core.
type Repository interface {
	UpsertProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)

	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, projectID string) ([]*model.Run, error)
	UpdateRun(ctx context.Context, r *model.Run) error

	// RequestCancel sets the durable cancellation flag on a run, unless
	// the run is already terminal, in which case it returns
	// ErrAlreadyTerminal and leaves the run untouched.
	RequestCancel(ctx context.Context, runID string) error

	AppendStep(ctx context.Context, s *model.Step) error
	ListSteps(ctx context.Context, runID string) ([]*model.Step, error)

	CreateArtifact(ctx context.Context, a *model.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]*model.Artifact, error)
	GetArtifact(ctx context.Context, runID, artifactID string) (*model.Artifact, error)

	SavePattern(ctx context.Context, p *model.Pattern) error
	GetPattern(ctx context.Context, runID string) (*model.Pattern, error)
}

// ErrAlreadyTerminal is returned by RequestCancel when the run has already
// reached an absorbing state; per spec §9 this is a defined no-op.
var ErrAlreadyTerminal = errors.New("store: run already terminal")
