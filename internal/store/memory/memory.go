// Package memory implements store.Repository entirely in process memory.
// It backs FAKE_* development runs and the unit test suite; the mutex-
// guarded map shape follows the in-memory registries used throughout the
// corpus for process-local state.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
)

// Store is an in-memory store.Repository. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	projects map[string]*model.Project
	runs     map[string]*model.Run
	steps    map[string][]*model.Step
	artifacts map[string][]*model.Artifact
	patterns  map[string]*model.Pattern
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects:  make(map[string]*model.Project),
		runs:      make(map[string]*model.Run),
		steps:     make(map[string][]*model.Step),
		artifacts: make(map[string][]*model.Artifact),
		patterns:  make(map[string]*model.Pattern),
	}
}

func (s *Store) UpsertProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProjects(_ context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateRun(_ context.Context, r *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRuns(_ context.Context, projectID string) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Run, 0)
	for _, r := range s.runs {
		if projectID != "" && r.ProjectID != projectID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateRun(_ context.Context, r *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *Store) RequestCancel(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status.Terminal() {
		return store.ErrAlreadyTerminal
	}
	r.CancelRequested = true
	return nil
}

func (s *Store) AppendStep(_ context.Context, st *model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.steps[st.RunID] = append(s.steps[st.RunID], &cp)
	return nil
}

func (s *Store) ListSteps(_ context.Context, runID string) ([]*model.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.steps[runID]
	out := make([]*model.Step, len(src))
	for i, st := range src {
		cp := *st
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) CreateArtifact(_ context.Context, a *model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.artifacts[a.RunID] = append(s.artifacts[a.RunID], &cp)
	return nil
}

func (s *Store) ListArtifacts(_ context.Context, runID string) ([]*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.artifacts[runID]
	out := make([]*model.Artifact, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) GetArtifact(_ context.Context, runID, artifactID string) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.artifacts[runID] {
		if a.ID == artifactID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SavePattern(_ context.Context, p *model.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.patterns[p.ID] = &cp
	return nil
}

func (s *Store) GetPattern(_ context.Context, runID string) (*model.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

var _ store.Repository = (*Store)(nil)
