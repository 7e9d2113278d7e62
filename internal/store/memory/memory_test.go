package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store"
	"github.com/loomrun/loom/internal/store/memory"
)

func TestStore_ProjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p := &model.Project{ID: "demo", Name: "Demo", TaskType: model.TaskCode}
	require.NoError(t, s.UpsertProject(ctx, p))

	got, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_RunLifecycleAndCancel(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	run := &model.Run{ID: "run-1", ProjectID: "demo", Status: model.RunQueued}
	require.NoError(t, s.CreateRun(ctx, run))

	run.Status = model.RunRunning
	require.NoError(t, s.UpdateRun(ctx, run))

	require.NoError(t, s.RequestCancel(ctx, "run-1"))
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)

	got.Status = model.RunCancelled
	require.NoError(t, s.UpdateRun(ctx, got))

	err = s.RequestCancel(ctx, "run-1")
	assert.ErrorIs(t, err, store.ErrAlreadyTerminal)
}

func TestStore_StepsOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendStep(ctx, &model.Step{
			ID:       "step-" + string(rune('a'+i)),
			RunID:    "run-1",
			Sequence: i,
			Role:     model.RoleTool,
		}))
	}

	steps, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, st := range steps {
		assert.Equal(t, i, st.Sequence)
	}
}

func TestStore_PatternNotFound(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.GetPattern(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
