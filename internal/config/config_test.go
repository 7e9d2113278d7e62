package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "")
	t.Setenv("ARTIFACTS_ROOT", "")
	t.Setenv("RUNNER_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_PATH", "")

	cfg := config.Load()

	assert.Equal(t, "./workspaces", cfg.WorkspaceRoot)
	assert.Equal(t, "./artifacts", cfg.ArtifactsRoot)
	assert.Equal(t, "http://localhost:5055", cfg.RunnerURL)
	assert.Equal(t, "./data/store", cfg.DatabaseURL)
	assert.False(t, cfg.FakeCodex)
	assert.False(t, cfg.FakePlanner)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FAKE_CODEX", "1")
	t.Setenv("FAKE_PLANNER", "true")
	t.Setenv("WORKSPACE_ROOT", "/tmp/ws")

	cfg := config.Load()

	assert.True(t, cfg.FakeCodex)
	assert.True(t, cfg.FakePlanner)
	assert.Equal(t, "/tmp/ws", cfg.WorkspaceRoot)
}

func TestValidate_RejectsEmptyRoot(t *testing.T) {
	cfg := config.Load()
	cfg.WorkspaceRoot = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := config.Load()
	cfg.Port = 0
	require.Error(t, cfg.Validate())
}
