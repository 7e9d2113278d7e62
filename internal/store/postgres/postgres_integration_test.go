//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/store/postgres"
)

// startPostgres boots an ephemeral Postgres container and returns its DSN.
// Gated behind the integration build tag so the default unit-test run
// never needs Docker.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "loom",
			"POSTGRES_PASSWORD": "loom",
			"POSTGRES_DB":       "loom",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return "postgres://loom:loom@" + host + ":" + port.Port() + "/loom?sslmode=disable"
}

func TestRepository_RunLifecycle(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := postgres.New(ctx, dsn, logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.RunMigrations(ctx))

	proj := &model.Project{ID: "demo", Name: "Demo", TaskType: model.TaskCode}
	require.NoError(t, db.UpsertProject(ctx, proj))

	run := &model.Run{
		ID:           "run-1",
		ProjectID:    "demo",
		Name:         "n",
		TaskType:     model.TaskCode,
		Status:       model.RunQueued,
		Instructions: "touch hello.txt",
	}
	require.NoError(t, db.CreateRun(ctx, run))

	got, err := db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunQueued, got.Status)

	got.Status = model.RunRunning
	got.Progress = 30
	require.NoError(t, db.UpdateRun(ctx, got))

	require.NoError(t, db.RequestCancel(ctx, "run-1"))

	got, err = db.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 30, got.Progress)
}
