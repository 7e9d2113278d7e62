// Command loomd wires the orchestrator core together: the repository, the
// event broker, the workspace manager, the CLI tool primitive, the
// planner client, and the run service. The HTTP transport that would
// expose these over the wire is out of scope for this module (see
// SPEC_FULL.md §1); this binary exists to prove the wiring compiles and
// boots to a ready state, and to host the process for an in-process
// caller (tests, an embedding application, or a future transport).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loomrun/loom/internal/broker"
	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/config"
	"github.com/loomrun/loom/internal/mcp"
	"github.com/loomrun/loom/internal/planner"
	"github.com/loomrun/loom/internal/runservice"
	"github.com/loomrun/loom/internal/store"
	"github.com/loomrun/loom/internal/store/memory"
	"github.com/loomrun/loom/internal/store/postgres"
	"github.com/loomrun/loom/internal/telemetry"
	"github.com/loomrun/loom/internal/workspace"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOOM_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("loomd starting", "version", version, "fake_codex", cfg.FakeCodex, "fake_planner", cfg.FakePlanner)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer closeRepo()

	b := broker.New()
	ws := workspace.New(cfg.WorkspaceRoot)

	tool := &codexec.Tool{
		Store:          repo,
		Broker:         b,
		Registry:       codexec.NewRegistry(),
		ArtifactsRoot:  cfg.ArtifactsRoot,
		Logger:         logger,
		Credential:     cfg.CodexCredential,
		Timeout:        cfg.CLIProfileTimeout,
		RequireGitRepo: cfg.RequireGitRepo,
	}

	plannerClient, err := planner.New(planner.Config{
		BaseURL:    cfg.RunnerURL,
		Credential: cfg.CodexCredential,
		Synthetic:  cfg.FakePlanner || cfg.RunnerURL == "" || cfg.CodexCredential == "",
	}, tool)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}

	svc := runservice.New(repo, b, ws, tool, plannerClient, logger, cfg.MaxConcurrentRuns, cfg.FakeCodex)

	mcpSrv := mcp.New(tool, logger)
	_ = mcpSrv.MCPServer()

	logger.Info("loomd ready")

	<-ctx.Done()

	logger.Info("loomd shutting down")
	svc.Wait()
	return nil
}

// openRepository opens the Postgres-backed repository when DATABASE_URL is
// explicitly set in the environment, or an in-memory repository otherwise
// (matching FAKE_* dev workflows, which never need a real database).
// cfg.DatabaseURL always carries a filesystem-path fallback for a future
// embedded store, so the env var itself is the decision signal.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if os.Getenv("DATABASE_URL") == "" {
		logger.Info("repository: in-memory (DATABASE_URL not set)")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.RunMigrations(migCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, func() { db.Close() }, nil
}
