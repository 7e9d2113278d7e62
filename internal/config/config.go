// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting read at process start.
type Config struct {
	Port int

	WorkspaceRoot string
	ArtifactsRoot string
	DatabaseURL   string

	RunnerURL string

	CodexCredential string
	FakeCodex       bool
	FakePlanner     bool
	RequireGitRepo  bool

	MaxConcurrentRuns int
	CLIProfileTimeout time.Duration

	EventBufferSize int

	OTELEndpoint   string
	OTELInsecure   bool
	ServiceName    string
	ServiceVersion string

	LogLevel string
}

// Load builds a Config from the environment, applying the defaults from
// spec §6.
func Load() *Config {
	return &Config{
		Port: envInt("PORT", 8080),

		WorkspaceRoot: envStr("WORKSPACE_ROOT", "./workspaces"),
		ArtifactsRoot: envStr("ARTIFACTS_ROOT", "./artifacts"),
		DatabaseURL:   envStr("DATABASE_URL", envStr("DATABASE_PATH", "./data/store")),

		RunnerURL: envStr("RUNNER_URL", "http://localhost:5055"),

		CodexCredential: firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("CODEX_API_KEY")),
		FakeCodex:       envBool("FAKE_CODEX", false),
		FakePlanner:     envBool("FAKE_PLANNER", false),
		RequireGitRepo:  envBool("REQUIRE_GIT_REPO", false),

		MaxConcurrentRuns: envInt("LOOM_MAX_CONCURRENT_RUNS", 8),
		CLIProfileTimeout: envDuration("LOOM_CLI_TIMEOUT", 30*time.Minute),

		EventBufferSize: envInt("LOOM_EVENT_BUFFER_SIZE", 256),

		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "loomd"),
		ServiceVersion: envStr("LOOM_VERSION", "dev"),

		LogLevel: envStr("LOOM_LOG_LEVEL", "info"),
	}
}

// Validate checks for configuration combinations that cannot produce a
// working server.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("config: WORKSPACE_ROOT must not be empty")
	}
	if c.ArtifactsRoot == "" {
		return fmt.Errorf("config: ARTIFACTS_ROOT must not be empty")
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("config: LOOM_MAX_CONCURRENT_RUNS must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
