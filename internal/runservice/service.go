// Package runservice implements the orchestrator: the run lifecycle state
// machine that composes the workspace manager, the CLI tool primitive, the
// planner client, the pattern extractor, and the machine summary
// synthesizer into one coherent run. Concurrent lifecycles are bounded by
// an errgroup-managed worker pool, following the spec's "multiple
// concurrent run lifecycles execute in parallel tasks" requirement.
package runservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loomrun/loom/internal/broker"
	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/planner"
	"github.com/loomrun/loom/internal/store"
	"github.com/loomrun/loom/internal/workspace"
)

// ErrInvalidInput is returned by CreateRun when the request fails
// validation (spec §4.6 create-run contract).
type ErrInvalidInput struct{ Reason string }

func (e *ErrInvalidInput) Error() string { return "runservice: invalid input: " + e.Reason }

const (
	maxInstructionsLen = 10000
	minInstructionsLen = 1
)

// domainInstructions maps task types to the fixed trailer appended to
// every composed system prompt, carrying task-specific execution guidance
// that is not itself part of a learned pattern.
var domainInstructions = map[model.TaskType]string{
	model.TaskCode:               "Write and modify code in the workspace. Prefer minimal, working changes.",
	model.TaskResearch:           "Research the topic using available tools and produce a cited summary.",
	model.TaskWriting:            "Produce clear, well-structured prose matching the requested tone.",
	model.TaskDataAnalysis:       "Analyze the referenced dataset and produce charts or tables as requested.",
	model.TaskDocumentProcessing: "Process the input document into the requested output format.",
	model.TaskDocumentWriting:    "Write a new document in the requested format.",
	model.TaskDocumentAnalysis:   "Analyze the input document and produce cited findings.",
}

// CreateRunRequest is the validated input contract of spec §4.6.
type CreateRunRequest struct {
	ProjectID       string
	Name            string
	Instructions    string
	TaskType        model.TaskType
	ReferenceRunID  string
	FromRunID       string
	Profile         string
}

// Service is the run lifecycle orchestrator. One Service is shared by a
// process; per-run state lives in the repository, the broker, and the
// codexec registry.
type Service struct {
	Store     store.Repository
	Broker    *broker.Broker
	Workspace *workspace.Manager
	Tool      *codexec.Tool
	Planner   *planner.Client
	Logger    *slog.Logger
	FakeCodex bool // mirrors FAKE_CODEX; independent of the planner's own synthetic mode

	group         *errgroup.Group
	patternFlight singleflight.Group
}

// New returns a Service whose concurrent lifecycles are bounded by
// maxConcurrent, per LOOM_MAX_CONCURRENT_RUNS.
func New(st store.Repository, b *broker.Broker, ws *workspace.Manager, tool *codexec.Tool, pl *planner.Client, logger *slog.Logger, maxConcurrent int, fakeCodex bool) *Service {
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: st, Broker: b, Workspace: ws, Tool: tool, Planner: pl, Logger: logger, group: g, FakeCodex: fakeCodex}
}

// CreateRun validates req, persists a queued run, and asynchronously
// launches its lifecycle on a bounded worker slot. It returns once the run
// is durably queued and a slot has been taken; while maxConcurrent
// lifecycles are already in flight it blocks until one of them finishes.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*model.Run, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		Name:           req.Name,
		TaskType:       req.TaskType,
		Status:         model.RunQueued,
		Progress:       0,
		Instructions:   req.Instructions,
		ReferenceRunID: req.ReferenceRunID,
		SourceRunID:    req.FromRunID,
		CreatedAt:      now,
	}
	if err := s.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("runservice: create run: %w", err)
	}

	s.group.Go(func() error {
		s.runLifecycle(context.Background(), run.ID, req.Profile)
		return nil
	})

	return run, nil
}

func validate(req CreateRunRequest) error {
	if strings.TrimSpace(req.ProjectID) == "" {
		return &ErrInvalidInput{Reason: "project-id is required"}
	}
	if !req.TaskType.Valid() {
		return &ErrInvalidInput{Reason: "task-type is not in the closed set"}
	}
	n := utf8.RuneCountInString(req.Instructions)
	if n < minInstructionsLen || n > maxInstructionsLen {
		return &ErrInvalidInput{Reason: "instructions must be 1..10000 characters"}
	}
	return nil
}

// Cancel requests cooperative cancellation of a run: it sets the durable
// flag, signals the live subprocess (if any) through the codexec registry,
// and publishes a cancellation_requested event. It is a no-op returning
// store.ErrAlreadyTerminal if the run has already reached a terminal
// status (spec §9 Open Question, resolved: concurrent cancel-after-
// terminal is a defined no-op).
func (s *Service) Cancel(ctx context.Context, runID string) error {
	if err := s.Store.RequestCancel(ctx, runID); err != nil {
		return err
	}
	s.Tool.Registry.Cancel(runID)
	s.Broker.Publish(runID, model.Event{
		Kind:      model.EventCancellationRequested,
		RunID:     runID,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// Subscribe returns a live event channel for runID; see internal/broker.
// For a run that is already terminal in the repository, the channel
// instead carries one replayed status event built from the stored run and
// is then closed.
func (s *Service) Subscribe(runID string) (<-chan model.Event, func()) {
	ch, unsubscribe := s.Broker.Subscribe(runID)
	run, err := s.Store.GetRun(context.Background(), runID)
	if err != nil || !run.Status.Terminal() {
		return ch, unsubscribe
	}
	unsubscribe()
	replay := make(chan model.Event, 1)
	replay <- model.Event{
		Kind:       model.EventStatus,
		RunID:      runID,
		Payload:    model.StatusPayload{Status: run.Status, Progress: run.Progress},
		OccurredAt: time.Now().UTC(),
	}
	close(replay)
	return replay, func() {}
}

// Wait blocks until every in-flight lifecycle launched by CreateRun has
// returned. Used during graceful shutdown.
func (s *Service) Wait() { _ = s.group.Wait() }

// RunLifecycleForTest runs the lifecycle for an already-persisted run
// synchronously on the caller's goroutine, bypassing the errgroup pool and
// CreateRun's validation. It exists so tests can subscribe to a run's
// broker topic before the lifecycle starts publishing, which CreateRun's
// fire-and-forget launch cannot guarantee.
func (s *Service) RunLifecycleForTest(runID, profile string) {
	s.runLifecycle(context.Background(), runID, profile)
}
