package runservice

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/loomrun/loom/internal/codexec"
	"github.com/loomrun/loom/internal/model"
	"github.com/loomrun/loom/internal/pattern"
	"github.com/loomrun/loom/internal/planner"
	"github.com/loomrun/loom/internal/summary"
	"github.com/loomrun/loom/internal/telemetry"
	"github.com/loomrun/loom/internal/workspace"
)

var tracer = telemetry.Tracer("loom/runservice")

// runLifecycle drives one run from queued to a terminal status, per the
// seven-stage algorithm of spec §4.6. It never returns an error to its
// caller: every failure is recorded on the run itself and finalization
// always runs.
func (s *Service) runLifecycle(ctx context.Context, runID, profile string) {
	ctx, span := tracer.Start(ctx, "run.lifecycle")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		s.Logger.Error("runservice: lifecycle could not load run", "run_id", runID, "error", err)
		return
	}

	started := time.Now().UTC()
	run.Status = model.RunRunning
	run.StartedAt = &started
	if err := s.Store.UpdateRun(ctx, run); err != nil {
		s.Logger.Error("runservice: failed to mark run running", "run_id", runID, "error", err)
	}

	seq := &codexec.SeqCounter{}
	isCancelled := func() bool {
		r, err := s.Store.GetRun(ctx, runID)
		return err == nil && r.CancelRequested
	}

	var stageErr *model.RunError
	workspacePath, _ := s.Workspace.Path(run.ProjectID, run.ID)

	if isCancelled() {
		stageErr = &model.RunError{Code: model.ErrCancelled, Message: "cancelled before execution began", OccurredAt: time.Now().UTC()}
	}

	if stageErr == nil {
		workspacePath, stageErr = s.stagePrepare(ctx, run)
	}
	if stageErr == nil {
		stageErr = s.stageCompose(ctx, run)
	}
	if stageErr == nil {
		s.publishProgress(runID, "executing", 30, "")
	}
	if stageErr == nil {
		stageErr = s.stageDispatch(ctx, run, workspacePath, profile, seq, isCancelled)
	}

	// Stages 5-7 (diff, extract pattern, finalize) always run, even after
	// a failure in stages 1-4, per the failure policy in spec §4.6.
	s.stageDiff(ctx, run, workspacePath)
	s.stageExtractPattern(ctx, run, stageErr)
	s.stageFinalize(ctx, run, workspacePath, stageErr)

	span.SetStatus(codes.Ok, "")
}

func (s *Service) stagePrepare(ctx context.Context, run *model.Run) (string, *model.RunError) {
	ctx, span := tracer.Start(ctx, "run.prepare")
	defer span.End()

	s.publishProgress(run.ID, "workspace_prep", 10, "")

	res, err := s.Workspace.Prepare(run.ProjectID, run.ID, run.SourceRunID)
	if err != nil {
		span.RecordError(err)
		return "", &model.RunError{Code: model.ErrWorkspacePathInvalid, Message: err.Error(), OccurredAt: time.Now().UTC()}
	}

	path, pathErr := s.Workspace.Path(run.ProjectID, run.ID)
	if pathErr != nil {
		return "", &model.RunError{Code: model.ErrWorkspacePathInvalid, Message: pathErr.Error(), OccurredAt: time.Now().UTC()}
	}

	s.Broker.Publish(run.ID, model.Event{
		Kind:  model.EventWorkspace,
		RunID: run.ID,
		Payload: model.WorkspacePayload{
			SourceRunID: run.SourceRunID,
			SourceFound: res.SourceFound,
			Entries:     firstN(res.Entries, 20),
		},
		OccurredAt: time.Now().UTC(),
	})

	s.publishProgress(run.ID, "workspace_ready", 20, "")
	return path, nil
}

func (s *Service) stageCompose(ctx context.Context, run *model.Run) *model.RunError {
	ctx, span := tracer.Start(ctx, "run.compose")
	defer span.End()

	patternBlock := ""
	if run.ReferenceRunID != "" {
		if p := s.fetchCachedPattern(ctx, run.ReferenceRunID); p != nil {
			patternBlock = p.XML
		}
	}

	domain := domainInstructions[run.TaskType]
	composed := patternBlock + "\n\n" + run.Instructions + "\n\n" + domain
	run.SystemInstructions = composed
	if err := s.Store.UpdateRun(ctx, run); err != nil {
		span.RecordError(err)
		return &model.RunError{Code: model.ErrRuntimeError, Message: err.Error(), OccurredAt: time.Now().UTC()}
	}

	s.publishProgress(run.ID, "instructions_composed", 30, "")
	return nil
}

// fetchCachedPattern dedupes concurrent lookups of the same reference run
// id through a singleflight group, per the efficiency note of SPEC_FULL §5.
func (s *Service) fetchCachedPattern(ctx context.Context, referenceRunID string) *model.Pattern {
	v, err, _ := s.patternFlight.Do(referenceRunID, func() (interface{}, error) {
		return s.Store.GetPattern(ctx, referenceRunID)
	})
	if err != nil {
		return nil
	}
	p, _ := v.(*model.Pattern)
	return p
}

func (s *Service) stageDispatch(ctx context.Context, run *model.Run, workspacePath, profile string, seq *codexec.SeqCounter, isCancelled func() bool) *model.RunError {
	ctx, span := tracer.Start(ctx, "run.dispatch")
	defer span.End()

	bundle := codexec.Bundle{
		WorkspacePath:  workspacePath,
		RunID:          run.ID,
		TaskType:       run.TaskType,
		PriorSessionID: run.UpstreamSessionID,
		Profile:        profile,
		FakeMode:       s.FakeCodex,
	}

	req := planner.Request{
		Messages: []planner.Message{{Role: "user", Content: run.Instructions}},
		Context: planner.RequestContext{
			Workspace:      workspacePath,
			BasePrompt:     run.SystemInstructions,
			TaskType:       string(run.TaskType),
			Profile:        profile,
			PriorSessionID: run.UpstreamSessionID,
			RunID:          run.ID,
		},
	}

	resp, err := s.Planner.Dispatch(ctx, req, bundle, seq, isCancelled)
	if err != nil {
		span.RecordError(err)
		return classifyDispatchError(err)
	}
	if resp.UpstreamSessionID != "" {
		run.UpstreamSessionID = resp.UpstreamSessionID
		_ = s.Store.UpdateRun(ctx, run)
	}

	if isCancelled() {
		return &model.RunError{Code: model.ErrCancelled, Message: "run cancelled during dispatch", OccurredAt: time.Now().UTC()}
	}

	s.publishProgress(run.ID, "dispatch_complete", 70, "")
	return nil
}

func classifyDispatchError(err error) *model.RunError {
	var execErr *planner.ExecError
	if errors.As(err, &execErr) {
		return &model.RunError{Code: execErr.Code, Message: execErr.Message, OccurredAt: time.Now().UTC()}
	}
	var plErr *planner.Error
	if errors.As(err, &plErr) {
		return &model.RunError{Code: model.ErrRuntimeError, Message: plErr.Error(), OccurredAt: time.Now().UTC()}
	}
	return &model.RunError{Code: model.ErrRuntimeError, Message: err.Error(), OccurredAt: time.Now().UTC()}
}

func (s *Service) stageDiff(ctx context.Context, run *model.Run, workspacePath string) {
	_, span := tracer.Start(ctx, "run.diff")
	defer span.End()

	if workspacePath == "" {
		return
	}
	diff := s.Workspace.DiffSummary(workspacePath)
	if diff == nil {
		return
	}

	files := make([]model.FileDiff, 0, len(diff.Files))
	for _, f := range diff.Files {
		files = append(files, model.FileDiff{Path: f.Path, Status: f.Status})
	}

	s.Broker.Publish(run.ID, model.Event{
		Kind:  model.EventDiff,
		RunID: run.ID,
		Payload: model.DiffPayload{
			Branch:    diff.Branch,
			ShortStat: diff.ShortStat,
			Files:     files,
			FullStat:  diff.FullStat,
		},
		OccurredAt: time.Now().UTC(),
	})

	_ = s.Store.CreateArtifact(ctx, &model.Artifact{
		ID:    run.ID + "-diff",
		RunID: run.ID,
		Kind:  "diff-summary",
		Path:  workspacePath,
		Bytes: int64(len(diff.FullStat)),
	})

	s.publishProgress(run.ID, "diff_complete", 80, "")
}

// stageExtractPattern skips extraction for runs that did not succeed: spec
// §8 resolves the ambiguity explicitly ("patterns only from succeeded"),
// and stageErr being non-nil here means stageFinalize will mark the run
// failed or cancelled.
func (s *Service) stageExtractPattern(ctx context.Context, run *model.Run, stageErr *model.RunError) {
	ctx, span := tracer.Start(ctx, "run.extract_pattern")
	defer span.End()

	if stageErr != nil {
		s.publishProgress(run.ID, "pattern_skipped", 95, "")
		return
	}

	steps, err := s.Store.ListSteps(ctx, run.ID)
	if err != nil {
		span.RecordError(err)
		s.publishProgress(run.ID, "pattern_skipped", 95, "")
		return
	}

	p := pattern.Extract(run.ID, run.ProjectID, run.TaskType, run.Instructions, steps)
	if p != nil {
		if err := s.Store.SavePattern(ctx, p); err != nil {
			span.RecordError(err)
			s.Logger.Warn("runservice: failed to save pattern", "run_id", run.ID, "error", err)
		}
	}

	s.publishProgress(run.ID, "pattern_extracted", 95, "")
}

func (s *Service) stageFinalize(ctx context.Context, run *model.Run, workspacePath string, stageErr *model.RunError) {
	ctx, span := tracer.Start(ctx, "run.finalize")
	defer span.End()

	steps, _ := s.Store.ListSteps(ctx, run.ID)
	var files []workspace.FileInfo
	if workspacePath != "" {
		files, _ = s.Workspace.ListFiles(workspacePath)
	}

	status := model.RunSucceeded
	var errs []model.RunError
	if stageErr != nil {
		errs = append(errs, *stageErr)
		if stageErr.Code == model.ErrCancelled {
			status = model.RunCancelled
		} else {
			status = model.RunFailed
		}
	}
	if status == model.RunSucceeded && len(steps) == 0 {
		// Invariant (iv): a succeeded run must have at least one step.
		status = model.RunFailed
		errs = append(errs, model.RunError{Code: model.ErrRuntimeError, Message: "run produced no steps", OccurredAt: time.Now().UTC()})
	}

	ms := summary.Synthesize(summary.Input{
		Instructions: run.Instructions,
		Status:       status,
		Steps:        steps,
		Files:        files,
		Errors:       errs,
	})

	finished := time.Now().UTC()
	run.Status = status
	run.Progress = 100
	run.HadErrors = len(errs) > 0
	run.Errors = errs
	run.MachineSummary = ms
	run.FinishedAt = &finished

	if err := s.Store.UpdateRun(ctx, run); err != nil {
		span.RecordError(err)
		s.Logger.Error("runservice: failed to finalize run", "run_id", run.ID, "error", err)
	}

	s.Broker.Publish(run.ID, model.Event{
		Kind:  model.EventStatus,
		RunID: run.ID,
		Payload: model.StatusPayload{
			Status:   status,
			Progress: 100,
		},
		OccurredAt: finished,
	})

	s.Broker.Close(run.ID)
}

func (s *Service) publishProgress(runID, stage string, percent int, message string) {
	s.Broker.Publish(runID, model.Event{
		Kind:  model.EventProgress,
		RunID: runID,
		Payload: model.ProgressPayload{
			Stage:   stage,
			Percent: percent,
			Message: message,
		},
		OccurredAt: time.Now().UTC(),
	})
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
