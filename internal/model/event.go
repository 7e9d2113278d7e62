package model

import "time"

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	EventStatus                EventKind = "status"
	EventProgress              EventKind = "progress"
	EventStep                  EventKind = "step"
	EventArtifact              EventKind = "artifact"
	EventDiff                  EventKind = "diff"
	EventWorkspace             EventKind = "workspace"
	EventError                 EventKind = "error"
	EventCancellationRequested EventKind = "cancellation_requested"
)

// Event is one message carried by the broker for a single run.
type Event struct {
	Kind      EventKind   `json:"kind"`
	RunID     string      `json:"run_id"`
	OccurredAt time.Time  `json:"occurred_at"`
	Payload   interface{} `json:"payload,omitempty"`
}

// StatusPayload accompanies EventStatus.
type StatusPayload struct {
	Status   RunStatus `json:"status"`
	Progress int       `json:"progress"`
}

// ProgressPayload accompanies EventProgress.
type ProgressPayload struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

// StepPayload accompanies EventStep.
type StepPayload struct {
	Role         StepRole `json:"role"`
	Content      string   `json:"content"`
	Files        []string `json:"files,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// ArtifactPayload accompanies EventArtifact.
type ArtifactPayload struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Bytes int64  `json:"bytes"`
}

// FileDiff is one file's status within a DiffPayload.
type FileDiff struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// DiffPayload accompanies EventDiff.
type DiffPayload struct {
	Branch    string     `json:"branch"`
	ShortStat string     `json:"shortstat"`
	Files     []FileDiff `json:"files"`
	FullStat  string     `json:"full_stat"`
}

// WorkspacePayload accompanies EventWorkspace.
type WorkspacePayload struct {
	SourceRunID string   `json:"source_run_id,omitempty"`
	SourceFound bool     `json:"source_found"`
	Entries     []string `json:"entries,omitempty"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Recovery string    `json:"recovery,omitempty"`
}
