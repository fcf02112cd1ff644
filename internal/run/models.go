package run

import (
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// StageStatus represents the outcome of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// EventType is the repository event that triggered a run.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
)

// KnownEvent reports whether the event type is one capstan consumes.
func KnownEvent(t EventType) bool {
	return t == EventPush || t == EventPullRequest
}

// StageState is the persisted per-stage record.
type StageState struct {
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// PipelineRun is one end-to-end execution triggered by a single
// repository event.
type PipelineRun struct {
	ID     int64
	UUID   string
	Commit string
	Event  EventType
	Branch string
	Status Status

	Stages map[string]StageState

	FailureKind  string
	ErrorMessage string

	// Artifact fields are populated by the build and publish stages.
	ArtifactPath   string
	ArtifactDigest string
	VersionTag     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageState returns the recorded state for a stage name, defaulting
// to pending.
func (r *PipelineRun) StageState(name string) StageState {
	if r.Stages == nil {
		return StageState{Status: StagePending}
	}
	if state, ok := r.Stages[name]; ok {
		return state
	}
	return StageState{Status: StagePending}
}

// SetStageState records the state for a stage name.
func (r *PipelineRun) SetStageState(name string, state StageState) {
	if r.Stages == nil {
		r.Stages = make(map[string]StageState)
	}
	r.Stages[name] = state
}

// LatestPointer records which artifact the mutable "latest" tag was
// last pointed at, and by which run. Used by the optional
// guard_latest compare-and-swap rule.
type LatestPointer struct {
	RunCreatedAt time.Time
	Commit       string
	Digest       string
	UpdatedAt    time.Time
}
