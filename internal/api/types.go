// Package api defines the HTTP payloads exchanged between the capstan
// daemon and its clients, plus a thin client for the CLI.
package api

import (
	"time"

	"capstan/internal/run"
	"capstan/internal/stage"
)

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Type   string `json:"type"`
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
}

// StageView is the per-stage slice of a run summary, in pipeline order.
type StageView struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunSummary is the wire form of a pipeline run.
type RunSummary struct {
	ID             int64       `json:"id"`
	UUID           string      `json:"uuid"`
	Commit         string      `json:"commit,omitempty"`
	Event          string      `json:"event"`
	Branch         string      `json:"branch"`
	Status         string      `json:"status"`
	Stages         []StageView `json:"stages"`
	FailureKind    string      `json:"failure_kind,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	VersionTag     string      `json:"version_tag,omitempty"`
	ArtifactDigest string      `json:"artifact_digest,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// FromRun converts a stored run into its wire form.
func FromRun(r *run.PipelineRun) RunSummary {
	stages := make([]StageView, 0, 4)
	for _, name := range []string{stage.Test, stage.Build, stage.Publish, stage.Deploy} {
		state := r.StageState(name)
		stages = append(stages, StageView{
			Name:   name,
			Status: string(state.Status),
			Error:  state.Error,
		})
	}
	return RunSummary{
		ID:             r.ID,
		UUID:           r.UUID,
		Commit:         r.Commit,
		Event:          string(r.Event),
		Branch:         r.Branch,
		Status:         string(r.Status),
		Stages:         stages,
		FailureKind:    r.FailureKind,
		ErrorMessage:   r.ErrorMessage,
		VersionTag:     r.VersionTag,
		ArtifactDigest: r.ArtifactDigest,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// RunListResponse is the body of GET /api/runs.
type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

// RunResponse is the body of GET /api/runs/{id} and POST /api/events.
type RunResponse struct {
	Run RunSummary `json:"run"`
}

// DaemonStatus is the body of GET /api/status.
type DaemonStatus struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid"`
	InFlight  int    `json:"in_flight"`
	Workers   int    `json:"workers"`
	StorePath string `json:"store_path,omitempty"`
	LockPath  string `json:"lock_path,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// StageHealth is one stage's readiness report.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the body of GET /api/health.
type HealthReport struct {
	Ready  bool          `json:"ready"`
	Stages []StageHealth `json:"stages"`
}
