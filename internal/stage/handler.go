// Package stage defines the contract the workflow scheduler needs
// from each pipeline stage.
package stage

import (
	"context"

	"capstan/internal/credentials"
	"capstan/internal/run"
)

// Canonical stage names, in dependency order.
const (
	Test    = "test"
	Build   = "build"
	Publish = "publish"
	Deploy  = "deploy"
)

// Handler is one unit of pipeline work. Needs declares the credential
// scopes the stage requires; the scheduler issues a grant with
// exactly those scopes just before Execute and closes it right after.
type Handler interface {
	Name() string
	Needs() []credentials.Scope
	Prepare(context.Context, *run.PipelineRun) error
	Execute(context.Context, *run.PipelineRun, *credentials.Grant) error
	HealthCheck(context.Context) Health
}
