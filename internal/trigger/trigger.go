// Package trigger maps incoming repository events to the set of
// pipeline stages eligible to run. Evaluation is pure: no side
// effects, no credential access.
package trigger

import (
	"capstan/internal/run"
	"capstan/internal/stage"
)

// Event is the structured repository event the evaluator decides on.
// The release predicate is a genuine boolean over these two fields,
// so it is actually false for non-matching events.
type Event struct {
	Type   run.EventType
	Branch string
}

// Evaluator decides stage eligibility for a configured release branch.
type Evaluator struct {
	releaseBranch string
}

// NewEvaluator constructs an evaluator for the given release branch.
func NewEvaluator(releaseBranch string) *Evaluator {
	return &Evaluator{releaseBranch: releaseBranch}
}

// ReleaseEligible reports whether the event authorizes artifact
// production: a push to the release branch. Pull requests and pushes
// to other branches only run the test gate.
func (e *Evaluator) ReleaseEligible(ev Event) bool {
	return ev.Type == run.EventPush && ev.Branch == e.releaseBranch
}

// Eligible returns the ordered stage names the event authorizes.
// The test gate runs for every event type regardless of branch.
func (e *Evaluator) Eligible(ev Event) []string {
	stages := []string{stage.Test}
	if e.ReleaseEligible(ev) {
		stages = append(stages, stage.Build, stage.Publish, stage.Deploy)
	}
	return stages
}
