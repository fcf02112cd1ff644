package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExternalTool marks failures of an invoked external command
	// (docker, test suite, remote script).
	ErrExternalTool = errors.New("external tool error")

	// ErrValidation marks input that a stage refused to act on.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks missing or contradictory configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrCredential marks registry or deploy authentication failures.
	// Distinct from ErrNetwork because it implies no artifact side
	// effect occurred.
	ErrCredential = errors.New("credential error")

	// ErrNetwork marks push or remote-session transport failures.
	// Never retried automatically; the whole run must be re-submitted.
	ErrNetwork = errors.New("network error")
)

// Wrap builds an error message that includes stage context while
// tagging it with the provided marker for later classification. The
// marker should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind is the coarse failure class recorded on a failed run.
type FailureKind string

const (
	FailureStage      FailureKind = "stage_failure"
	FailureCredential FailureKind = "credential_failure"
	FailureNetwork    FailureKind = "network_failure"
)

// Classify maps a stage error to the failure kind persisted with the
// run. Credential and network failures are surfaced separately so
// operators can tell "nothing was pushed" from "a push may have
// partially landed".
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrCredential):
		return FailureCredential
	case errors.Is(err, ErrNetwork):
		return FailureNetwork
	default:
		return FailureStage
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
