package services_test

import (
	"errors"
	"fmt"
	"testing"

	"capstan/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 1")
	err := services.Wrap(services.ErrExternalTool, "test", "docker build", "test suite failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "publish", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected default marker, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want services.FailureKind
	}{
		{services.Wrap(services.ErrCredential, "publish", "login", "registry rejected credentials", nil), services.FailureCredential},
		{services.Wrap(services.ErrNetwork, "publish", "push", "connection reset", nil), services.FailureNetwork},
		{services.Wrap(services.ErrExternalTool, "test", "run", "exit 1", nil), services.FailureStage},
		{services.Wrap(services.ErrValidation, "build", "commit", "empty", nil), services.FailureStage},
		{fmt.Errorf("plain"), services.FailureStage},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
