package main

import (
	"strings"
	"testing"
	"time"

	"capstan/internal/api"
)

func TestRenderRunListShortensCommit(t *testing.T) {
	out := renderRunList([]api.RunSummary{{
		ID:        12,
		Event:     "push",
		Branch:    "master",
		Commit:    "0a1b2c3d4e5f6789",
		Status:    "succeeded",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}})
	if !strings.Contains(out, "0a1b2c3d") {
		t.Fatalf("expected short commit in output:\n%s", out)
	}
	if strings.Contains(out, "0a1b2c3d4e5f6789") {
		t.Fatalf("expected commit to be shortened:\n%s", out)
	}
}

func TestRenderRunDetailIncludesStages(t *testing.T) {
	out := renderRunDetail(api.RunSummary{
		ID:     3,
		Event:  "push",
		Branch: "master",
		Status: "failed",
		Stages: []api.StageView{
			{Name: "test", Status: "succeeded"},
			{Name: "build", Status: "failed", Error: "exit status 1"},
			{Name: "publish", Status: "skipped"},
			{Name: "deploy", Status: "skipped"},
		},
		FailureKind: "stage_failure",
	})
	for _, want := range []string{"test", "build", "publish", "deploy", "stage_failure", "exit status 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTriggerRequiresBranchFlag(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"trigger", "--type", "push"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected missing --branch to fail")
	}
}
