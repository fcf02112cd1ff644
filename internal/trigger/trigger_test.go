package trigger_test

import (
	"reflect"
	"testing"

	"capstan/internal/run"
	"capstan/internal/trigger"
)

func TestPullRequestOnlyEligibleForTest(t *testing.T) {
	eval := trigger.NewEvaluator("master")
	for _, branch := range []string{"master", "feature/x", ""} {
		got := eval.Eligible(trigger.Event{Type: run.EventPullRequest, Branch: branch})
		if !reflect.DeepEqual(got, []string{"test"}) {
			t.Fatalf("pull_request on %q eligible = %v, want [test]", branch, got)
		}
	}
}

func TestPushToReleaseBranchEligibleForFullPipeline(t *testing.T) {
	eval := trigger.NewEvaluator("master")
	got := eval.Eligible(trigger.Event{Type: run.EventPush, Branch: "master"})
	want := []string{"test", "build", "publish", "deploy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("eligible = %v, want %v", got, want)
	}
}

func TestPushToOtherBranchOnlyEligibleForTest(t *testing.T) {
	eval := trigger.NewEvaluator("master")
	got := eval.Eligible(trigger.Event{Type: run.EventPush, Branch: "develop"})
	if !reflect.DeepEqual(got, []string{"test"}) {
		t.Fatalf("eligible = %v, want [test]", got)
	}
}

func TestReleasePredicateCanBeFalse(t *testing.T) {
	eval := trigger.NewEvaluator("master")
	cases := []struct {
		ev   trigger.Event
		want bool
	}{
		{trigger.Event{Type: run.EventPush, Branch: "master"}, true},
		{trigger.Event{Type: run.EventPush, Branch: "main"}, false},
		{trigger.Event{Type: run.EventPullRequest, Branch: "master"}, false},
		{trigger.Event{Type: run.EventPullRequest, Branch: "feature"}, false},
	}
	for _, tc := range cases {
		if got := eval.ReleaseEligible(tc.ev); got != tc.want {
			t.Fatalf("ReleaseEligible(%+v) = %v, want %v", tc.ev, got, tc.want)
		}
	}
}
