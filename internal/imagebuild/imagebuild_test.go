package imagebuild_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capstan/internal/dockercli"
	"capstan/internal/imagebuild"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/testsupport"
)

type fakeCheckout struct {
	err       error
	checkouts int
}

func (f *fakeCheckout) Checkout(_ context.Context, _ string, dstDir string) error {
	if f.err != nil {
		return f.err
	}
	f.checkouts++
	return os.MkdirAll(dstDir, 0o755)
}

type buildRecorder struct {
	args  [][]string
	dirs  []string
	err   error
	files map[string]string
}

func (b *buildRecorder) Run(_ context.Context, _ string, args []string, dir string, _ func(string)) error {
	b.args = append(b.args, args)
	b.dirs = append(b.dirs, dir)
	if b.files == nil {
		b.files = make(map[string]string)
	}
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "Dockerfile") {
			data, _ := os.ReadFile(filepath.Join(dir, entry.Name()))
			b.files[entry.Name()] = string(data)
		}
	}
	return b.err
}

func newBuilder(t *testing.T, source *fakeCheckout, rec *buildRecorder) *imagebuild.Builder {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	docker, err := dockercli.New(cfg.Build.DockerBinary, dockercli.WithExecutor(rec))
	if err != nil {
		t.Fatalf("dockercli.New failed: %v", err)
	}
	builder, err := imagebuild.New(cfg, docker, source, logging.NewNop(),
		imagebuild.WithDigestResolver(func(context.Context, string, string) (string, error) {
			return "sha256:7adbaa9d0c175408173de68a8078c9e7de176bee3801f98fc974f09ab5784bdd", nil
		}))
	if err != nil {
		t.Fatalf("imagebuild.New failed: %v", err)
	}
	return builder
}

func TestShortCommit(t *testing.T) {
	cases := []struct {
		commit string
		want   string
	}{
		{"0a1b2c3d4e5f6789", "0a1b2c3d"},
		{"0a1b2c3d", "0a1b2c3d"},
		{"abc", "abc"},
		{"", "unversioned"},
		{"   ", "unversioned"},
	}
	for _, tc := range cases {
		if got := imagebuild.ShortCommit(tc.commit); got != tc.want {
			t.Errorf("ShortCommit(%q) = %q, want %q", tc.commit, got, tc.want)
		}
	}
}

func TestPrepareAssignsArtifactPath(t *testing.T) {
	builder := newBuilder(t, &fakeCheckout{}, &buildRecorder{})
	r := &run.PipelineRun{ID: 12, Commit: "0a1b2c3d"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if r.ArtifactPath == "" || !strings.HasSuffix(r.ArtifactPath, "run-12.tar") {
		t.Fatalf("unexpected artifact path %q", r.ArtifactPath)
	}
}

func TestExecuteBakesCommitAndRecordsDigest(t *testing.T) {
	rec := &buildRecorder{}
	builder := newBuilder(t, &fakeCheckout{}, rec)
	r := &run.PipelineRun{ID: 3, Commit: "0a1b2c3d4e5f6789"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := builder.Execute(context.Background(), r, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(rec.args) != 1 {
		t.Fatalf("expected one docker build, got %d", len(rec.args))
	}
	joined := strings.Join(rec.args[0], " ")
	if !strings.Contains(joined, "--build-arg COMMIT_SHA=0a1b2c3d") {
		t.Fatalf("expected short commit build arg, got %q", joined)
	}
	if !strings.Contains(joined, "type=oci") || !strings.Contains(joined, r.ArtifactPath) {
		t.Fatalf("expected oci output to %q, got %q", r.ArtifactPath, joined)
	}
	if r.ArtifactDigest != "sha256:7adbaa9d0c175408173de68a8078c9e7de176bee3801f98fc974f09ab5784bdd" {
		t.Fatalf("digest not recorded: %q", r.ArtifactDigest)
	}
}

func TestExecuteRendersRuntimeContract(t *testing.T) {
	rec := &buildRecorder{}
	builder := newBuilder(t, &fakeCheckout{}, rec)
	r := &run.PipelineRun{ID: 4, Commit: "abc"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := builder.Execute(context.Background(), r, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rendered := rec.files["Dockerfile.capstan"]
	for _, want := range []string{
		"ARG COMMIT_SHA=unversioned",
		"ENV COMMIT_SHA=${COMMIT_SHA}",
		"EXPOSE 8080",
		`ENTRYPOINT ["/app/app", "/app/config.toml"]`,
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered dockerfile missing %q:\n%s", want, rendered)
		}
	}
}

func TestExecuteRemovesWorkspace(t *testing.T) {
	rec := &buildRecorder{}
	builder := newBuilder(t, &fakeCheckout{}, rec)
	r := &run.PipelineRun{ID: 5, Commit: "abc"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := builder.Execute(context.Background(), r, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := os.Stat(rec.dirs[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace should be removed after the stage: %v", err)
	}
}

func TestExecuteClassifiesBuildFailure(t *testing.T) {
	rec := &buildRecorder{err: errors.New("exit status 1")}
	builder := newBuilder(t, &fakeCheckout{}, rec)
	r := &run.PipelineRun{ID: 6, Commit: "abc"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	err := builder.Execute(context.Background(), r, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestExecuteClassifiesCheckoutFailure(t *testing.T) {
	builder := newBuilder(t, &fakeCheckout{err: errors.New("unknown revision")}, &buildRecorder{})
	r := &run.PipelineRun{ID: 7, Commit: "abc"}
	if err := builder.Prepare(context.Background(), r); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	err := builder.Execute(context.Background(), r, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}
