package testgate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capstan/internal/dockercli"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/testgate"
	"capstan/internal/testsupport"
)

type fakeSource struct {
	syncErr     error
	checkoutErr error
	vendored    bool
	checkouts   int
}

func (f *fakeSource) Sync(context.Context) error { return f.syncErr }

func (f *fakeSource) Checkout(_ context.Context, _ string, dstDir string) error {
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	f.checkouts++
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	if f.vendored {
		return os.MkdirAll(filepath.Join(dstDir, "vendor"), 0o755)
	}
	return nil
}

type buildRecorder struct {
	opts  []dockercli.BuildOptions
	err   error
	files map[string]string
}

func (b *buildRecorder) Run(_ context.Context, _ string, args []string, dir string, _ func(string)) error {
	b.opts = append(b.opts, dockercli.BuildOptions{ContextDir: dir})
	// Capture the rendered dockerfile for assertions.
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
	b.opts[len(b.opts)-1].Dockerfile = strings.Join(args, " ")
	return b.err
}

func newGate(t *testing.T, source *fakeSource, rec *buildRecorder) *testgate.Gate {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	docker, err := dockercli.New(cfg.Build.DockerBinary, dockercli.WithExecutor(rec))
	if err != nil {
		t.Fatalf("dockercli.New failed: %v", err)
	}
	gate, err := testgate.New(cfg, docker, source, logging.NewNop())
	if err != nil {
		t.Fatalf("testgate.New failed: %v", err)
	}
	return gate
}

func TestGateDeclaresNoCredentialScopes(t *testing.T) {
	gate := newGate(t, &fakeSource{vendored: true}, &buildRecorder{})
	if needs := gate.Needs(); len(needs) != 0 {
		t.Fatalf("test gate must never request credentials, got %v", needs)
	}
}

func TestExecuteBuildsWithNetworkIsolation(t *testing.T) {
	rec := &buildRecorder{}
	gate := newGate(t, &fakeSource{vendored: true}, rec)
	r := &run.PipelineRun{ID: 7, Commit: "0a1b2c3d4e5f"}

	if err := gate.Execute(context.Background(), r, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rec.opts) != 1 {
		t.Fatalf("expected one docker build, got %d", len(rec.opts))
	}
	if !strings.Contains(rec.opts[0].Dockerfile, "--network none") {
		t.Fatalf("expected --network none in args, got %q", rec.opts[0].Dockerfile)
	}
	rendered := rec.files["Dockerfile.capstan-test"]
	if !strings.Contains(rendered, "go test -mod=vendor ./...") {
		t.Fatalf("rendered dockerfile missing test command:\n%s", rendered)
	}
}

func TestExecuteRemovesWorkspace(t *testing.T) {
	rec := &buildRecorder{}
	source := &fakeSource{vendored: true}
	gate := newGate(t, source, rec)
	r := &run.PipelineRun{ID: 9, Commit: "abc"}

	if err := gate.Execute(context.Background(), r, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rec.opts) == 0 {
		t.Fatal("expected a build")
	}
	if _, err := os.Stat(rec.opts[0].ContextDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace should be removed after the stage: %v", err)
	}
}

func TestExecuteFailsWithoutVendorDir(t *testing.T) {
	gate := newGate(t, &fakeSource{vendored: false}, &buildRecorder{})
	err := gate.Execute(context.Background(), &run.PipelineRun{ID: 1, Commit: "abc"}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExecuteClassifiesTestFailure(t *testing.T) {
	rec := &buildRecorder{err: errors.New("exit status 1")}
	gate := newGate(t, &fakeSource{vendored: true}, rec)
	err := gate.Execute(context.Background(), &run.PipelineRun{ID: 2, Commit: "abc"}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}

func TestPrepareRequiresCommit(t *testing.T) {
	gate := newGate(t, &fakeSource{vendored: true}, &buildRecorder{})
	err := gate.Prepare(context.Background(), &run.PipelineRun{ID: 3})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPrepareClassifiesSyncFailure(t *testing.T) {
	gate := newGate(t, &fakeSource{syncErr: errors.New("remote unreachable")}, &buildRecorder{})
	err := gate.Prepare(context.Background(), &run.PipelineRun{ID: 4, Commit: "abc"})
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
