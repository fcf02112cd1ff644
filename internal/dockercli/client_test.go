package dockercli_test

import (
	"context"
	"strings"
	"testing"

	"capstan/internal/dockercli"
)

type recordingExecutor struct {
	binary string
	args   []string
	dir    string
	err    error
}

func (r *recordingExecutor) Run(_ context.Context, binary string, args []string, dir string, _ func(string)) error {
	r.binary = binary
	r.args = args
	r.dir = dir
	return r.err
}

func TestBuildComposesArguments(t *testing.T) {
	rec := &recordingExecutor{}
	client, err := dockercli.New("docker", dockercli.WithExecutor(rec))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = client.Build(context.Background(), dockercli.BuildOptions{
		ContextDir:  "/work/run-1",
		Dockerfile:  "Dockerfile.capstan",
		NetworkNone: true,
		BuildArgs:   map[string]string{"COMMIT_SHA": "0a1b2c3d"},
		OCIOutput:   "/artifacts/run-1.tar",
		OCIRef:      "capstan/build:staged",
	}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := strings.Join(rec.args, " ")
	want := "build --file Dockerfile.capstan --network none " +
		"--build-arg COMMIT_SHA=0a1b2c3d " +
		"--output type=oci,name=capstan/build:staged,dest=/artifacts/run-1.tar ."
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
	if rec.dir != "/work/run-1" {
		t.Fatalf("dir = %q", rec.dir)
	}
	if rec.binary != "docker" {
		t.Fatalf("binary = %q", rec.binary)
	}
}

func TestBuildRequiresContextDir(t *testing.T) {
	client, err := dockercli.New("docker", dockercli.WithExecutor(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := client.Build(context.Background(), dockercli.BuildOptions{}, nil); err == nil {
		t.Fatal("expected error for missing context dir")
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := dockercli.New("  "); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestRealExecutorStreamsOutput(t *testing.T) {
	// The real executor is exercised through a shell stand-in.
	var lines []string
	exec := dockercli.NewCommandExecutor()
	if err := exec.Run(context.Background(), "sh", []string{"-c", "echo one; echo two 1>&2"}, t.TempDir(), func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
}

func TestRealExecutorReportsExitStatus(t *testing.T) {
	exec := dockercli.NewCommandExecutor()
	if err := exec.Run(context.Background(), "sh", []string{"-c", "exit 3"}, t.TempDir(), nil); err == nil {
		t.Fatal("expected exit error")
	}
}
