package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Paths.DataDir = "/tmp/capstan"
	cfg.Paths.LogDir = "/tmp/capstan/logs"
	cfg.Repo.URL = "https://github.com/example/service.git"
	cfg.Registry.Host = "registry.example.com"
	cfg.Registry.Owner = "example"
	cfg.Registry.Image = "service"
	cfg.Registry.Username = "ci"
	cfg.Deploy.Host = "deploy.example.com"
	cfg.Deploy.User = "deploy"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejectsMissingReleaseBranch(t *testing.T) {
	cfg := validConfig()
	cfg.Repo.ReleaseBranch = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "release_branch") {
		t.Fatalf("expected release_branch error, got %v", err)
	}
}

func TestValidateRejectsMissingRegistryImage(t *testing.T) {
	cfg := validConfig()
	cfg.Registry.Image = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "registry.image") {
		t.Fatalf("expected registry.image error, got %v", err)
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected log format error")
	}
}

func TestLoadReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[repo]
url = "https://github.com/example/service.git"

[registry]
host = "registry.example.com"
owner = "example"
image = "service"
username = "ci"

[deploy]
host = "deploy.example.com"
user = "deploy"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, existed, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !existed {
		t.Fatal("expected existed=true")
	}
	if resolved != path {
		t.Fatalf("resolved path = %s, want %s", resolved, path)
	}
	if cfg.Repo.ReleaseBranch != defaultReleaseBranch {
		t.Fatalf("release branch default = %q", cfg.Repo.ReleaseBranch)
	}
	if cfg.Deploy.Port != defaultDeployPort {
		t.Fatalf("deploy port default = %d", cfg.Deploy.Port)
	}
	if cfg.Workflow.WorkerCount != defaultWorkerCount {
		t.Fatalf("worker count default = %d", cfg.Workflow.WorkerCount)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, _, existed, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if existed {
		t.Fatal("expected existed=false")
	}
	if cfg.Paths.APIBind != defaultAPIBind {
		t.Fatalf("api bind default = %q", cfg.Paths.APIBind)
	}
}

func TestImageRepository(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ImageRepository(); got != "registry.example.com/example/service" {
		t.Fatalf("ImageRepository = %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := validConfig()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.WorkspaceDir(), cfg.ArtifactDir(), cfg.MirrorDir()} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
