// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"capstan/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per
// test and enough fake endpoints to pass validation.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Repo.URL = "https://github.com/example/service.git"
	cfg.Repo.ReleaseBranch = "master"
	cfg.Registry.Host = "registry.test"
	cfg.Registry.Owner = "example"
	cfg.Registry.Image = "service"
	cfg.Registry.Username = "ci"
	cfg.Deploy.Host = "deploy.test"
	cfg.Deploy.User = "deploy"
	cfg.Deploy.KeyPath = filepath.Join(base, "deploy_key")
	cfg.Workflow.PollIntervalSeconds = 0
	cfg.Workflow.WorkerCount = 2

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithReleaseBranch overrides the release branch on the test config.
func WithReleaseBranch(branch string) ConfigOption {
	return func(c *config.Config) {
		c.Repo.ReleaseBranch = branch
	}
}

// WithGuardLatest enables the latest-tag compare-and-swap rule.
func WithGuardLatest() ConfigOption {
	return func(c *config.Config) {
		c.Publish.GuardLatest = true
	}
}
