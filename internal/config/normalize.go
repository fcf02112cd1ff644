package config

import (
	"os"
	"path/filepath"
	"strings"
)

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandHome(strings.TrimSpace(c.Paths.DataDir))
	c.Paths.LogDir = expandHome(strings.TrimSpace(c.Paths.LogDir))
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Repo.URL = strings.TrimSpace(c.Repo.URL)
	c.Repo.ReleaseBranch = strings.TrimSpace(c.Repo.ReleaseBranch)
	c.Registry.Host = strings.TrimSpace(c.Registry.Host)
	c.Registry.Owner = strings.TrimSpace(c.Registry.Owner)
	c.Registry.Image = strings.TrimSpace(c.Registry.Image)
	c.Registry.Username = strings.TrimSpace(c.Registry.Username)
	c.Registry.PasswordEnv = strings.TrimSpace(c.Registry.PasswordEnv)
	c.Deploy.Host = strings.TrimSpace(c.Deploy.Host)
	c.Deploy.User = strings.TrimSpace(c.Deploy.User)
	c.Deploy.KeyPath = expandHome(strings.TrimSpace(c.Deploy.KeyPath))
	c.Deploy.KnownHostsPath = expandHome(strings.TrimSpace(c.Deploy.KnownHostsPath))
	c.Deploy.ScriptPath = strings.TrimSpace(c.Deploy.ScriptPath)
	c.Build.DockerBinary = strings.TrimSpace(c.Build.DockerBinary)
	c.Build.TestCommand = strings.TrimSpace(c.Build.TestCommand)
	c.Build.CompileCommand = strings.TrimSpace(c.Build.CompileCommand)

	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount
	}
	if c.Workflow.PollIntervalSeconds < 0 {
		c.Workflow.PollIntervalSeconds = 0
	}
	if c.Workflow.ErrorRetryIntervalSeconds <= 0 {
		c.Workflow.ErrorRetryIntervalSeconds = defaultErrorRetryInterval
	}
	if c.Workflow.MaintenanceIntervalSeconds <= 0 {
		c.Workflow.MaintenanceIntervalSeconds = defaultMaintenanceInterval
	}
	if c.Workflow.RetentionSeconds < 0 {
		c.Workflow.RetentionSeconds = 0
	}
	if c.Deploy.Port <= 0 {
		c.Deploy.Port = defaultDeployPort
	}
}
