package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration can drive a pipeline run end
// to end. Validation failures are configuration errors; the daemon
// refuses to start rather than failing runs one stage at a time.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DataDir == "" {
		problems = append(problems, "paths.data_dir is required")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir is required")
	}
	if c.Repo.URL == "" {
		problems = append(problems, "repo.url is required")
	}
	if c.Repo.ReleaseBranch == "" {
		problems = append(problems, "repo.release_branch is required")
	}
	if c.Registry.Host == "" {
		problems = append(problems, "registry.host is required")
	}
	if c.Registry.Owner == "" {
		problems = append(problems, "registry.owner is required")
	}
	if c.Registry.Image == "" {
		problems = append(problems, "registry.image is required")
	}
	if c.Registry.Username == "" {
		problems = append(problems, "registry.username is required")
	}
	if c.Registry.PasswordEnv == "" {
		problems = append(problems, "registry.password_env is required")
	}
	if c.Deploy.Host == "" {
		problems = append(problems, "deploy.host is required")
	}
	if c.Deploy.User == "" {
		problems = append(problems, "deploy.user is required")
	}
	if c.Deploy.KeyPath == "" {
		problems = append(problems, "deploy.key_path is required")
	}
	if c.Deploy.ScriptPath == "" {
		problems = append(problems, "deploy.script_path is required")
	}
	if c.Build.DockerBinary == "" {
		problems = append(problems, "build.docker_binary is required")
	}
	if c.Build.TestCommand == "" {
		problems = append(problems, "build.test_command is required")
	}
	if c.Build.CompileCommand == "" {
		problems = append(problems, "build.compile_command is required")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
