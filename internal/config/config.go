package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Log contains logger configuration.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Repo describes the repository whose events drive the pipeline.
type Repo struct {
	URL           string `toml:"url"`
	ReleaseBranch string `toml:"release_branch"`
}

// Registry describes the container registry artifacts are pushed to.
// The login password is never part of the file; it is read from the
// environment variable named by PasswordEnv when the publish stage's
// credential grant is issued.
type Registry struct {
	Host        string `toml:"host"`
	Owner       string `toml:"owner"`
	Image       string `toml:"image"`
	Username    string `toml:"username"`
	PasswordEnv string `toml:"password_env"`
	PlainHTTP   bool   `toml:"plain_http"`
}

// Deploy describes the remote host the deployment script runs on.
type Deploy struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	KeyPath        string `toml:"key_path"`
	KnownHostsPath string `toml:"known_hosts_path"`
	ScriptPath     string `toml:"script_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Build contains configuration for the container build stages.
type Build struct {
	DockerBinary       string `toml:"docker_binary"`
	BuilderImage       string `toml:"builder_image"`
	RuntimeImage       string `toml:"runtime_image"`
	TestCommand        string `toml:"test_command"`
	CompileCommand     string `toml:"compile_command"`
	TestTimeoutSeconds int    `toml:"test_timeout_seconds"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// Publish contains configuration for the registry publish stage.
type Publish struct {
	// GuardLatest enables the stricter compare-and-swap rule: latest
	// is only repointed when the incoming run is newer than the run
	// that last set it. Off by default, preserving last-writer-wins.
	GuardLatest bool `toml:"guard_latest"`
}

// Workflow contains daemon timing and concurrency configuration.
type Workflow struct {
	PollIntervalSeconds        int `toml:"poll_interval_seconds"`
	ErrorRetryIntervalSeconds  int `toml:"error_retry_interval_seconds"`
	WorkerCount                int `toml:"worker_count"`
	MaintenanceIntervalSeconds int `toml:"maintenance_interval_seconds"`
	RetentionSeconds           int `toml:"retention_seconds"`
}

// Config is the root configuration document.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Log      Log      `toml:"log"`
	Repo     Repo     `toml:"repo"`
	Registry Registry `toml:"registry"`
	Deploy   Deploy   `toml:"deploy"`
	Build    Build    `toml:"build"`
	Publish  Publish  `toml:"publish"`
	Workflow Workflow `toml:"workflow"`
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	return expandHome("~/.config/capstan/config.toml")
}

// Load reads the configuration file, applies defaults, normalizes
// paths, and validates the result. A missing file yields defaults and
// existed=false so callers can decide whether to write a sample;
// defaults are not validated, since the daemon validates explicitly
// before starting and the CLI only needs the API address.
func Load(path string) (*Config, string, bool, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)

	cfg := Default()
	data, err := os.ReadFile(path)
	existed := err == nil
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, path, existed, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// fall through with defaults
	default:
		return nil, path, existed, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.normalize()
	if existed {
		if err := cfg.Validate(); err != nil {
			return nil, path, existed, err
		}
	}
	return &cfg, path, existed, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.WorkspaceDir(), c.ArtifactDir(), c.MirrorDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WorkspaceDir is where disposable per-run build trees are created.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.Paths.DataDir, "workspace")
}

// ArtifactDir is where OCI layout tarballs are staged between the
// build and publish stages.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.Paths.DataDir, "artifacts")
}

// MirrorDir holds the bare repository mirror used for checkouts.
func (c *Config) MirrorDir() string {
	return filepath.Join(c.Paths.DataDir, "mirror")
}

// ImageRepository returns "<host>/<owner>/<image>" without a tag.
func (c *Config) ImageRepository() string {
	return c.Registry.Host + "/" + c.Registry.Owner + "/" + c.Registry.Image
}
