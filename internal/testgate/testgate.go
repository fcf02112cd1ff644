// Package testgate implements the test stage: a disposable,
// network-isolated build of the source tree at the run's commit,
// executing the full test suite against the vendored dependency set.
// This stage is the sole gate between an arbitrary untrusted change
// and artifact production, so it declares no credential scopes.
package testgate

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/dockercli"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/stage"
)

//go:embed Dockerfile.test.tmpl
var dockerfileTemplate string

const dockerfileName = "Dockerfile.capstan-test"

// vendorDir is the locked dependency directory the gate requires so
// the isolated build never reaches an upstream package registry.
const vendorDir = "vendor"

// Checkouter materializes the source tree at a commit.
type Checkouter interface {
	Sync(ctx context.Context) error
	Checkout(ctx context.Context, commit, dstDir string) error
}

// Gate is the test stage handler.
type Gate struct {
	cfg    *config.Config
	docker *dockercli.Client
	source Checkouter
	logger *slog.Logger
	tmpl   *template.Template
}

// New constructs the test gate.
func New(cfg *config.Config, docker *dockercli.Client, source Checkouter, logger *slog.Logger) (*Gate, error) {
	tmpl, err := template.New("testgate").Parse(dockerfileTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse test dockerfile template: %w", err)
	}
	return &Gate{
		cfg:    cfg,
		docker: docker,
		source: source,
		logger: logging.NewComponentLogger(logger, "testgate"),
		tmpl:   tmpl,
	}, nil
}

func (g *Gate) Name() string { return stage.Test }

// Needs is empty: the test gate never receives registry or deploy
// credentials.
func (g *Gate) Needs() []credentials.Scope { return nil }

// Prepare refreshes the repository mirror so the commit is resolvable
// locally before the isolated build starts.
func (g *Gate) Prepare(ctx context.Context, r *run.PipelineRun) error {
	if strings.TrimSpace(r.Commit) == "" {
		return services.Wrap(services.ErrValidation, stage.Test, "prepare", "commit identifier required", nil)
	}
	if err := g.source.Sync(ctx); err != nil {
		return services.Wrap(services.ErrNetwork, stage.Test, "sync mirror", "", err)
	}
	return nil
}

// Execute checks out the commit into a disposable directory, renders
// the test dockerfile, and builds it with networking disabled.
func (g *Gate) Execute(ctx context.Context, r *run.PipelineRun, _ *credentials.Grant) error {
	workdir := filepath.Join(g.cfg.WorkspaceDir(), fmt.Sprintf("run-%d-test", r.ID))
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			g.logger.Warn("failed to remove test workspace",
				logging.Error(err), logging.String("workdir", workdir))
		}
	}()

	if err := g.source.Checkout(ctx, r.Commit, workdir); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Test, "checkout", r.Commit, err)
	}

	if info, err := os.Stat(filepath.Join(workdir, vendorDir)); err != nil || !info.IsDir() {
		return services.Wrap(services.ErrValidation, stage.Test, "vendor check",
			"vendored dependency directory missing; the isolated test build would need network access", err)
	}

	if err := g.renderDockerfile(workdir); err != nil {
		return err
	}

	start := time.Now()
	g.logger.Info("test build started",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String(logging.FieldCommit, r.Commit))

	err := g.docker.Build(ctx, dockercli.BuildOptions{
		ContextDir:  workdir,
		Dockerfile:  dockerfileName,
		NetworkNone: true,
		Timeout:     time.Duration(g.cfg.Build.TestTimeoutSeconds) * time.Second,
	}, func(line string) {
		g.logger.Debug("docker", logging.String("line", line))
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrExternalTool, stage.Test, "test suite", "non-zero exit", err)
	}

	g.logger.Info("test build passed",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// HealthCheck verifies the workspace directory is writable.
func (g *Gate) HealthCheck(context.Context) stage.Health {
	if err := os.MkdirAll(g.cfg.WorkspaceDir(), 0o755); err != nil {
		return stage.Unhealthy(stage.Test, err.Error())
	}
	return stage.Healthy(stage.Test)
}

func (g *Gate) renderDockerfile(workdir string) error {
	f, err := os.Create(filepath.Join(workdir, dockerfileName))
	if err != nil {
		return fmt.Errorf("create test dockerfile: %w", err)
	}
	defer f.Close()

	data := struct {
		BuilderImage string
		TestCommand  string
	}{
		BuilderImage: g.cfg.Build.BuilderImage,
		TestCommand:  g.cfg.Build.TestCommand,
	}
	if err := g.tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render test dockerfile: %w", err)
	}
	return nil
}
