// Package imagebuild implements the build stage: a two-phase
// container build producing a minimal runtime artifact as an OCI
// layout tarball, with the commit identifier baked into the final
// image environment.
package imagebuild

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

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/oci"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/dockercli"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/stage"
)

//go:embed Dockerfile.build.tmpl
var dockerfileTemplate string

// Canonical image contract. The source configuration this replaces
// disagreed between variants; these are the single chosen values.
const (
	// ExposedPort is the one network port the runtime image listens on.
	ExposedPort = 8080
	// ConfigPath is the runtime configuration path inside the image,
	// passed to the binary as its only positional argument.
	ConfigPath = "/app/config.toml"
	// ConfigFile is the configuration file copied out of the source tree.
	ConfigFile = "config.toml"
	// CommitBuildArg is the build argument carrying the commit identifier.
	CommitBuildArg = "COMMIT_SHA"
	// DefaultCommit is baked into the image when no commit is supplied.
	DefaultCommit = "unversioned"
	// StagingRef names the image inside the OCI layout between build
	// and publish.
	StagingRef = "capstan/build:staged"
)

const dockerfileName = "Dockerfile.capstan"

// ShortCommit returns the fixed-length short form of a commit
// identifier, or DefaultCommit when none was supplied.
func ShortCommit(commit string) string {
	commit = strings.TrimSpace(commit)
	if commit == "" {
		return DefaultCommit
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// DigestResolver reads the manifest digest for a reference out of an
// OCI layout tarball.
type DigestResolver func(ctx context.Context, layoutPath, ref string) (string, error)

func defaultDigestResolver(ctx context.Context, layoutPath, ref string) (string, error) {
	store, err := oci.NewFromTar(ctx, layoutPath)
	if err != nil {
		return "", fmt.Errorf("open oci layout %s: %w", layoutPath, err)
	}
	desc, err := store.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s in layout: %w", ref, err)
	}
	switch desc.MediaType {
	case ocispec.MediaTypeImageManifest, ocispec.MediaTypeImageIndex:
	default:
		return "", fmt.Errorf("unexpected media type %s for %s", desc.MediaType, ref)
	}
	return desc.Digest.String(), nil
}

// Builder is the build stage handler.
type Builder struct {
	cfg     *config.Config
	docker  *dockercli.Client
	source  Checkouter
	logger  *slog.Logger
	tmpl    *template.Template
	resolve DigestResolver
}

// Checkouter materializes the source tree at a commit.
type Checkouter interface {
	Checkout(ctx context.Context, commit, dstDir string) error
}

// Option configures optional Builder behavior.
type Option func(*Builder)

// WithDigestResolver injects a layout digest resolver (used in tests).
func WithDigestResolver(resolve DigestResolver) Option {
	return func(b *Builder) {
		if resolve != nil {
			b.resolve = resolve
		}
	}
}

// New constructs the build stage.
func New(cfg *config.Config, docker *dockercli.Client, source Checkouter, logger *slog.Logger, opts ...Option) (*Builder, error) {
	tmpl, err := template.New("imagebuild").Parse(dockerfileTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse build dockerfile template: %w", err)
	}
	b := &Builder{
		cfg:     cfg,
		docker:  docker,
		source:  source,
		logger:  logging.NewComponentLogger(logger, "imagebuild"),
		tmpl:    tmpl,
		resolve: defaultDigestResolver,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Builder) Name() string { return stage.Build }

// Needs is empty: building is local; only the publish stage talks to
// the registry.
func (b *Builder) Needs() []credentials.Scope { return nil }

func (b *Builder) Prepare(_ context.Context, r *run.PipelineRun) error {
	if err := os.MkdirAll(b.cfg.ArtifactDir(), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	r.ArtifactPath = filepath.Join(b.cfg.ArtifactDir(), fmt.Sprintf("run-%d.tar", r.ID))
	return nil
}

// Execute performs the two-phase build and records the artifact
// layout path and manifest digest on the run.
func (b *Builder) Execute(ctx context.Context, r *run.PipelineRun, _ *credentials.Grant) error {
	workdir := filepath.Join(b.cfg.WorkspaceDir(), fmt.Sprintf("run-%d-build", r.ID))
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			b.logger.Warn("failed to remove build workspace",
				logging.Error(err), logging.String("workdir", workdir))
		}
	}()

	if err := b.source.Checkout(ctx, r.Commit, workdir); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Build, "checkout", r.Commit, err)
	}
	if err := b.renderDockerfile(workdir); err != nil {
		return err
	}

	short := ShortCommit(r.Commit)
	start := time.Now()
	b.logger.Info("image build started",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String(logging.FieldCommit, short))

	err := b.docker.Build(ctx, dockercli.BuildOptions{
		ContextDir: workdir,
		Dockerfile: dockerfileName,
		BuildArgs:  map[string]string{CommitBuildArg: short},
		OCIOutput:  r.ArtifactPath,
		OCIRef:     StagingRef,
		Timeout:    time.Duration(b.cfg.Build.TimeoutSeconds) * time.Second,
	}, func(line string) {
		b.logger.Debug("docker", logging.String("line", line))
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrExternalTool, stage.Build, "docker build", "non-zero exit", err)
	}

	digest, err := b.resolve(ctx, r.ArtifactPath, StagingRef)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Build, "layout digest", "", err)
	}
	r.ArtifactDigest = digest

	b.logger.Info("image build completed",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String("digest", digest),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// HealthCheck verifies the artifact directory is writable.
func (b *Builder) HealthCheck(context.Context) stage.Health {
	if err := os.MkdirAll(b.cfg.ArtifactDir(), 0o755); err != nil {
		return stage.Unhealthy(stage.Build, err.Error())
	}
	return stage.Healthy(stage.Build)
}

func (b *Builder) renderDockerfile(workdir string) error {
	f, err := os.Create(filepath.Join(workdir, dockerfileName))
	if err != nil {
		return fmt.Errorf("create build dockerfile: %w", err)
	}
	defer f.Close()

	data := struct {
		BuilderImage   string
		RuntimeImage   string
		CompileCommand string
		DefaultCommit  string
		ConfigFile     string
		ConfigPath     string
		Port           int
	}{
		BuilderImage:   b.cfg.Build.BuilderImage,
		RuntimeImage:   b.cfg.Build.RuntimeImage,
		CompileCommand: b.cfg.Build.CompileCommand,
		DefaultCommit:  DefaultCommit,
		ConfigFile:     ConfigFile,
		ConfigPath:     ConfigPath,
		Port:           ExposedPort,
	}
	if err := b.tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render build dockerfile: %w", err)
	}
	return nil
}
