// Package publish implements the publish stage: pushing the built OCI
// layout to the container registry under an immutable version tag and
// repointing the mutable latest tag.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/opencontainers/go-digest"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/imagebuild"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/stage"
)

// LatestTag is the mutable tag repointed on every release publish.
const LatestTag = "latest"

// VersionTag derives the immutable tag for a commit. It is a pure
// function of the commit, so republishing the same commit lands on the
// same tag.
func VersionTag(commit string) string {
	return imagebuild.ShortCommit(commit)
}

// RegistryClient is the slice of registry behavior the stage needs.
type RegistryClient interface {
	// Push copies the image at digest out of the layout tarball and
	// tags it in the remote repository.
	Push(ctx context.Context, layoutPath, digest, tag string, secret *credentials.RegistrySecret) error
	// Tag points an additional tag at an already-pushed digest.
	Tag(ctx context.Context, digest, tag string, secret *credentials.RegistrySecret) error
}

// LatestStore tracks which artifact the latest tag was last pointed
// at. Only consulted when the guard_latest rule is enabled.
type LatestStore interface {
	LatestArtifact(ctx context.Context) (*run.LatestPointer, error)
	RecordLatest(ctx context.Context, p run.LatestPointer) error
}

// Publisher is the publish stage handler.
type Publisher struct {
	cfg      *config.Config
	registry RegistryClient
	store    LatestStore
	logger   *slog.Logger
}

// Option configures optional Publisher behavior.
type Option func(*Publisher)

// WithRegistryClient injects a registry client (used in tests).
func WithRegistryClient(client RegistryClient) Option {
	return func(p *Publisher) {
		if client != nil {
			p.registry = client
		}
	}
}

// New constructs the publish stage.
func New(cfg *config.Config, store LatestStore, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		cfg: cfg,
		registry: &orasClient{
			repoPath:  cfg.ImageRepository(),
			plainHTTP: cfg.Registry.PlainHTTP,
		},
		store:  store,
		logger: logging.NewComponentLogger(logger, "publish"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Name() string { return stage.Publish }

// Needs declares the registry scope. The broker issues the login just
// before Execute and zeroizes it right after.
func (p *Publisher) Needs() []credentials.Scope {
	return []credentials.Scope{credentials.ScopeRegistry}
}

// Prepare verifies the build stage left a layout to push.
func (p *Publisher) Prepare(_ context.Context, r *run.PipelineRun) error {
	if r.ArtifactDigest == "" {
		return services.Wrap(services.ErrValidation, stage.Publish, "prepare",
			"run has no artifact digest", nil)
	}
	if _, err := digest.Parse(r.ArtifactDigest); err != nil {
		return services.Wrap(services.ErrValidation, stage.Publish, "prepare",
			fmt.Sprintf("malformed artifact digest %q", r.ArtifactDigest), err)
	}
	if _, err := os.Stat(r.ArtifactPath); err != nil {
		return services.Wrap(services.ErrValidation, stage.Publish, "prepare",
			fmt.Sprintf("artifact layout %s missing", r.ArtifactPath), err)
	}
	return nil
}

// Execute pushes the version tag and repoints latest. Pushing the same
// commit twice is a no-op at the registry: the tag is a pure function
// of the commit and the content is addressed by digest.
func (p *Publisher) Execute(ctx context.Context, r *run.PipelineRun, grant *credentials.Grant) error {
	secret, err := grant.Registry()
	if err != nil {
		return services.Wrap(services.ErrCredential, stage.Publish, "registry login", "", err)
	}

	tag := VersionTag(r.Commit)
	start := time.Now()
	p.logger.Info("publishing image",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String("repository", p.cfg.ImageRepository()),
		logging.String("tag", tag))

	if err := p.registry.Push(ctx, r.ArtifactPath, r.ArtifactDigest, tag, secret); err != nil {
		return p.classify("push", err)
	}
	r.VersionTag = tag

	repoint, err := p.shouldRepointLatest(ctx, r)
	if err != nil {
		return err
	}
	if !repoint {
		p.logger.Info("latest tag left in place, newer artifact already published",
			logging.Int64(logging.FieldRunID, r.ID))
		return nil
	}

	if err := p.registry.Tag(ctx, r.ArtifactDigest, LatestTag, secret); err != nil {
		return p.classify("tag latest", err)
	}
	if err := p.store.RecordLatest(ctx, run.LatestPointer{
		RunCreatedAt: r.CreatedAt,
		Commit:       r.Commit,
		Digest:       r.ArtifactDigest,
		UpdatedAt:    time.Now().UTC(),
	}); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.Publish, "record latest", "", err)
	}

	p.logger.Info("publish completed",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String("tag", tag),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// shouldRepointLatest applies the optional compare-and-swap rule.
// With guard_latest off, every publish repoints latest and concurrent
// runs race; the last writer wins.
func (p *Publisher) shouldRepointLatest(ctx context.Context, r *run.PipelineRun) (bool, error) {
	if !p.cfg.Publish.GuardLatest {
		return true, nil
	}
	pointer, err := p.store.LatestArtifact(ctx)
	if err != nil {
		return false, services.Wrap(services.ErrExternalTool, stage.Publish, "read latest pointer", "", err)
	}
	if pointer == nil {
		return true, nil
	}
	return !pointer.RunCreatedAt.After(r.CreatedAt), nil
}

// HealthCheck reports the repository the stage would push to.
func (p *Publisher) HealthCheck(context.Context) stage.Health {
	if p.cfg.Registry.Host == "" {
		return stage.Unhealthy(stage.Publish, "registry host not configured")
	}
	h := stage.Healthy(stage.Publish)
	h.Detail = p.cfg.ImageRepository()
	return h
}

func (p *Publisher) classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return services.Wrap(services.ErrCredential, stage.Publish, operation,
				fmt.Sprintf("registry rejected login (%d)", resp.StatusCode), err)
		}
	}
	return services.Wrap(services.ErrNetwork, stage.Publish, operation, "", err)
}

// orasClient pushes through the registry's HTTP API.
type orasClient struct {
	repoPath  string
	plainHTTP bool
}

func (o *orasClient) repo(secret *credentials.RegistrySecret) (*remote.Repository, error) {
	repo, err := remote.NewRepository(o.repoPath)
	if err != nil {
		return nil, err
	}
	repo.PlainHTTP = o.plainHTTP
	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: auth.StaticCredential(secret.Host, auth.Credential{
			Username: secret.Username,
			Password: string(secret.Password),
		}),
	}
	return repo, nil
}

func (o *orasClient) Push(ctx context.Context, layoutPath, digest, tag string, secret *credentials.RegistrySecret) error {
	store, err := oci.NewFromTar(ctx, layoutPath)
	if err != nil {
		return fmt.Errorf("open oci layout %s: %w", layoutPath, err)
	}
	repo, err := o.repo(secret)
	if err != nil {
		return err
	}
	if _, err := oras.Copy(ctx, store, digest, repo, tag, oras.DefaultCopyOptions); err != nil {
		return fmt.Errorf("copy %s to %s:%s: %w", digest, o.repoPath, tag, err)
	}
	return nil
}

func (o *orasClient) Tag(ctx context.Context, digest, tag string, secret *credentials.RegistrySecret) error {
	repo, err := o.repo(secret)
	if err != nil {
		return err
	}
	if _, err := oras.Tag(ctx, repo, digest, tag); err != nil {
		return fmt.Errorf("tag %s as %s: %w", digest, tag, err)
	}
	return nil
}
