// Package deploy implements the deploy stage: a single SSH command
// invoking the fixed redeploy script on the deployment host. The
// script takes no arguments; which image runs is decided entirely by
// what the registry's latest tag points at.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/stage"
)

// Runner executes the redeploy script on the deployment host.
type Runner interface {
	RunScript(ctx context.Context, secret *credentials.DeploySecret) error
}

// Trigger is the deploy stage handler.
type Trigger struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger
}

// Option configures optional Trigger behavior.
type Option func(*Trigger)

// WithRunner injects a script runner (used in tests).
func WithRunner(runner Runner) Option {
	return func(t *Trigger) {
		if runner != nil {
			t.runner = runner
		}
	}
}

// New constructs the deploy stage.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Trigger {
	t := &Trigger{
		cfg:    cfg,
		runner: &sshRunner{},
		logger: logging.NewComponentLogger(logger, "deploy"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trigger) Name() string { return stage.Deploy }

// Needs declares the deploy scope. The SSH key is read just before
// Execute and zeroized right after.
func (t *Trigger) Needs() []credentials.Scope {
	return []credentials.Scope{credentials.ScopeDeploy}
}

// Prepare verifies a published version exists to deploy.
func (t *Trigger) Prepare(_ context.Context, r *run.PipelineRun) error {
	if r.VersionTag == "" {
		return services.Wrap(services.ErrValidation, stage.Deploy, "prepare",
			"run has no published version tag", nil)
	}
	return nil
}

// Execute runs the redeploy script and interprets nothing but its
// exit status.
func (t *Trigger) Execute(ctx context.Context, r *run.PipelineRun, grant *credentials.Grant) error {
	secret, err := grant.Deploy()
	if err != nil {
		return services.Wrap(services.ErrCredential, stage.Deploy, "deploy key", "", err)
	}

	if t.cfg.Deploy.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.cfg.Deploy.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	t.logger.Info("triggering deployment",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String("host", secret.Host),
		logging.String("script", secret.ScriptPath))

	if err := t.runner.RunScript(ctx, secret); err != nil {
		return err
	}

	t.logger.Info("deployment triggered",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// HealthCheck reports whether the deploy target is configured.
func (t *Trigger) HealthCheck(context.Context) stage.Health {
	if t.cfg.Deploy.Host == "" {
		return stage.Unhealthy(stage.Deploy, "deploy host not configured")
	}
	h := stage.Healthy(stage.Deploy)
	h.Detail = net.JoinHostPort(t.cfg.Deploy.Host, strconv.Itoa(t.cfg.Deploy.Port))
	return h
}

// sshRunner opens one SSH session per deployment. Errors carry their
// failure class: bad key material or rejected auth is a credential
// failure, an unreachable host is a network failure, and a non-zero
// script exit is a stage failure.
type sshRunner struct{}

func (sshRunner) RunScript(ctx context.Context, secret *credentials.DeploySecret) error {
	signer, err := ssh.ParsePrivateKey(secret.PrivateKey)
	if err != nil {
		return services.Wrap(services.ErrCredential, stage.Deploy, "parse key", "", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if secret.KnownHostsPath != "" {
		hostKeys, err = knownhosts.New(secret.KnownHostsPath)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, stage.Deploy, "known hosts",
				secret.KnownHostsPath, err)
		}
	}

	clientConfig := &ssh.ClientConfig{
		User:            secret.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(secret.Host, strconv.Itoa(secret.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return services.Wrap(services.ErrNetwork, stage.Deploy, "dial", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return services.Wrap(services.ErrCredential, stage.Deploy, "handshake", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return services.Wrap(services.ErrNetwork, stage.Deploy, "session", addr, err)
	}
	defer session.Close()

	// The script path is fixed configuration and the command carries
	// no arguments; run metadata never crosses the SSH boundary.
	// Run blocks until the server reports an exit status, so a hung
	// script must be cut loose by closing the client when the deploy
	// timeout expires.
	done := make(chan error, 1)
	go func() { done <- session.Run(secret.ScriptPath) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		client.Close()
		<-done
		return services.Wrap(services.ErrNetwork, stage.Deploy, "redeploy script",
			"deploy timeout exceeded", ctx.Err())
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return services.Wrap(services.ErrExternalTool, stage.Deploy, "redeploy script",
				fmt.Sprintf("exit status %d", exitErr.ExitStatus()), err)
		}
		return services.Wrap(services.ErrNetwork, stage.Deploy, "redeploy script", "connection lost", err)
	}
	return nil
}
