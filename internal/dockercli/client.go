// Package dockercli wraps the docker command line for the build
// stages. Command execution sits behind an Executor so stage tests
// can run without a container engine.
package dockercli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, dir string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps docker CLI interactions.
type Client struct {
	binary string
	exec   Executor
}

// New constructs a docker client around the given binary.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("docker binary required")
	}
	client := &Client{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BuildOptions describes one docker build invocation.
type BuildOptions struct {
	// ContextDir is the build context directory.
	ContextDir string
	// Dockerfile is the dockerfile path relative to ContextDir.
	Dockerfile string
	// NetworkNone disables network access during the build.
	NetworkNone bool
	// BuildArgs are passed as --build-arg key=value.
	BuildArgs map[string]string
	// OCIOutput, when set, writes the result as an OCI layout tarball
	// at this path instead of loading it into the engine.
	OCIOutput string
	// OCIRef names the image inside the OCI layout index.
	OCIRef string
	// Timeout bounds the build; zero means no bound beyond ctx.
	Timeout time.Duration
}

// Build runs docker build with the given options, streaming output
// lines to onOutput when non-nil.
func (c *Client) Build(ctx context.Context, opts BuildOptions, onOutput func(string)) error {
	if strings.TrimSpace(opts.ContextDir) == "" {
		return errors.New("build context directory required")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"build"}
	if opts.Dockerfile != "" {
		args = append(args, "--file", opts.Dockerfile)
	}
	if opts.NetworkNone {
		args = append(args, "--network", "none")
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for key := range opts.BuildArgs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--build-arg", key+"="+opts.BuildArgs[key])
	}
	if opts.OCIOutput != "" {
		output := "type=oci,dest=" + opts.OCIOutput
		if opts.OCIRef != "" {
			output = "type=oci,name=" + opts.OCIRef + ",dest=" + opts.OCIOutput
		}
		args = append(args, "--output", output)
	}
	args = append(args, ".")

	if err := c.exec.Run(ctx, c.binary, args, opts.ContextDir, onOutput); err != nil {
		return fmt.Errorf("docker build: %w", err)
	}
	return nil
}

// NewCommandExecutor returns the default os/exec-backed executor.
func NewCommandExecutor() Executor { return commandExecutor{} }

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, dir string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	consume := func(r interface{ Read([]byte) (int, error) }) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go consume(stdout)
	go consume(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
