// Package credentials issues per-stage scoped secrets. A grant is
// constructed immediately before the stage that needs it and closed
// (zeroized) as soon as the stage returns, so a compromised earlier
// stage never observes registry or deploy secrets.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"capstan/internal/config"
	"capstan/internal/services"
)

// Scope names a class of secret a stage may request.
type Scope string

const (
	// ScopeRegistry grants the container registry login.
	ScopeRegistry Scope = "registry"
	// ScopeDeploy grants the deploy host SSH material.
	ScopeDeploy Scope = "deploy"
)

// RegistrySecret is the registry login issued to the publish stage.
type RegistrySecret struct {
	Host     string
	Username string
	Password []byte
}

// DeploySecret is the SSH material issued to the deploy stage.
type DeploySecret struct {
	Host           string
	Port           int
	User           string
	PrivateKey     []byte
	KnownHostsPath string
	ScriptPath     string
}

// ErrGrantClosed is returned when a secret is read after Close.
var ErrGrantClosed = errors.New("credential grant closed")

// ErrNotGranted is returned when a stage reads a scope it never declared.
var ErrNotGranted = errors.New("scope not granted")

// Grant holds the secrets issued for exactly one stage execution.
type Grant struct {
	mu       sync.Mutex
	closed   bool
	registry *RegistrySecret
	deploy   *DeploySecret
}

// Registry returns the registry secret, or an error if the grant does
// not carry the registry scope or was already closed.
func (g *Grant) Registry() (*RegistrySecret, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGrantClosed
	}
	if g.registry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGranted, ScopeRegistry)
	}
	return g.registry, nil
}

// Deploy returns the deploy secret, or an error if the grant does not
// carry the deploy scope or was already closed.
func (g *Grant) Deploy() (*DeploySecret, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGrantClosed
	}
	if g.deploy == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGranted, ScopeDeploy)
	}
	return g.deploy, nil
}

// Scopes reports the scopes carried by the grant.
func (g *Grant) Scopes() []Scope {
	g.mu.Lock()
	defer g.mu.Unlock()
	scopes := make([]Scope, 0, 2)
	if g.registry != nil {
		scopes = append(scopes, ScopeRegistry)
	}
	if g.deploy != nil {
		scopes = append(scopes, ScopeDeploy)
	}
	return scopes
}

// Close zeroizes the secret material. Safe to call more than once.
func (g *Grant) Close() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.registry != nil {
		zero(g.registry.Password)
		g.registry = nil
	}
	if g.deploy != nil {
		zero(g.deploy.PrivateKey)
		g.deploy = nil
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Broker constructs grants from configuration, environment, and key
// files at issue time. Secrets are never persisted to the run store.
type Broker struct {
	cfg       *config.Config
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)

	issued int64
	mu     sync.Mutex
}

// BrokerOption configures optional Broker behavior.
type BrokerOption func(*Broker)

// WithEnvLookup injects an environment source (used in tests).
func WithEnvLookup(lookup func(string) (string, bool)) BrokerOption {
	return func(b *Broker) {
		if lookup != nil {
			b.lookupEnv = lookup
		}
	}
}

// WithKeyReader injects a key file reader (used in tests).
func WithKeyReader(read func(string) ([]byte, error)) BrokerOption {
	return func(b *Broker) {
		if read != nil {
			b.readFile = read
		}
	}
}

// NewBroker constructs a credential broker for the given config.
func NewBroker(cfg *config.Config, opts ...BrokerOption) *Broker {
	b := &Broker{
		cfg:       cfg,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Issue builds a grant carrying exactly the requested scopes. A nil
// or empty scope list yields an empty grant, which is what the test
// gate receives. A failed scope zeroizes whatever was already
// materialized before the error is returned.
func (b *Broker) Issue(scopes ...Scope) (*Grant, error) {
	grant := &Grant{}
	for _, scope := range scopes {
		switch scope {
		case ScopeRegistry:
			secret, err := b.registrySecret()
			if err != nil {
				grant.Close()
				return nil, err
			}
			grant.registry = secret
		case ScopeDeploy:
			secret, err := b.deploySecret()
			if err != nil {
				grant.Close()
				return nil, err
			}
			grant.deploy = secret
		default:
			grant.Close()
			return nil, services.Wrap(services.ErrConfiguration, "", "issue credentials",
				fmt.Sprintf("unknown scope %q", scope), nil)
		}
		b.mu.Lock()
		b.issued++
		b.mu.Unlock()
	}
	return grant, nil
}

// SecretsIssued reports how many scoped secrets the broker has
// materialized. An empty grant (the test gate's) loads none, which is
// what the pull_request properties assert against.
func (b *Broker) SecretsIssued() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issued
}

func (b *Broker) registrySecret() (*RegistrySecret, error) {
	reg := b.cfg.Registry
	password, ok := b.lookupEnv(reg.PasswordEnv)
	if !ok || password == "" {
		return nil, services.Wrap(services.ErrCredential, "", "registry login",
			fmt.Sprintf("environment variable %s is not set", reg.PasswordEnv), nil)
	}
	return &RegistrySecret{
		Host:     reg.Host,
		Username: reg.Username,
		Password: []byte(password),
	}, nil
}

func (b *Broker) deploySecret() (*DeploySecret, error) {
	dep := b.cfg.Deploy
	key, err := b.readFile(dep.KeyPath)
	if err != nil {
		return nil, services.Wrap(services.ErrCredential, "", "deploy key",
			fmt.Sprintf("read %s", dep.KeyPath), err)
	}
	return &DeploySecret{
		Host:           dep.Host,
		Port:           dep.Port,
		User:           dep.User,
		PrivateKey:     key,
		KnownHostsPath: dep.KnownHostsPath,
		ScriptPath:     dep.ScriptPath,
	}, nil
}
