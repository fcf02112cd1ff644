// Package daemon wires the run store, the workflow manager, and the
// HTTP API into a single-instance background process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"capstan/internal/api"
	"capstan/internal/config"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/workflow"
)

// Daemon coordinates background processing and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *run.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *run.Store, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "capstand.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, starts the workflow manager, and
// brings up the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another capstand instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("capstand started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Path()))
	return nil
}

// Stop shuts down the API, drains the workflow manager, and releases
// the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("capstand stopped")
}

// Close stops the daemon and closes the run store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the bound API address, or empty before Start.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status assembles the runtime snapshot served by /api/status.
func (d *Daemon) Status() api.DaemonStatus {
	summary := d.workflow.Summary()
	return api.DaemonStatus{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		InFlight:  summary.InFlight,
		Workers:   summary.Workers,
		StorePath: d.store.Path(),
		LockPath:  d.lockPath,
		LastError: summary.LastErr,
	}
}
