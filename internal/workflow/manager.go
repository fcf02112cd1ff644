// Package workflow claims pending pipeline runs and drives them
// through the stage chain. Runs execute concurrently on a bounded
// worker pool with no cross-run ordering; within a run, stages follow
// the fixed dependency chain and a failed or skipped dependency skips
// everything downstream.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/run"
	"capstan/internal/services"
	"capstan/internal/stage"
	"capstan/internal/trigger"
)

// pipelineOrder is the stage dependency chain. Each stage depends on
// the one before it.
var pipelineOrder = []string{stage.Test, stage.Build, stage.Publish, stage.Deploy}

// Broker issues per-stage credential grants.
type Broker interface {
	Issue(scopes ...credentials.Scope) (*credentials.Grant, error)
}

// Manager owns the run queue, the worker pool, and periodic
// maintenance of terminal runs.
type Manager struct {
	cfg       *config.Config
	store     *run.Store
	broker    Broker
	evaluator *trigger.Evaluator
	logger    *slog.Logger

	handlers map[string]stage.Handler
	sem      chan struct{}
	inFlight atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	lastErr error

	wg sync.WaitGroup
}

// NewManager constructs a workflow manager. Stage handlers must be
// registered before Start.
func NewManager(cfg *config.Config, store *run.Store, broker Broker, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		broker:    broker,
		evaluator: trigger.NewEvaluator(cfg.Repo.ReleaseBranch),
		logger:    logging.NewComponentLogger(logger, "workflow"),
		handlers:  make(map[string]stage.Handler),
		sem:       make(chan struct{}, cfg.Workflow.WorkerCount),
	}
}

// Register adds a stage handler. Each stage name may be registered once.
func (m *Manager) Register(h stage.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[h.Name()]; exists {
		return fmt.Errorf("stage %s already registered", h.Name())
	}
	m.handlers[h.Name()] = h
	return nil
}

// Start launches the poll and maintenance loops. It fails if any
// pipeline stage has no registered handler.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow manager already started")
	}
	for _, name := range pipelineOrder {
		if _, ok := m.handlers[name]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("no handler registered for stage %s", name)
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(2)
	go m.pollLoop(loopCtx)
	go m.maintenanceLoop(loopCtx)
	m.logger.Info("workflow manager started",
		logging.Int("workers", m.cfg.Workflow.WorkerCount))
	return nil
}

// Stop cancels the loops and waits for in-flight runs to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow manager stopped")
}

// Submit validates an incoming repository event and enqueues a
// pending run for it. The commit may be empty; the build stage bakes
// its default version in that case.
func (m *Manager) Submit(ctx context.Context, event run.EventType, branch, commit string) (*run.PipelineRun, error) {
	if !run.KnownEvent(event) {
		return nil, services.Wrap(services.ErrValidation, "", "submit event",
			fmt.Sprintf("unknown event type %q", event), nil)
	}
	if strings.TrimSpace(branch) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "submit event", "branch is required", nil)
	}
	r, err := m.store.NewRun(ctx, event, strings.TrimSpace(branch), strings.TrimSpace(commit))
	if err != nil {
		return nil, err
	}
	m.logger.Info("run enqueued",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String(logging.FieldEventType, string(event)),
		logging.String(logging.FieldBranch, branch))
	return r, nil
}

// Summary is a point-in-time snapshot of manager state.
type Summary struct {
	Running  bool
	InFlight int
	Workers  int
	LastErr  string
}

// Summary reports manager state for the status API.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{
		Running:  m.running,
		InFlight: int(m.inFlight.Load()),
		Workers:  m.cfg.Workflow.WorkerCount,
	}
	if m.lastErr != nil {
		s.LastErr = m.lastErr.Error()
	}
	return s
}

// Health collects per-stage health in pipeline order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	m.mu.Lock()
	handlers := make([]stage.Handler, 0, len(pipelineOrder))
	for _, name := range pipelineOrder {
		if h, ok := m.handlers[name]; ok {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	health := make([]stage.Health, 0, len(handlers))
	for _, h := range handlers {
		health = append(health, h.HealthCheck(ctx))
	}
	return health
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.Workflow.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	errInterval := time.Duration(m.cfg.Workflow.ErrorRetryIntervalSeconds) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case m.sem <- struct{}{}:
		}

		r, err := m.store.ClaimNextPending(ctx)
		switch {
		case err != nil:
			<-m.sem
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			m.logger.Error("failed to claim pending run", logging.Error(err))
			if !sleepCtx(ctx, errInterval) {
				return
			}
		case r == nil:
			<-m.sem
			if !sleepCtx(ctx, interval) {
				return
			}
		default:
			m.setLastError(nil)
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer func() { <-m.sem }()
				m.inFlight.Add(1)
				defer m.inFlight.Add(-1)
				m.executeRun(ctx, r)
			}()
		}
	}
}

func (m *Manager) maintenanceLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.Workflow.MaintenanceIntervalSeconds) * time.Second
	retention := time.Duration(m.cfg.Workflow.RetentionSeconds) * time.Second

	for sleepCtx(ctx, interval) {
		removed, err := m.store.DeleteTerminal(ctx, retention)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			m.logger.Error("maintenance sweep failed", logging.Error(err))
			continue
		}
		if removed > 0 {
			m.logger.Debug("discarded terminal runs", logging.Int64("count", removed))
		}
	}
}

// executeRun drives one claimed run through the stage chain. Stages
// the event does not authorize, and stages downstream of a failure,
// are skipped rather than failed. Every failure is terminal; the run
// is never retried.
func (m *Manager) executeRun(ctx context.Context, r *run.PipelineRun) {
	eligible := make(map[string]bool)
	for _, name := range m.evaluator.Eligible(trigger.Event{Type: r.Event, Branch: r.Branch}) {
		eligible[name] = true
	}

	// Progress still gets persisted when the daemon is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	failed := false
	for _, name := range pipelineOrder {
		switch {
		case !eligible[name]:
			r.SetStageState(name, run.StageState{Status: run.StageSkipped, Error: "not eligible for event"})
			continue
		case failed:
			r.SetStageState(name, run.StageState{Status: run.StageSkipped, Error: "dependency did not succeed"})
			continue
		}

		r.SetStageState(name, run.StageState{Status: run.StageRunning})
		if err := m.store.Update(persistCtx, r); err != nil {
			m.setLastError(err)
			m.logger.Error("failed to persist stage start",
				logging.Int64(logging.FieldRunID, r.ID), logging.Error(err))
		}

		if err := m.runStage(ctx, r, m.handlers[name]); err != nil {
			failed = true
			r.SetStageState(name, run.StageState{Status: run.StageFailed, Error: err.Error()})
			r.FailureKind = string(services.Classify(err))
			r.ErrorMessage = err.Error()
			m.logger.Error("stage failed",
				logging.Int64(logging.FieldRunID, r.ID),
				logging.String(logging.FieldStage, name),
				logging.String("failure_kind", r.FailureKind),
				logging.Error(err))
			continue
		}
		r.SetStageState(name, run.StageState{Status: run.StageSucceeded})
	}

	if failed {
		r.Status = run.StatusFailed
	} else {
		r.Status = run.StatusSucceeded
	}
	if err := m.store.Update(persistCtx, r); err != nil {
		m.setLastError(err)
		m.logger.Error("failed to persist run outcome",
			logging.Int64(logging.FieldRunID, r.ID), logging.Error(err))
		return
	}
	m.logger.Info("run finished",
		logging.Int64(logging.FieldRunID, r.ID),
		logging.String("status", string(r.Status)))
}

// runStage issues a grant with exactly the stage's declared scopes,
// executes, and closes the grant before returning so secret material
// never outlives the stage.
func (m *Manager) runStage(ctx context.Context, r *run.PipelineRun, h stage.Handler) error {
	if err := h.Prepare(ctx, r); err != nil {
		return err
	}
	grant, err := m.broker.Issue(h.Needs()...)
	if err != nil {
		return err
	}
	defer grant.Close()
	return h.Execute(ctx, r, grant)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
