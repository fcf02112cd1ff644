package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"capstan/internal/config"
)

// ErrNotFound is returned when a run does not exist in the store.
var ErrNotFound = errors.New("run not found")

// Store manages pipeline run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the run database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "runs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// NewRun inserts a pending run for a qualifying repository event.
func (s *Store) NewRun(ctx context.Context, event EventType, branch, commit string) (*PipelineRun, error) {
	if !KnownEvent(event) {
		return nil, fmt.Errorf("unknown event type %q", event)
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO pipeline_runs (
                uuid, commit_id, event_type, branch, status, stages_json, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), commit, string(event), branch, string(StatusPending), "{}", timestamp, timestamp,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ClaimNextPending atomically marks the oldest pending run as running
// and returns it. Returns (nil, nil) when nothing is pending.
func (s *Store) ClaimNextPending(ctx context.Context) (*PipelineRun, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`UPDATE pipeline_runs SET status = ?, updated_at = ?
             WHERE id = (
                SELECT id FROM pipeline_runs WHERE status = ? ORDER BY id LIMIT 1
             )
             RETURNING id`,
			string(StatusRunning), now, string(StatusPending),
		).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending run: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Update persists the mutable fields of a run.
func (s *Store) Update(ctx context.Context, r *PipelineRun) error {
	if r == nil || r.ID == 0 {
		return errors.New("run with id required")
	}
	stages := r.Stages
	if stages == nil {
		stages = map[string]StageState{}
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("marshal stage states: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()

	err = retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE pipeline_runs SET
                status = ?, stages_json = ?, failure_kind = ?, error_message = ?,
                artifact_path = ?, artifact_digest = ?, version_tag = ?, updated_at = ?
             WHERE id = ?`,
			string(r.Status), string(stagesJSON), r.FailureKind, r.ErrorMessage,
			r.ArtifactPath, r.ArtifactDigest, r.VersionTag,
			r.UpdatedAt.Format(time.RFC3339Nano), r.ID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update run %d: %w", r.ID, err)
	}
	return nil
}

// GetByID fetches a run by its numeric identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanRun(row)
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*PipelineRun, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteTerminal removes terminal runs older than the retention
// window. Runs are discarded, not archived.
func (s *Store) DeleteTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	var deleted int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM pipeline_runs WHERE status IN (?, ?) AND updated_at <= ?`,
			string(StatusSucceeded), string(StatusFailed), cutoff,
		)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete terminal runs: %w", err)
	}
	return deleted, nil
}

// LatestArtifact returns the recorded "latest" pointer, or nil when
// nothing has been published yet.
func (s *Store) LatestArtifact(ctx context.Context) (*LatestPointer, error) {
	var (
		createdRaw string
		commit     string
		digest     string
		updatedRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_created_at, commit_id, digest, updated_at FROM latest_pointer WHERE id = 1`,
	).Scan(&createdRaw, &commit, &digest, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse latest pointer run_created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse latest pointer updated_at: %w", err)
	}
	return &LatestPointer{RunCreatedAt: created, Commit: commit, Digest: digest, UpdatedAt: updated}, nil
}

// RecordLatest upserts the "latest" pointer record.
func (s *Store) RecordLatest(ctx context.Context, p LatestPointer) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO latest_pointer (id, run_created_at, commit_id, digest, updated_at)
             VALUES (1, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                run_created_at = excluded.run_created_at,
                commit_id = excluded.commit_id,
                digest = excluded.digest,
                updated_at = excluded.updated_at`,
			p.RunCreatedAt.UTC().Format(time.RFC3339Nano), p.Commit, p.Digest, now,
		)
		return err
	})
}

const selectColumns = `SELECT
    id, uuid, commit_id, event_type, branch, status, stages_json,
    failure_kind, error_message, artifact_path, artifact_digest,
    version_tag, created_at, updated_at
FROM pipeline_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*PipelineRun, error) {
	var (
		r          PipelineRun
		event      string
		status     string
		stagesJSON string
		createdRaw string
		updatedRaw string
	)
	err := row.Scan(
		&r.ID, &r.UUID, &r.Commit, &event, &r.Branch, &status, &stagesJSON,
		&r.FailureKind, &r.ErrorMessage, &r.ArtifactPath, &r.ArtifactDigest,
		&r.VersionTag, &createdRaw, &updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Event = EventType(event)
	r.Status = Status(status)
	if stagesJSON != "" {
		if err := json.Unmarshal([]byte(stagesJSON), &r.Stages); err != nil {
			return nil, fmt.Errorf("decode stage states: %w", err)
		}
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return nil, fmt.Errorf("parse run created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedRaw); err != nil {
		return nil, fmt.Errorf("parse run updated_at: %w", err)
	}
	return &r, nil
}
