package run

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    commit_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    branch TEXT NOT NULL,
    status TEXT NOT NULL,
    stages_json TEXT NOT NULL DEFAULT '{}',
    failure_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    artifact_path TEXT NOT NULL DEFAULT '',
    artifact_digest TEXT NOT NULL DEFAULT '',
    version_tag TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status, id);

CREATE TABLE IF NOT EXISTS latest_pointer (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    run_created_at TEXT NOT NULL,
    commit_id TEXT NOT NULL,
    digest TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
