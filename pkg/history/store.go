package history

// Store keeps one row per launch of a supervised app in SQLite, so crash loops
// remain visible across supervisor restarts.

import (
	"context"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	app TEXT NOT NULL,
	pid INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	exited_at TIMESTAMP,
	exit_code INTEGER,
	uptime_ms INTEGER,
	restart_count INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_app ON runs (app);
`

const insertRunSql = `
INSERT INTO runs (id, app, pid, started_at, restart_count, reason)
VALUES (:id, :app, :pid, :started_at, :restart_count, :reason)
`

const updateRunExitSql = `
UPDATE runs SET exited_at = ?, exit_code = ?, uptime_ms = ?, reason = ?
WHERE id = ?
`

const selectRunsSql = `
SELECT id, app, pid, started_at, exited_at, exit_code, uptime_ms, restart_count, reason
FROM runs
WHERE app = ?
ORDER BY rowid DESC
LIMIT ?
`

const interruptRunsSql = `
UPDATE runs SET exited_at = ?, reason = 'interrupted'
WHERE exited_at IS NULL
`

// DefaultListLimit is used when ListRuns is called with a non-positive limit
const DefaultListLimit = 50

type Store struct {
	db     *sqlx.DB
	logger logging.Logger
}

// Open connects to the SQLite database at path and creates the schema
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidationError("state database path cannot be empty", nil)
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewIOError("failed to open state database", err).WithContext("path", path)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("Run history store opened: %s", path)
	return store, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewIOError("failed to begin schema transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.NewIOError("failed to create schema", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIOError("failed to commit schema", err)
	}
	return nil
}

// RecordStart inserts a run when a process has been launched
func (s *Store) RecordStart(ctx context.Context, run domain.Run) error {
	if run.ID == "" || run.App == "" {
		return errors.NewValidationError("run ID and app are required", nil)
	}

	run.StartedAt = run.StartedAt.UTC()
	if _, err := s.db.NamedExecContext(ctx, insertRunSql, run); err != nil {
		return errors.NewIOError("failed to record run start", err).WithContext("run_id", run.ID).WithContext("app", run.App)
	}
	return nil
}

// RecordExit completes a run
func (s *Store) RecordExit(ctx context.Context, runID string, exitedAt time.Time, exitCode int, uptime time.Duration, reason string) error {
	result, err := s.db.ExecContext(ctx, updateRunExitSql, exitedAt.UTC(), exitCode, uptime.Milliseconds(), reason, runID)
	if err != nil {
		return errors.NewIOError("failed to record run exit", err).WithContext("run_id", runID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewIOError("failed to record run exit", err).WithContext("run_id", runID)
	}
	if affected == 0 {
		return errors.NewNotFoundError("run not found", nil).WithContext("run_id", runID)
	}
	return nil
}

// ListRuns returns the most recent runs of an app, newest first
func (s *Store) ListRuns(ctx context.Context, app string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	runs := []domain.Run{}
	if err := s.db.SelectContext(ctx, &runs, selectRunsSql, app, limit); err != nil {
		return nil, errors.NewIOError("failed to list runs", err).WithContext("app", app)
	}
	return runs, nil
}

// MarkInterrupted closes runs left open by a supervisor that did not shut down cleanly.
// It returns the number of runs closed.
func (s *Store) MarkInterrupted(ctx context.Context, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, interruptRunsSql, at.UTC())
	if err != nil {
		return 0, errors.NewIOError("failed to close interrupted runs", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewIOError("failed to close interrupted runs", err)
	}
	if affected > 0 {
		s.logger.Warnf("Closed %d runs left open by a previous supervisor", affected)
	}
	return affected, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.NewIOError("failed to close state database", err)
	}
	return nil
}
