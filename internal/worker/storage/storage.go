package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const schema = `
	CREATE TABLE IF NOT EXISTS voice_runs (
		run_id          TEXT PRIMARY KEY,
		job_id          TEXT NOT NULL,
		voice_ref       TEXT NOT NULL DEFAULT '',
		outfile_hint    TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		failed_stage    TEXT NOT NULL DEFAULT '',
		error_class     TEXT NOT NULL DEFAULT '',
		error_message   TEXT NOT NULL DEFAULT '',
		artifact_path   TEXT NOT NULL DEFAULT '',
		published_path  TEXT NOT NULL DEFAULT '',
		upload_attempts INTEGER NOT NULL DEFAULT 0,
		deleted         BOOLEAN NOT NULL DEFAULT FALSE,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ NOT NULL,
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		stages          JSONB NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_voice_runs_finished ON voice_runs (finished_at DESC, run_id DESC);
	CREATE INDEX IF NOT EXISTS idx_voice_runs_job ON voice_runs (job_id);
`

const runColumns = `
	run_id, job_id, voice_ref, outfile_hint, status, failed_stage,
	error_class, error_message, artifact_path, published_path,
	upload_attempts, deleted, started_at, finished_at, duration_ms, stages
`

// Storage keeps run history in PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the history table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Record inserts a run. Recording the same run twice keeps the latest copy.
func (s *Storage) Record(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO voice_runs (` + runColumns + `) VALUES (
			:run_id, :job_id, :voice_ref, :outfile_hint, :status, :failed_stage,
			:error_class, :error_message, :artifact_path, :published_path,
			:upload_attempts, :deleted, :started_at, :finished_at, :duration_ms, :stages
		)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			failed_stage = EXCLUDED.failed_stage,
			error_class = EXCLUDED.error_class,
			error_message = EXCLUDED.error_message,
			published_path = EXCLUDED.published_path,
			upload_attempts = EXCLUDED.upload_attempts,
			deleted = EXCLUDED.deleted,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms,
			stages = EXCLUDED.stages
	`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("Run recorded",
		slog.String("run_id", run.RunID),
		slog.String("job_id", run.JobID),
		slog.String("status", run.Status),
	)

	return nil
}

// Get retrieves a run by its ID
func (s *Storage) Get(ctx context.Context, runID string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM voice_runs WHERE run_id = $1`

	var run Run
	if err := s.db.GetContext(ctx, &run, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// List returns runs newest first, PageSize+1 at most
func (s *Storage) List(ctx context.Context, filter Filter) ([]Run, error) {
	query, args := listQuery(filter)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Summary counts runs per status
func (s *Storage) Summary(ctx context.Context) (*Totals, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	query := `SELECT status, COUNT(*) AS count FROM voice_runs GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to summarize runs: %w", err)
	}

	totals := &Totals{}
	for _, r := range rows {
		totals.add(r.Status, r.Count)
	}

	return totals, nil
}

func listQuery(filter Filter) (string, []any) {
	query := `SELECT ` + runColumns + ` FROM voice_runs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (finished_at, run_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FinishedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY finished_at DESC, run_id DESC"

	// one extra row tells the caller whether more pages exist
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}
