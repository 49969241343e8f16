package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/qsync/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	state := run.State
	if state == "" {
		state = model.RunStateRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, backend, policy, jobs, succeeded, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Backend, run.Policy, run.Jobs,
		boolToInt(run.Succeeded), string(state),
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, state model.RunState, succeeded bool, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "state", state)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, succeeded = ?, finished_at = ? WHERE id = ?`,
		string(state), boolToInt(succeeded), at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, backend, policy, jobs, succeeded, state
		 FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, backend, policy, jobs, succeeded, state
		 FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// --- Attempts ---

func (s *SQLiteStore) RecordSubmit(ctx context.Context, runID string, job *model.Job, at time.Time) error {
	s.logger.Debug("sql", "op", "insert", "table", "attempts", "run_id", runID, "job_id", job.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, source, command, job_id, attempt, state, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, job.Label(), job.CommandLine(), job.ID, job.Attempts,
		string(model.AttemptSubmitted), at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, runID string, o model.Outcome, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "attempts", "run_id", runID, "job_id", o.JobID)

	state := model.AttemptSucceeded
	if !o.Succeeded() {
		state = model.AttemptFailed
	}
	var exitStatus *int
	var signal string
	if o.Info != nil {
		if o.Info.HasExited {
			v := o.Info.ExitStatus
			exitStatus = &v
		}
		signal = o.Info.Signal
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET state = ?, reason = ?, action = ?, exit_status = ?, signal = ?, finished_at = ?
		 WHERE run_id = ? AND job_id = ?`,
		string(state), string(o.Reason), string(o.Action), exitStatus, signal,
		at.UTC().Format(time.RFC3339Nano), runID, o.JobID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("attempt %s of run %s not found", o.JobID, runID)
	}
	return nil
}

const attemptColumns = `id, run_id, source, command, job_id, attempt, state, reason, action,
	exit_status, signal, submitted_at, finished_at`

func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]*model.Attempt, error) {
	s.logger.Debug("sql", "op", "list", "table", "attempts", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}

func (s *SQLiteStore) ListFailedAttempts(ctx context.Context, opts model.ListOptions) ([]*model.Attempt, error) {
	s.logger.Debug("sql", "op", "list_failed", "table", "attempts", "limit", opts.Limit)
	opts.Clamp()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE state = ?
		 ORDER BY finished_at DESC, id DESC LIMIT ? OFFSET ?`,
		string(model.AttemptFailed), opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var startedAt, state string
	var finishedAt sql.NullString
	var succeeded int

	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &run.Backend, &run.Policy,
		&run.Jobs, &succeeded, &state); err != nil {
		return nil, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	run.FinishedAt = parseNullTime(finishedAt)
	run.Succeeded = succeeded != 0
	run.State = model.RunState(state)
	return &run, nil
}

func scanAttempts(rows *sql.Rows) ([]*model.Attempt, error) {
	defer rows.Close()

	var attempts []*model.Attempt
	for rows.Next() {
		var a model.Attempt
		var state, reason, action, submittedAt string
		var exitStatus sql.NullInt64
		var finishedAt sql.NullString

		if err := rows.Scan(&a.ID, &a.RunID, &a.Source, &a.Command, &a.JobID, &a.Attempt,
			&state, &reason, &action, &exitStatus, &a.Signal, &submittedAt, &finishedAt); err != nil {
			return nil, err
		}
		a.State = model.AttemptState(state)
		a.Reason = model.FailureReason(reason)
		a.Action = model.Action(action)
		if exitStatus.Valid {
			v := int(exitStatus.Int64)
			a.ExitStatus = &v
		}
		a.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
		a.FinishedAt = parseNullTime(finishedAt)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
