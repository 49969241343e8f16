package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the ledger tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		backend     TEXT NOT NULL,
		policy      TEXT NOT NULL,
		jobs        INTEGER NOT NULL DEFAULT 0,
		succeeded   INTEGER NOT NULL DEFAULT 0,
		state       TEXT NOT NULL DEFAULT 'RUNNING'
	)`,

	`CREATE TABLE IF NOT EXISTS attempts (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		source       TEXT NOT NULL,
		job_id       TEXT NOT NULL,
		attempt      INTEGER NOT NULL,
		state        TEXT NOT NULL DEFAULT 'SUBMITTED',
		reason       TEXT NOT NULL DEFAULT '',
		exit_status  INTEGER,
		submitted_at TEXT NOT NULL,
		finished_at  TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_run_job ON attempts(run_id, job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// alterStatements are idempotent column additions for ledgers created by
// older versions.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // optional index to create after adding the column
}{
	{
		table:    "attempts",
		column:   "command",
		alterSQL: "ALTER TABLE attempts ADD COLUMN command TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "attempts",
		column:   "action",
		alterSQL: "ALTER TABLE attempts ADD COLUMN action TEXT NOT NULL DEFAULT ''",
	},
	{
		table:    "attempts",
		column:   "signal",
		alterSQL: "ALTER TABLE attempts ADD COLUMN signal TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_attempts_state ON attempts(state)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
