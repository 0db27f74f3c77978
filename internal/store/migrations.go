package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create learning tables",
		sql: `
CREATE TABLE IF NOT EXISTS response_weights (
	prompt_type TEXT NOT NULL,
	response_token TEXT NOT NULL,
	weight REAL NOT NULL,
	successes INTEGER NOT NULL DEFAULT 0,
	sample_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (prompt_type, response_token)
);

CREATE TABLE IF NOT EXISTS response_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	pane_id TEXT NOT NULL,
	prompt_type TEXT NOT NULL,
	matched_text TEXT NOT NULL,
	chosen_response TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	auto_applied INTEGER NOT NULL DEFAULT 0,
	human_override TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	overridden_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_response_records_session_id ON response_records(session_id);
CREATE INDEX IF NOT EXISTS idx_response_records_created_at ON response_records(created_at);
`,
	},
}

func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	return nil
}
