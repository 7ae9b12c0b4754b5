// Package store exports simulation reports to SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,           -- 'simulate' or 'sensitivity'
    component TEXT NOT NULL,
    status TEXT NOT NULL,
    iterations INTEGER NOT NULL,
    completed INTEGER NOT NULL,
    t_end INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pof_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    source TEXT NOT NULL,
    failure_mode TEXT NOT NULL,
    active INTEGER NOT NULL,
    time INTEGER NOT NULL,
    unit TEXT NOT NULL,
    pof REAL NOT NULL,
    PRIMARY KEY (run_id, source, failure_mode, time)
);

CREATE TABLE IF NOT EXISTS cost_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    failure_mode TEXT NOT NULL,
    task TEXT NOT NULL,
    active INTEGER NOT NULL,
    time INTEGER NOT NULL,
    quantity REAL NOT NULL,
    cost REAL NOT NULL,
    quantity_cumulative REAL NOT NULL,
    cost_cumulative REAL NOT NULL,
    cost_annual REAL NOT NULL,
    cost_lifecycle REAL NOT NULL,
    PRIMARY KEY (run_id, failure_mode, task, time)
);

CREATE TABLE IF NOT EXISTS summary_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    failure_mode TEXT NOT NULL,
    active INTEGER NOT NULL,
    in_service INTEGER NOT NULL,
    conditional_failures INTEGER NOT NULL,
    functional_failures INTEGER NOT NULL,
    prevented REAL NOT NULL,
    inspection_effective REAL NOT NULL,
    PRIMARY KEY (run_id, failure_mode)
);

CREATE TABLE IF NOT EXISTS sensitivity_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    context TEXT,                 -- JSON of outer sweep values
    variable TEXT NOT NULL,
    value REAL NOT NULL,
    task TEXT NOT NULL,
    active INTEGER NOT NULL,
    quantity_cumulative REAL NOT NULL,
    cost_cumulative REAL NOT NULL,
    cost_annual REAL NOT NULL,
    cost_lifecycle REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensitivity_run ON sensitivity_rows(run_id, variable, value);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InitSchema creates the tables if needed and records the schema version.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
