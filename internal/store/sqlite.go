package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/miradorstack/mirador-pof/internal/models"
)

// RunRecord describes one stored run.
type RunRecord struct {
	ID         string
	Kind       string
	Component  string
	Status     string
	Iterations int
	Completed  int
	TEnd       int
	Seed       uint64
	CreatedAt  time.Time
}

// SQLiteStore writes report rows keyed by run id.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted for
// tests.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveRun inserts or replaces a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, r RunRecord) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("run id %q: %w", r.ID, err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, component, status, iterations, completed, t_end, seed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, completed = excluded.completed`,
		r.ID, r.Kind, r.Component, r.Status, r.Iterations, r.Completed, r.TEnd, int64(r.Seed),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// SavePOF replaces the probability of failure rows of a run.
func (s *SQLiteStore) SavePOF(ctx context.Context, runID string, rows []models.POFRow) error {
	return s.replace(ctx, "pof_rows", runID, `
		INSERT INTO pof_rows (run_id, source, failure_mode, active, time, unit, pof)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []any {
		r := rows[i]
		return []any{runID, string(r.Source), r.FailureMode, r.Active, r.Time, r.Unit, r.POF}
	})
}

// SaveCosts replaces the risk cost rows of a run.
func (s *SQLiteStore) SaveCosts(ctx context.Context, runID string, rows []models.CostRow) error {
	return s.replace(ctx, "cost_rows", runID, `
		INSERT INTO cost_rows (run_id, failure_mode, task, active, time, quantity, cost,
			quantity_cumulative, cost_cumulative, cost_annual, cost_lifecycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []any {
		r := rows[i]
		return []any{runID, r.FailureMode, r.Task, r.Active, r.Time, r.Quantity, r.Cost,
			r.QuantityCumulative, r.CostCumulative, r.CostAnnual, r.CostLifecycle}
	})
}

// SaveSummary replaces the summary rows of a run.
func (s *SQLiteStore) SaveSummary(ctx context.Context, runID string, rows []models.SummaryRow) error {
	return s.replace(ctx, "summary_rows", runID, `
		INSERT INTO summary_rows (run_id, failure_mode, active, in_service, conditional_failures,
			functional_failures, prevented, inspection_effective)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []any {
		r := rows[i]
		return []any{runID, r.FailureMode, r.Active, r.InService, r.ConditionalFailures,
			r.FunctionalFailures, r.Prevented, r.InspectionEffective}
	})
}

// SaveSensitivity replaces the sensitivity rows of a run.
func (s *SQLiteStore) SaveSensitivity(ctx context.Context, runID string, rows []models.SensitivityRow) error {
	contexts := make([]string, len(rows))
	for i, r := range rows {
		if len(r.Context) == 0 {
			continue
		}
		b, err := json.Marshal(r.Context)
		if err != nil {
			return fmt.Errorf("encode sensitivity context: %w", err)
		}
		contexts[i] = string(b)
	}
	return s.replace(ctx, "sensitivity_rows", runID, `
		INSERT INTO sensitivity_rows (run_id, context, variable, value, task, active,
			quantity_cumulative, cost_cumulative, cost_annual, cost_lifecycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(i int) []any {
		r := rows[i]
		return []any{runID, contexts[i], r.Variable, r.Value, r.Task, r.Active,
			r.QuantityCumulative, r.CostCumulative, r.CostAnnual, r.CostLifecycle}
	})
}

// CountRows returns the number of rows a run has in table.
func (s *SQLiteStore) CountRows(ctx context.Context, table, runID string) (int, error) {
	switch table {
	case "pof_rows", "cost_rows", "summary_rows", "sensitivity_rows":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Run loads a stored run record.
func (s *SQLiteStore) Run(ctx context.Context, id string) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		r       RunRecord
		seed    int64
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, component, status, iterations, completed, t_end, seed, created_at
		FROM runs WHERE id = ?`, id).Scan(
		&r.ID, &r.Kind, &r.Component, &r.Status, &r.Iterations, &r.Completed, &r.TEnd, &seed, &created)
	if err != nil {
		return RunRecord{}, fmt.Errorf("load run %s: %w", id, err)
	}
	r.Seed = uint64(seed)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, nil
}

// replace deletes the run's rows in table and inserts n new ones in one
// transaction.
func (s *SQLiteStore) replace(ctx context.Context, table, runID, insert string, n int, args func(i int) []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", table, err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", table, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}
