package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-pof/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "pof.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndCountRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := uuid.NewString()

	if err := s.SaveRun(ctx, RunRecord{ID: id, Kind: "simulate", Component: "pole", Status: "complete", Iterations: 10, Completed: 10, TEnd: 2, Seed: 7}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	pof := []models.POFRow{
		{Source: models.POFMaintained, FailureMode: "decay", Active: true, Time: 0, Unit: "years", POF: 0},
		{Source: models.POFMaintained, FailureMode: "decay", Active: true, Time: 1, Unit: "years", POF: 0.1},
		{Source: models.POFMaintained, FailureMode: "decay", Active: true, Time: 2, Unit: "years", POF: 0.3},
	}
	if err := s.SavePOF(ctx, id, pof); err != nil {
		t.Fatalf("save pof: %v", err)
	}
	// saving again replaces rather than duplicates
	if err := s.SavePOF(ctx, id, pof); err != nil {
		t.Fatalf("save pof again: %v", err)
	}
	if n, err := s.CountRows(ctx, "pof_rows", id); err != nil || n != 3 {
		t.Fatalf("expected 3 pof rows, got %d (%v)", n, err)
	}

	sens := []models.SensitivityRow{
		{Context: map[string]float64{"component/fm/decay/cof": 10}, Variable: "component/fm/decay/task/inspection/t_interval", Value: 5, Task: "inspection", Active: true},
		{Variable: "component/fm/decay/task/inspection/t_interval", Value: 5, Task: "total", Active: true},
	}
	if err := s.SaveSensitivity(ctx, id, sens); err != nil {
		t.Fatalf("save sensitivity: %v", err)
	}
	if n, _ := s.CountRows(ctx, "sensitivity_rows", id); n != 2 {
		t.Fatalf("expected 2 sensitivity rows, got %d", n)
	}

	run, err := s.Run(ctx, id)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Seed != 7 || run.Component != "pole" || run.CreatedAt.IsZero() {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestSaveRunRejectsBadID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(context.Background(), RunRecord{ID: "not-a-uuid"}); err == nil {
		t.Fatalf("expected an error for a malformed run id")
	}
	if _, err := s.CountRows(context.Background(), "runs; DROP TABLE runs", "x"); err == nil {
		t.Fatalf("expected unknown table to be rejected")
	}
}
