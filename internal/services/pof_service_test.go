package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-pof/internal/api"
	"github.com/miradorstack/mirador-pof/internal/models"
)

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestPofServiceSimulateAndProgress(t *testing.T) {
	svc := NewPofService(slog.New(slog.DiscardHandler), newTestRunner(t, nil))

	out, err := svc.Simulate(context.Background(), mustStruct(t, map[string]any{
		"model": "pole", "iterations": 10, "t_end": 20, "wait": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info models.RunInfo
	if err := api.FromStruct(out, &info); err != nil {
		t.Fatalf("decode run info: %v", err)
	}
	if info.State != models.RunComplete || info.Completed != 10 {
		t.Fatalf("unexpected run info %+v", info)
	}

	out, err = svc.Progress(context.Background(), mustStruct(t, map[string]any{"run_id": info.ID}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.GetFields()["progress"].GetNumberValue(); got != 1 {
		t.Fatalf("expected progress 1, got %v", got)
	}

	out, err = svc.Report(context.Background(), mustStruct(t, map[string]any{"run_id": info.ID, "kind": "risk_cost"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.GetFields()["rows"].GetListValue().GetValues()) == 0 {
		t.Fatalf("expected cost rows")
	}
}

func TestPofServiceStatusCodes(t *testing.T) {
	svc := NewPofService(slog.New(slog.DiscardHandler), newTestRunner(t, nil))
	ctx := context.Background()

	_, err := svc.Simulate(ctx, mustStruct(t, map[string]any{"model": "pole", "colour": "green"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for an unknown field, got %v", err)
	}
	_, err = svc.Simulate(ctx, mustStruct(t, map[string]any{"model": "tower"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for an unknown model, got %v", err)
	}
	_, err = svc.Progress(ctx, mustStruct(t, map[string]any{"run_id": uuid.NewString()}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = svc.Cancel(ctx, mustStruct(t, map[string]any{}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument without a run id, got %v", err)
	}
}

func TestPofServiceHealth(t *testing.T) {
	svc := NewPofService(nil, newTestRunner(t, nil))
	out, err := svc.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.GetFields()["status"].GetStringValue() != "SERVING" {
		t.Fatalf("unexpected health %v", out)
	}

	out, err = NewPofService(nil, nil).Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.GetFields()["status"].GetStringValue() != "NOT_SERVING" {
		t.Fatalf("expected NOT_SERVING without a runner, got %v", out)
	}
}
