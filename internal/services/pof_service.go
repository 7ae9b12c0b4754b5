package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-pof/internal/api"
	"github.com/miradorstack/mirador-pof/internal/models"
)

// PofService implements the gRPC PofEngine service on top of a Runner.
type PofService struct {
	logger *slog.Logger
	runner *Runner
}

var _ api.PofEngineServer = (*PofService)(nil)

// NewPofService constructs the service facade.
func NewPofService(logger *slog.Logger, runner *Runner) *PofService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PofService{logger: logger, runner: runner}
}

// Simulate starts an ensemble run.
func (s *PofService) Simulate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "runner not configured")
	}
	var req models.SimulateRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("Simulate called", slog.String("model", req.Model), slog.Int("iterations", req.Iterations))

	info, err := s.runner.Simulate(ctx, req)
	if err != nil {
		return nil, s.toStatus("simulate", err)
	}
	return encode(info)
}

// Sensitivity starts a sensitivity sweep.
func (s *PofService) Sensitivity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "runner not configured")
	}
	var req models.SensitivityRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("Sensitivity called", slog.String("model", req.Model), slog.Int("sweeps", len(req.Sweeps)))

	info, err := s.runner.Sensitivity(ctx, req)
	if err != nil {
		return nil, s.toStatus("sensitivity", err)
	}
	return encode(info)
}

// Progress reports the state of a run.
func (s *PofService) Progress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.runRequest(in)
	if err != nil {
		return nil, err
	}
	info, err := s.runner.Progress(req.RunID)
	if err != nil {
		return nil, s.toStatus("progress", err)
	}
	return encode(info)
}

// Cancel stops a run; partial results stay available.
func (s *PofService) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.runRequest(in)
	if err != nil {
		return nil, err
	}
	info, err := s.runner.Cancel(req.RunID)
	if err != nil {
		return nil, s.toStatus("cancel", err)
	}
	return encode(info)
}

// Report renders one report of a finished run.
func (s *PofService) Report(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "runner not configured")
	}
	var req models.ReportRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start := time.Now()
	report, err := s.runner.Report(ctx, req)
	if err != nil {
		return nil, s.toStatus("report", err)
	}
	s.logger.Debug("report rendered", slog.String("run_id", req.RunID), slog.String("kind", string(req.Kind)), slog.Duration("elapsed", time.Since(start)))
	return encode(report)
}

// Health returns the current health state.
func (s *PofService) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return encode(models.Health{Status: "NOT_SERVING"})
	}
	return encode(s.runner.Health())
}

func (s *PofService) runRequest(in *structpb.Struct) (models.RunRequest, error) {
	var req models.RunRequest
	if s.runner == nil {
		return req, status.Error(codes.FailedPrecondition, "runner not configured")
	}
	if err := api.FromStruct(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" {
		return req, status.Error(codes.InvalidArgument, "run_id is required")
	}
	return req, nil
}

func (s *PofService) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrRunNotFinished):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(op+" failed", slog.Any("error", err))
	return status.Error(codes.Internal, op+" failed")
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
