package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-pof/internal/api"
	"github.com/miradorstack/mirador-pof/internal/config"
	"github.com/miradorstack/mirador-pof/internal/loader"
	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/services"
	"github.com/miradorstack/mirador-pof/internal/store"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// backend runs requests in-process or against a remote server.
type backend interface {
	Simulate(ctx context.Context, req models.SimulateRequest) (models.RunInfo, error)
	Sensitivity(ctx context.Context, req models.SensitivityRequest) (models.RunInfo, error)
	Progress(ctx context.Context, id string) (models.RunInfo, error)
	Cancel(ctx context.Context, id string) (models.RunInfo, error)
	Report(ctx context.Context, req models.ReportRequest) (*models.Report, error)
	Close() error
}

// openBackend picks the backend from the persistent flags. dbPath enables
// sqlite export for local runs.
func openBackend(cmd *cobra.Command, dbPath string) (backend, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr != "" {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		return &remoteBackend{conn: conn, client: api.NewPofEngineClient(conn)}, nil
	}

	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := utils.NewLogger(level, cfg.Logging.JSON)

	b := &localBackend{}
	var reportStore services.ReportStore
	if dbPath != "" {
		st, err := store.Open(cmd.Context(), dbPath)
		if err != nil {
			return nil, err
		}
		b.store = st
		reportStore = st
	}
	b.runner = services.NewRunner(services.RunnerOptions{
		Logger:     logger,
		Simulation: cfg.Simulation,
		Store:      reportStore,
	})
	return b, nil
}

type localBackend struct {
	runner *services.Runner
	store  *store.SQLiteStore
}

func (b *localBackend) Simulate(ctx context.Context, req models.SimulateRequest) (models.RunInfo, error) {
	return b.runner.Simulate(ctx, req)
}

func (b *localBackend) Sensitivity(ctx context.Context, req models.SensitivityRequest) (models.RunInfo, error) {
	return b.runner.Sensitivity(ctx, req)
}

func (b *localBackend) Progress(_ context.Context, id string) (models.RunInfo, error) {
	return b.runner.Progress(id)
}

func (b *localBackend) Cancel(_ context.Context, id string) (models.RunInfo, error) {
	return b.runner.Cancel(id)
}

func (b *localBackend) Report(ctx context.Context, req models.ReportRequest) (*models.Report, error) {
	return b.runner.Report(ctx, req)
}

func (b *localBackend) Close() error {
	b.runner.Close()
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

type remoteBackend struct {
	conn   *grpc.ClientConn
	client *api.PofEngineClient
}

func (b *remoteBackend) Simulate(ctx context.Context, req models.SimulateRequest) (models.RunInfo, error) {
	var info models.RunInfo
	err := b.client.Do(ctx, api.MethodSimulate, req, &info)
	return info, err
}

func (b *remoteBackend) Sensitivity(ctx context.Context, req models.SensitivityRequest) (models.RunInfo, error) {
	var info models.RunInfo
	err := b.client.Do(ctx, api.MethodSensitivity, req, &info)
	return info, err
}

func (b *remoteBackend) Progress(ctx context.Context, id string) (models.RunInfo, error) {
	var info models.RunInfo
	err := b.client.Do(ctx, api.MethodProgress, models.RunRequest{RunID: id}, &info)
	return info, err
}

func (b *remoteBackend) Cancel(ctx context.Context, id string) (models.RunInfo, error) {
	var info models.RunInfo
	err := b.client.Do(ctx, api.MethodCancel, models.RunRequest{RunID: id}, &info)
	return info, err
}

func (b *remoteBackend) Report(ctx context.Context, req models.ReportRequest) (*models.Report, error) {
	var report models.Report
	if err := b.client.Do(ctx, api.MethodReport, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (b *remoteBackend) Close() error { return b.conn.Close() }

// readModel decodes a model file and checks its tags.
func readModel(path string) (*models.ComponentSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	spec, err := loader.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}
