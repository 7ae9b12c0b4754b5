// Command smoke drives a local pof-engine: it checks health, runs a short
// ensemble for every preloaded model and prints the component summary.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/mirador-pof/internal/api"
	"github.com/miradorstack/mirador-pof/internal/models"
)

func main() {
	addr := flag.String("addr", "localhost:50061", "pof-engine address")
	iterations := flag.Int("iterations", 200, "iterations per model")
	tEnd := flag.Int("t-end", 100, "simulation horizon")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	logger := log.New(log.Writer(), "pof-smoke ", log.LstdFlags|log.Lmicroseconds)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		logger.Fatalf("health check: %v", err)
	}
	logger.Printf("health %s", hc.GetStatus())

	client := api.NewPofEngineClient(conn)
	var health models.Health
	if err := client.Do(ctx, api.MethodHealth, nil, &health); err != nil {
		logger.Fatalf("engine health: %v", err)
	}
	if len(health.Models) == 0 {
		logger.Fatalf("no preloaded models; set models.dir or MIRADOR_POF_MODELS_DIR")
	}

	failed := 0
	for _, name := range health.Models {
		if err := runModel(ctx, logger, client, name, *iterations, *tEnd); err != nil {
			logger.Printf("%s: %v", name, err)
			failed++
		}
	}
	if failed > 0 {
		logger.Fatalf("%d of %d models failed", failed, len(health.Models))
	}
}

func runModel(ctx context.Context, logger *log.Logger, client *api.PofEngineClient, name string, n, tEnd int) error {
	start := time.Now()
	var info models.RunInfo
	req := models.SimulateRequest{ModelRef: models.ModelRef{Model: name}, Iterations: n, TEnd: tEnd}
	if err := client.Do(ctx, api.MethodSimulate, req, &info); err != nil {
		return err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for info.State == models.RunRunning {
		select {
		case <-ctx.Done():
			_ = client.Do(context.Background(), api.MethodCancel, models.RunRequest{RunID: info.ID}, &info)
			return ctx.Err()
		case <-ticker.C:
		}
		if err := client.Do(ctx, api.MethodProgress, models.RunRequest{RunID: info.ID}, &info); err != nil {
			return err
		}
		logger.Printf("%s %s %.0f%%", name, info.ID, info.Progress*100)
	}

	var report models.Report
	if err := client.Do(ctx, api.MethodReport, models.ReportRequest{RunID: info.ID, Kind: models.ReportSummary}, &report); err != nil {
		return err
	}
	logger.Printf("%s %s state=%s completed=%d life=%.2f outcomes=%v in %s",
		name, info.ID, info.State, info.Completed, info.Life, info.Outcomes, time.Since(start))
	return nil
}
