package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-pof/internal/api"
	"github.com/miradorstack/mirador-pof/internal/cache"
	"github.com/miradorstack/mirador-pof/internal/config"
	"github.com/miradorstack/mirador-pof/internal/loader"
	"github.com/miradorstack/mirador-pof/internal/metrics"
	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/services"
	"github.com/miradorstack/mirador-pof/internal/store"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-pof", slog.String("address", cfg.Server.Address))

	shutdownTracing, err := utils.InitTracing("mirador-pof", cfg.Tracing.Exporter)
	if err != nil {
		logger.Error("failed to initialise tracing", slog.Any("error", err))
		os.Exit(1)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	specs, err := loader.LoadDir(cfg.Models.Dir)
	if err != nil {
		logger.Warn("no preloaded models", slog.String("dir", cfg.Models.Dir), slog.Any("error", err))
		specs = map[string]*models.ComponentSpec{}
	}
	logger.Info("models loaded", slog.Int("count", len(specs)))

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider(cfg.Cache.MaxEntries)
	}
	defer cacheProvider.Close()

	var reportStore services.ReportStore
	if cfg.Store.Enabled {
		st, err := store.Open(context.Background(), cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open report store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer st.Close()
		reportStore = st
	}

	runner := services.NewRunner(services.RunnerOptions{
		Logger:     logger,
		Simulation: cfg.Simulation,
		Models:     specs,
		Cache:      cacheProvider,
		CacheTTL:   cfg.Cache.ReportTTL,
		Store:      reportStore,
	})
	pofService := services.NewPofService(logger, runner)

	server, err := api.NewServer(cfg.Server, pofService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	// running ensembles are cancelled; their partial results are exported
	runner.Close()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", slog.Any("error", err))
	}

	logger.Info("mirador-pof stopped")
}
