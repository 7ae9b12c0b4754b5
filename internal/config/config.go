package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the POF service and CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Simulation SimulationConfig `yaml:"simulation"`
	Models     ModelsConfig     `yaml:"models"`
	Cache      CacheConfig      `yaml:"cache"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig selects the span exporter: "none" or "stdout".
type TracingConfig struct {
	Exporter string `yaml:"exporter"`
}

// SimulationConfig holds defaults applied when a request leaves a value
// unset.
type SimulationConfig struct {
	Iterations int    `yaml:"iterations"`
	TEnd       int    `yaml:"tEnd"`
	Workers    int    `yaml:"workers"`
	Seed       uint64 `yaml:"seed"`
	// UseDefaults substitutes defaults for invalid model entities instead
	// of rejecting the model.
	UseDefaults bool `yaml:"useDefaults"`
	// MaxIterations bounds a single request.
	MaxIterations int `yaml:"maxIterations"`
	// Confidence is the default level for condition bands and summaries.
	Confidence float64 `yaml:"confidence"`
}

// ModelsConfig points at the component model files the service preloads.
type ModelsConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig controls in-memory caching of finished reports.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ReportTTL  time.Duration `yaml:"reportTTL"`
	MaxEntries int           `yaml:"maxEntries"`
}

// StoreConfig controls the sqlite report export.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_POF_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracing: TracingConfig{Exporter: "none"},
		Simulation: SimulationConfig{
			Iterations:    1000,
			TEnd:          200,
			Seed:          1,
			MaxIterations: 100000,
			Confidence:    0.95,
		},
		Models: ModelsConfig{Dir: "configs/models"},
		Cache: CacheConfig{
			Enabled:    true,
			ReportTTL:  30 * time.Minute,
			MaxEntries: 256,
		},
		Store: StoreConfig{Enabled: false, Path: "mirador-pof.db"},
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Iterations <= 0 {
		return fmt.Errorf("simulation.iterations must be positive, got %d", s.Iterations)
	}
	if s.TEnd < 0 {
		return fmt.Errorf("simulation.tEnd must not be negative, got %d", s.TEnd)
	}
	if s.MaxIterations > 0 && s.Iterations > s.MaxIterations {
		return fmt.Errorf("simulation.iterations %d exceeds maxIterations %d", s.Iterations, s.MaxIterations)
	}
	if s.Confidence <= 0 || s.Confidence >= 1 {
		return fmt.Errorf("simulation.confidence must be in (0, 1), got %v", s.Confidence)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q not supported", c.Tracing.Exporter)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_POF_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_POF_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_POF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_POF_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_POF_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("MIRADOR_POF_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Iterations = n
		}
	}
	if v := os.Getenv("MIRADOR_POF_T_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.TEnd = n
		}
	}
	if v := os.Getenv("MIRADOR_POF_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_POF_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}
	if v := os.Getenv("MIRADOR_POF_USE_DEFAULTS"); v != "" {
		cfg.Simulation.UseDefaults = truthy(v)
	}
	if v := os.Getenv("MIRADOR_POF_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("MIRADOR_POF_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = truthy(v)
	}
	if v := os.Getenv("MIRADOR_POF_CACHE_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_POF_STORE_PATH"); v != "" {
		cfg.Store.Path = v
		cfg.Store.Enabled = true
	}
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
