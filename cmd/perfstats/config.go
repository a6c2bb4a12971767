package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string

		SentryDSN string `env:"SENTRY_DSN"`
		Port      string `env:"PORT"`
		LogLevel  string `env:"LOG_LEVEL"`

		TrackAllocations bool          `env:"PERFSTATS_TRACK_ALLOCATIONS"`
		ReportTitle      string        `env:"PERFSTATS_REPORT_TITLE"`
		Workers          int           `env:"PERFSTATS_WORKERS"`
		WorkloadDepth    int           `env:"PERFSTATS_WORKLOAD_DEPTH"`
		WorkloadInterval time.Duration `env:"PERFSTATS_WORKLOAD_INTERVAL"`
		DumpInterval     time.Duration `env:"PERFSTATS_DUMP_INTERVAL"`
		// One in ReportLogEvery periodic reports is logged.
		ReportLogEvery uint32 `env:"PERFSTATS_REPORT_LOG_EVERY"`
	}
)

var (
	serviceConfigs = map[string]ServiceConfig{
		"production": {
			Port:             "8080",
			LogLevel:         "info",
			ReportTitle:      "Workload performance stats",
			Workers:          8,
			WorkloadDepth:    6,
			WorkloadInterval: 100 * time.Millisecond,
			DumpInterval:     time.Minute,
			ReportLogEvery:   10,
		},
		"development": {
			Port:             "8080",
			LogLevel:         "debug",
			ReportTitle:      "Workload performance stats",
			Workers:          2,
			WorkloadDepth:    4,
			WorkloadInterval: 50 * time.Millisecond,
			DumpInterval:     10 * time.Second,
			ReportLogEvery:   1,
		},
	}

	errInvalidConfig = errors.New("invalid service config")
)

// newServiceConfig starts from the preset of the current environment and
// overrides it with the environment variables that are set.
func newServiceConfig() (ServiceConfig, error) {
	envName := os.Getenv("SENTRY_ENVIRONMENT")
	if envName == "" {
		envName = "development"
	}
	cfg, exists := serviceConfigs[envName]
	if !exists {
		return ServiceConfig{}, fmt.Errorf("service config for environment %v does not exist", envName)
	}
	cfg.Environment = envName

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

func (c ServiceConfig) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", errInvalidConfig, c.Workers)
	case c.WorkloadDepth < 0:
		return fmt.Errorf("%w: workload depth must not be negative, got %d", errInvalidConfig, c.WorkloadDepth)
	case c.WorkloadInterval <= 0:
		return fmt.Errorf("%w: workload interval must be positive, got %v", errInvalidConfig, c.WorkloadInterval)
	case c.DumpInterval <= 0:
		return fmt.Errorf("%w: dump interval must be positive, got %v", errInvalidConfig, c.DumpInterval)
	case c.ReportLogEvery == 0:
		return fmt.Errorf("%w: report log sampling must be positive", errInvalidConfig)
	}
	return nil
}
