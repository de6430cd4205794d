package app

import (
	"log/slog"

	"github.com/lexatlas/lexatlas/internal/config"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
)

// AlertThresholds assembles alert thresholds from env values, then lets the
// optional YAML file override them. A broken file falls back to the env
// values with a logged warning rather than failing startup.
func AlertThresholds(cfg config.Config) monitoring.Thresholds {
	t := monitoring.Thresholds{
		APISuccessRatePct: cfg.AlertAPISuccessRate,
		APIMinSamples:     cfg.AlertAPIMinSamples,
		MLSuccessRatePct:  cfg.AlertMLSuccessRate,
		MLMinSamples:      cfg.AlertMLMinSamples,
		APIAvgDurationMs:  cfg.AlertAPIAvgDurationMs,
		MLAvgDurationMs:   cfg.AlertMLAvgDurationMs,
		HeapBytes:         cfg.AlertHeapBytes,
	}
	if cfg.AlertsConfigFile == "" {
		return t
	}
	loaded, err := monitoring.LoadThresholds(cfg.AlertsConfigFile, t)
	if err != nil {
		slog.Warn("alert thresholds file ignored",
			slog.String("path", cfg.AlertsConfigFile),
			slog.Any("error", err))
		return t
	}
	return loaded
}

// RetryPolicy builds the bulk item retry policy from configuration, keeping
// the default error classification lists.
func RetryPolicy(cfg config.Config) domain.RetryConfig {
	rc := domain.DefaultRetryConfig()
	if cfg.RetryMaxRetries > 0 {
		rc.MaxRetries = cfg.RetryMaxRetries
	}
	if cfg.RetryInitialDelay > 0 {
		rc.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		rc.MaxDelay = cfg.RetryMaxDelay
	}
	if cfg.RetryMultiplier > 1 {
		rc.Multiplier = cfg.RetryMultiplier
	}
	rc.Jitter = cfg.RetryJitter
	return rc
}
