package monitoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the alert tuning knobs. The defaults match the values the
// platform dashboards were built around, but every deployment can override
// them via env or a YAML file.
type Thresholds struct {
	APISuccessRatePct float64 `yaml:"api_success_rate_pct"`
	APIMinSamples     int     `yaml:"api_min_samples"`
	MLSuccessRatePct  float64 `yaml:"ml_success_rate_pct"`
	MLMinSamples      int     `yaml:"ml_min_samples"`
	APIAvgDurationMs  float64 `yaml:"api_avg_duration_ms"`
	MLAvgDurationMs   float64 `yaml:"ml_avg_duration_ms"`
	HeapBytes         uint64  `yaml:"heap_bytes"`
}

// DefaultThresholds returns the standard alerting configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		APISuccessRatePct: 90,
		APIMinSamples:     10,
		MLSuccessRatePct:  95,
		MLMinSamples:      5,
		APIAvgDurationMs:  5000,
		MLAvgDurationMs:   30000,
		HeapBytes:         500 * 1024 * 1024,
	}
}

// LoadThresholds reads thresholds from a YAML file, filling unset fields from
// the provided base.
func LoadThresholds(path string, base Thresholds) (Thresholds, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("op=thresholds.load: %w", err)
	}
	t := base
	if err := yaml.Unmarshal(b, &t); err != nil {
		return base, fmt.Errorf("op=thresholds.parse: %w", err)
	}
	return t, nil
}
