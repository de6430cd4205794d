// Package monitoring implements the in-process metrics recorder behind the
// monitoring dashboard: per-endpoint API call aggregates, per-function ML
// processing aggregates, periodically refreshed system stats, and
// threshold-based alerting.
//
// The recorder is an injected component instance, not a package singleton, so
// tests construct isolated recorders. Prometheus instrumentation lives in
// internal/adapter/observability and is fed separately.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// sample is a per-key aggregate. Derived values (average duration, success
// rate) are computed at read time, never stored.
type sample struct {
	Count         int64
	TotalDuration time.Duration
	Errors        int64
}

// MetricView is the read-side projection of one sample.
type MetricView struct {
	Count           int64   `json:"count"`
	Errors          int64   `json:"errors"`
	AverageDuration float64 `json:"averageDuration"` // milliseconds
	SuccessRate     float64 `json:"successRate"`     // percent
}

// SystemStats is the periodically refreshed process snapshot.
type SystemStats struct {
	HeapBytes     uint64        `json:"heapBytes"`
	SysBytes      uint64        `json:"sysBytes"`
	NumGoroutine  int           `json:"numGoroutine"`
	Uptime        time.Duration `json:"uptime"`
	LastRefreshed time.Time     `json:"lastRefreshed"`
}

// Metrics is the full dashboard snapshot.
type Metrics struct {
	APIMetrics  map[string]MetricView `json:"apiMetrics"`
	MLMetrics   map[string]MetricView `json:"mlMetrics"`
	System      SystemStats           `json:"system"`
	LastUpdated time.Time             `json:"lastUpdated"`
}

// AlertSeverity grades alerts.
type AlertSeverity string

const (
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Alert is one threshold violation.
type Alert struct {
	Severity AlertSeverity `json:"severity"`
	Source   string        `json:"source"`
	Message  string        `json:"message"`
}

// Recorder accumulates API and ML processing aggregates for the life of the
// process. Recording is O(1): a map lookup and counter increments under a
// mutex. Reset clears everything atomically.
type Recorder struct {
	mu        sync.RWMutex
	api       map[string]*sample
	ml        map[string]*sample
	system    SystemStats
	startedAt time.Time

	thresholds Thresholds

	backgroundRefresh bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRecorder constructs a Recorder with the given alert thresholds. A
// refreshInterval of zero disables the background system stats refresher;
// stats are then refreshed on read.
func NewRecorder(thresholds Thresholds, refreshInterval time.Duration) *Recorder {
	r := &Recorder{
		api:        make(map[string]*sample),
		ml:         make(map[string]*sample),
		startedAt:  time.Now(),
		thresholds: thresholds,
		stop:       make(chan struct{}),
	}
	r.refreshSystemStats()
	if refreshInterval > 0 {
		r.backgroundRefresh = true
		go r.refreshRoutine(refreshInterval)
	}
	return r
}

// RecordAPICall records one API call outcome for an endpoint.
func (r *Recorder) RecordAPICall(endpoint string, duration time.Duration, success bool) {
	r.record(r.api, endpoint, duration, success)
}

// RecordMLProcessing records one ML function invocation outcome.
func (r *Recorder) RecordMLProcessing(function string, duration time.Duration, success bool) {
	r.record(r.ml, function, duration, success)
}

func (r *Recorder) record(m map[string]*sample, key string, duration time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := m[key]
	if !ok {
		s = &sample{}
		m[key] = s
	}
	s.Count++
	s.TotalDuration += duration
	if !success {
		s.Errors++
	}
}

// Metrics returns the current snapshot with derived values computed at read
// time.
func (r *Recorder) Metrics() Metrics {
	if !r.backgroundRefresh {
		r.refreshSystemStats()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Metrics{
		APIMetrics:  project(r.api),
		MLMetrics:   project(r.ml),
		System:      r.system,
		LastUpdated: time.Now().UTC(),
	}
}

func project(m map[string]*sample) map[string]MetricView {
	out := make(map[string]MetricView, len(m))
	for k, s := range m {
		v := MetricView{Count: s.Count, Errors: s.Errors}
		if s.Count > 0 {
			v.AverageDuration = float64(s.TotalDuration.Milliseconds()) / float64(s.Count)
			v.SuccessRate = float64(s.Count-s.Errors) / float64(s.Count) * 100
		}
		out[k] = v
	}
	return out
}

// GenerateAlerts evaluates a snapshot against the configured thresholds.
func (r *Recorder) GenerateAlerts(m Metrics) []Alert {
	t := r.thresholds
	var alerts []Alert
	for endpoint, v := range m.APIMetrics {
		if v.Count > int64(t.APIMinSamples) && v.SuccessRate < t.APISuccessRatePct {
			alerts = append(alerts, Alert{
				Severity: SeverityMedium,
				Source:   "api:" + endpoint,
				Message:  "API success rate below threshold",
			})
		}
		if v.AverageDuration > t.APIAvgDurationMs {
			alerts = append(alerts, Alert{
				Severity: SeverityMedium,
				Source:   "api:" + endpoint,
				Message:  "API average duration above threshold",
			})
		}
	}
	for fn, v := range m.MLMetrics {
		if v.Count > int64(t.MLMinSamples) && v.SuccessRate < t.MLSuccessRatePct {
			alerts = append(alerts, Alert{
				Severity: SeverityMedium,
				Source:   "ml:" + fn,
				Message:  "ML success rate below threshold",
			})
		}
		if v.AverageDuration > t.MLAvgDurationMs {
			alerts = append(alerts, Alert{
				Severity: SeverityHigh,
				Source:   "ml:" + fn,
				Message:  "ML average duration above threshold",
			})
		}
	}
	if m.System.HeapBytes > t.HeapBytes {
		alerts = append(alerts, Alert{
			Severity: SeverityHigh,
			Source:   "system:heap",
			Message:  "heap memory above threshold",
		})
	}
	return alerts
}

// Reset clears all counters atomically under one lock so readers never
// observe a partially reset state.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.api = make(map[string]*sample)
	r.ml = make(map[string]*sample)
}

// Stop terminates the background refresh routine.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Recorder) refreshRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.refreshSystemStats()
		case <-r.stop:
			return
		}
	}
}

func (r *Recorder) refreshSystemStats() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.mu.Lock()
	r.system = SystemStats{
		HeapBytes:     ms.HeapAlloc,
		SysBytes:      ms.Sys,
		NumGoroutine:  runtime.NumGoroutine(),
		Uptime:        time.Since(r.startedAt),
		LastRefreshed: time.Now().UTC(),
	}
	r.mu.Unlock()
}
