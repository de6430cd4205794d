package httpserver

import (
	"net/http"

	"github.com/lexatlas/lexatlas/internal/monitoring"
)

// DashboardHandler renders the operational dashboard: raw metric views, a
// rolled-up summary, and the alerts derived from the current thresholds.
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := s.Recorder.Metrics()
		alerts := s.Recorder.GenerateAlerts(m)
		writeJSON(w, http.StatusOK, dataEnvelope{Success: true, Data: map[string]any{
			"metrics": m,
			"summary": summarize(m),
			"alerts":  alerts,
		}})
	}
}

// ResetHandler clears accumulated metrics. Guarded by partner auth in the
// router; useful after deploys and in load test runs.
func (s *Server) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Recorder.Reset()
		LoggerFrom(r).Info("monitoring metrics reset")
		writeJSON(w, http.StatusOK, messageEnvelope{Success: true, Message: "monitoring metrics reset"})
	}
}

func summarize(m monitoring.Metrics) map[string]any {
	var apiCalls, apiErrors, mlCalls, mlErrors int64
	for _, v := range m.APIMetrics {
		apiCalls += v.Count
		apiErrors += v.Errors
	}
	for _, v := range m.MLMetrics {
		mlCalls += v.Count
		mlErrors += v.Errors
	}
	rate := func(calls, errs int64) float64 {
		if calls == 0 {
			return 100
		}
		return float64(calls-errs) / float64(calls) * 100
	}
	return map[string]any{
		"totalAPICalls":  apiCalls,
		"apiSuccessRate": rate(apiCalls, apiErrors),
		"totalMLCalls":   mlCalls,
		"mlSuccessRate":  rate(mlCalls, mlErrors),
		"heapBytes":      m.System.HeapBytes,
		"goroutines":     m.System.NumGoroutine,
		"uptimeSeconds":  int64(m.System.Uptime.Seconds()),
		"lastUpdated":    m.LastUpdated,
	}
}
