// Package app wires the HTTP router and the operational background loops.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexatlas/lexatlas/internal/adapter/httpserver"
	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input allows everything.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.RecorderMiddleware(srv.Recorder))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Case analysis: rate limited per client.
	r.Group(func(cr chi.Router) {
		cr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		cr.Post("/v1/cases/{caseID}/risk-assessment", srv.RiskAssessmentHandler())
		cr.Post("/v1/cases/{caseID}/strategy-recommendations", srv.StrategyRecommendationsHandler())
	})

	// Job polling and cancellation.
	r.Get("/v1/jobs/{id}", srv.JobStatusHandler())
	r.Delete("/v1/jobs/{id}", srv.CancelJobHandler())

	// B2B batch routes: partner key required.
	r.Group(func(br chi.Router) {
		br.Use(srv.PartnerAuth())
		br.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		br.Post("/v1/b2b/documents/batch", srv.DocumentsBatchHandler())
		br.Post("/v1/b2b/documents/batch/optimized", srv.OptimizedDocumentsBatchHandler())
		br.Post("/v1/b2b/chats/batch", srv.ChatsBatchHandler())
		br.Get("/v1/b2b/batch/{id}/performance", srv.BatchPerformanceHandler())
		br.Post("/v1/monitoring/reset", srv.ResetHandler())
	})

	// Operational surface.
	r.Get("/v1/monitoring/dashboard", srv.DashboardHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(otelhttp.NewHandler(r, "http.server"))
}
