package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind", "priority"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	JobsCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Total number of jobs cancelled",
		},
		[]string{"kind"},
	)

	BulkItemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_items_processed_total",
			Help: "Total number of bulk batch items processed, by outcome",
		},
		[]string{"kind", "outcome"},
	)
	BulkItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulk_item_duration_seconds",
			Help:    "Per-item processing duration in bulk batches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by namespace and outcome",
		},
		[]string{"namespace", "outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// InitMetrics registers all collectors; call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsCancelledTotal)
	prometheus.MustRegister(BulkItemsProcessedTotal)
	prometheus.MustRegister(BulkItemDuration)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

func EnqueueJob(kind, priority string) {
	JobsEnqueuedTotal.WithLabelValues(kind, priority).Inc()
}

func StartProcessingJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Inc()
}

func CompleteJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
}

func FailJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
}

// CancelJob records a cancellation. A job cancelled mid-processing also
// leaves the processing gauge.
func CancelJob(kind string, wasProcessing bool) {
	if wasProcessing {
		JobsProcessing.WithLabelValues(kind).Dec()
	}
	JobsCancelledTotal.WithLabelValues(kind).Inc()
}

// ObserveBulkItem records one bulk item outcome and its latency.
func ObserveBulkItem(kind string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	BulkItemsProcessedTotal.WithLabelValues(kind, outcome).Inc()
	BulkItemDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCacheLookup records a cache hit or miss for a namespace.
func ObserveCacheLookup(namespace string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheLookupsTotal.WithLabelValues(namespace, outcome).Inc()
}

// ObserveWebhookDelivery records the terminal outcome of a webhook delivery.
func ObserveWebhookDelivery(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "dead_letter"
	}
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}
