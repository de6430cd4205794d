package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/usecase"
)

type bulkItemDTO struct {
	ID      string         `json:"id"`
	Ref     string         `json:"ref"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta"`
}

type bulkBatchRequest struct {
	Items            []bulkItemDTO `json:"items" validate:"required,min=1"`
	WebhookURL       string        `json:"webhookUrl" validate:"omitempty,url"`
	BatchSize        int           `json:"batchSize" validate:"omitempty,min=1,max=100"`
	MaxRetries       int           `json:"maxRetries" validate:"omitempty,min=1,max=10"`
	TimeoutPerItemMs int           `json:"timeoutPerItemMs" validate:"omitempty,min=100,max=300000"`
}

// DocumentsBatchHandler accepts a B2B document analysis batch.
func (s *Server) DocumentsBatchHandler() http.HandlerFunc {
	return s.bulkHandler(domain.KindDocumentAnalysisBatch, s.Cfg.BulkMaxBatchItems)
}

// ChatsBatchHandler accepts a B2B chat evaluation batch.
func (s *Server) ChatsBatchHandler() http.HandlerFunc {
	return s.bulkHandler(domain.KindChatBatch, s.Cfg.BulkMaxBatchItems)
}

// OptimizedDocumentsBatchHandler is the high-volume document route. It shares
// the pipeline with the plain route but admits larger batches.
func (s *Server) OptimizedDocumentsBatchHandler() http.HandlerFunc {
	return s.bulkHandler(domain.KindDocumentAnalysisBatch, s.Cfg.BulkOptimizedMaxItems)
}

func (s *Server) bulkHandler(kind domain.JobKind, maxItems int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		items := make([]domain.BulkItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = domain.BulkItem{ID: it.ID, Ref: it.Ref, Content: it.Content, Meta: it.Meta}
		}
		jobID, err := s.Bulk.Start(r.Context(), kind, PartnerFrom(r.Context()), requesterFrom(r), items, usecase.BulkOptions{
			WebhookURL:     req.WebhookURL,
			BatchSize:      req.BatchSize,
			MaxRetries:     req.MaxRetries,
			TimeoutPerItem: time.Duration(req.TimeoutPerItemMs) * time.Millisecond,
			MaxItems:       maxItems,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		data := map[string]any{
			"batchJobId":     jobID,
			"status":         string(domain.JobPending),
			"totalItems":     len(items),
			"statusUrl":      statusURL(jobID),
			"performanceUrl": fmt.Sprintf("/v1/b2b/batch/%s/performance", jobID),
		}
		if _, eta, err := s.Dispatch.Status(r.Context(), jobID); err == nil && eta != nil {
			data["estimatedCompletionTime"] = eta.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusAccepted, dataEnvelope{Success: true, Data: data})
	}
}

// BatchPerformanceHandler reports the timing breakdown of a batch.
func (s *Server) BatchPerformanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pm, err := s.Bulk.Performance(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Success: true, Data: performanceView(pm)})
	}
}

// performanceView renders durations in milliseconds for API consumers.
func performanceView(pm domain.PerformanceMetrics) map[string]any {
	return map[string]any{
		"jobId":            pm.JobID,
		"processedItems":   pm.ProcessedItems,
		"failedItems":      pm.FailedItems,
		"elapsedMs":        pm.Elapsed.Milliseconds(),
		"throughputPerSec": pm.ThroughputPerSec,
		"itemLatencyMs": map[string]int64{
			"min": pm.MinItemLatency.Milliseconds(),
			"avg": pm.AvgItemLatency.Milliseconds(),
			"p95": pm.P95ItemLatency.Milliseconds(),
			"max": pm.MaxItemLatency.Milliseconds(),
		},
	}
}
