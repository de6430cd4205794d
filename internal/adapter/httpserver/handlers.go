package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// jobStatusView is the poll-endpoint payload.
type jobStatusView struct {
	JobID               string          `json:"jobId"`
	Kind                string          `json:"kind"`
	Status              string          `json:"status"`
	Progress            float64         `json:"progress"`
	EstimatedCompletion *time.Time      `json:"estimatedCompletion,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	ProcessedItems      *int            `json:"processedItems,omitempty"`
	FailedItems         *int            `json:"failedItems,omitempty"`
	TotalItems          *int            `json:"totalItems,omitempty"`
}

// RiskAssessmentHandler accepts a risk assessment request for a case. A fresh
// cache entry answers immediately; otherwise the work is queued and the
// client polls the status URL.
func (s *Server) RiskAssessmentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID := chi.URLParam(r, "caseID")
		jobID, cached, err := s.Dispatch.SubmitRiskAssessment(r.Context(), caseID, requesterFrom(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, dataEnvelope{Success: true, FromCache: true, Data: json.RawMessage(cached)})
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedEnvelope{
			Success:   true,
			Message:   "risk assessment queued",
			JobID:     jobID,
			StatusURL: statusURL(jobID),
		})
	}
}

// StrategyRecommendationsHandler mirrors RiskAssessmentHandler for the
// strategy pipeline.
func (s *Server) StrategyRecommendationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID := chi.URLParam(r, "caseID")
		jobID, cached, err := s.Dispatch.SubmitStrategyRecommendations(r.Context(), caseID, requesterFrom(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, dataEnvelope{Success: true, FromCache: true, Data: json.RawMessage(cached)})
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedEnvelope{
			Success:   true,
			Message:   "strategy recommendations queued",
			JobID:     jobID,
			StatusURL: statusURL(jobID),
		})
	}
}

// JobStatusHandler reports progress for any job, attaching the result
// document once the job completes.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, eta, err := s.Dispatch.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		view := jobStatusView{
			JobID:               job.ID,
			Kind:                string(job.Kind),
			Status:              string(job.Status),
			Progress:            job.Progress,
			EstimatedCompletion: eta,
			Error:               job.Error,
		}
		if job.Bulk != nil {
			view.ProcessedItems = &job.Bulk.ProcessedItems
			view.FailedItems = &job.Bulk.FailedItems
			view.TotalItems = &job.Bulk.TotalItems
		}
		if job.Status == domain.JobCompleted {
			if _, doc, err := s.Dispatch.Result(r.Context(), id); err == nil && doc != nil {
				view.Result = doc
			}
		}
		writeJSON(w, http.StatusOK, dataEnvelope{Success: true, Data: view})
	}
}

// CancelJobHandler cancels a pending or processing job.
func (s *Server) CancelJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Dispatch.Cancel(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, messageEnvelope{Success: true, Message: "job cancelled"})
	}
}

func statusURL(jobID string) string {
	return fmt.Sprintf("/v1/jobs/%s", jobID)
}

// requesterFrom identifies the submitting principal: the authenticated
// partner on B2B routes, the forwarded user header elsewhere.
func requesterFrom(r *http.Request) string {
	if p := PartnerFrom(r.Context()); p != "" {
		return p
	}
	return r.Header.Get("X-User-Id")
}
