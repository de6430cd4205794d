// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
)

// Cache namespaces for memoized analysis results.
const (
	CacheNSRisk     = "risk_assessment"
	CacheNSStrategy = "strategy_recommendations"
)

// singleTaskPayload is the stored payload of non-bulk jobs.
type singleTaskPayload struct {
	CaseID string `json:"case_id"`
}

// DispatchService accepts analysis requests, answers from cache when it can,
// and otherwise creates a job and hands it to the queue. Submission never
// waits on the analysis itself.
type DispatchService struct {
	Jobs     domain.JobRepository
	Results  domain.ResultRepository
	Queue    domain.Queue
	Cache    domain.Cache
	Recorder *monitoring.Recorder

	RiskTTL     time.Duration
	StrategyTTL time.Duration
}

// NewDispatchService constructs a DispatchService with its dependencies.
func NewDispatchService(j domain.JobRepository, r domain.ResultRepository, q domain.Queue, c domain.Cache, rec *monitoring.Recorder, riskTTL, strategyTTL time.Duration) DispatchService {
	return DispatchService{Jobs: j, Results: r, Queue: q, Cache: c, Recorder: rec, RiskTTL: riskTTL, StrategyTTL: strategyTTL}
}

// SubmitRiskAssessment returns either a cached result document or the id of a
// freshly enqueued job, never both.
func (s DispatchService) SubmitRiskAssessment(ctx context.Context, caseID, submittedBy string) (string, []byte, error) {
	if caseID == "" {
		return "", nil, fmt.Errorf("%w: case id required", domain.ErrInvalidArgument)
	}
	if doc, ok := s.Cache.Get(ctx, CacheNSRisk, caseID); ok {
		observability.ObserveCacheLookup(CacheNSRisk, true)
		return "", doc, nil
	}
	observability.ObserveCacheLookup(CacheNSRisk, false)
	id, err := s.submit(ctx, domain.KindCaseRiskAssessment, domain.PriorityHigh, caseID, submittedBy)
	return id, nil, err
}

// SubmitStrategyRecommendations works like SubmitRiskAssessment for the
// recommendation pipeline, at normal priority.
func (s DispatchService) SubmitStrategyRecommendations(ctx context.Context, caseID, submittedBy string) (string, []byte, error) {
	if caseID == "" {
		return "", nil, fmt.Errorf("%w: case id required", domain.ErrInvalidArgument)
	}
	if doc, ok := s.Cache.Get(ctx, CacheNSStrategy, caseID); ok {
		observability.ObserveCacheLookup(CacheNSStrategy, true)
		return "", doc, nil
	}
	observability.ObserveCacheLookup(CacheNSStrategy, false)
	id, err := s.submit(ctx, domain.KindStrategyRecommendations, domain.PriorityNormal, caseID, submittedBy)
	return id, nil, err
}

func (s DispatchService) submit(ctx context.Context, kind domain.JobKind, priority domain.Priority, caseID, submittedBy string) (string, error) {
	payload, err := json.Marshal(singleTaskPayload{CaseID: caseID})
	if err != nil {
		return "", fmt.Errorf("op=dispatch.submit: %w", err)
	}
	j := domain.Job{
		Kind:        kind,
		Priority:    priority,
		Status:      domain.JobPending,
		SubmittedBy: submittedBy,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return "", err
	}
	if err := s.Queue.Enqueue(ctx, domain.JobTaskPayload{JobID: id, Kind: kind}, priority); err != nil {
		msg := "enqueue failed"
		_ = s.Jobs.TransitionStatus(ctx, id, domain.JobFailed, &msg)
		return "", err
	}
	observability.EnqueueJob(string(kind), string(priority))
	slog.Info("job submitted",
		slog.String("job_id", id),
		slog.String("kind", string(kind)),
		slog.String("priority", string(priority)))
	return id, nil
}

// Status loads the job together with an estimated completion time. The
// estimate is nil once the job reaches a terminal state.
func (s DispatchService) Status(ctx context.Context, id string) (domain.Job, *time.Time, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.Job{}, nil, err
	}
	return job, s.estimateCompletion(job), nil
}

// Result returns the stored result document of a completed job. For any other
// state it returns the job with a nil document.
func (s DispatchService) Result(ctx context.Context, id string) (domain.Job, []byte, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.Job{}, nil, err
	}
	if job.Status != domain.JobCompleted {
		return job, nil, nil
	}
	doc, err := s.Results.GetByJobID(ctx, id)
	if err != nil {
		return job, nil, err
	}
	return job, doc, nil
}

// Cancel moves a pending or processing job to cancelled. Terminal jobs yield
// ErrConflict. A job already claimed by a worker stops at its next
// cancellation checkpoint.
func (s DispatchService) Cancel(ctx context.Context, id string) error {
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Jobs.TransitionStatus(ctx, id, domain.JobCancelled, nil); err != nil {
		return err
	}
	observability.CancelJob(string(job.Kind), job.Status == domain.JobProcessing)
	slog.Info("job cancelled", slog.String("job_id", id), slog.String("kind", string(job.Kind)))
	return nil
}

// List pages through jobs filtered by kind and status.
func (s DispatchService) List(ctx context.Context, offset, limit int, kind, status string) ([]domain.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Jobs.ListWithFilters(ctx, offset, limit, kind, status)
}

// estimateCompletion projects an ETA from observed processing durations. Per
// item for bulk jobs, per job otherwise; the static fallback covers cold
// starts before any sample exists.
func (s DispatchService) estimateCompletion(j domain.Job) *time.Time {
	if j.Status.Terminal() {
		return nil
	}
	avg := 30 * time.Second
	if j.Kind.IsBulk() {
		avg = 5 * time.Second
	}
	if s.Recorder != nil {
		if mv, ok := s.Recorder.Metrics().MLMetrics[string(j.Kind)]; ok && mv.Count > 0 {
			avg = time.Duration(mv.AverageDuration * float64(time.Millisecond))
		}
	}
	now := time.Now().UTC()
	var eta time.Time
	if j.Kind.IsBulk() && j.Bulk != nil && j.Bulk.TotalItems > 0 {
		remaining := j.Bulk.TotalItems - j.Bulk.ProcessedItems
		if remaining < 0 {
			remaining = 0
		}
		eta = now.Add(time.Duration(remaining) * avg)
	} else {
		start := j.CreatedAt
		if j.StartedAt != nil {
			start = *j.StartedAt
		}
		eta = start.Add(avg)
		if eta.Before(now) {
			eta = now.Add(avg / 2)
		}
	}
	return &eta
}
