package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
)

// Processor is the worker-side handler for dequeued job tasks. It claims the
// job by transitioning it to processing, runs the analysis, and persists the
// outcome. Analysis failures become failed jobs, never redeliveries, which
// keeps processing at most once.
type Processor struct {
	Jobs     domain.JobRepository
	Results  domain.ResultRepository
	Analyzer domain.Analyzer
	Cache    domain.Cache
	Recorder *monitoring.Recorder
	Bulk     *BulkService

	RiskTTL     time.Duration
	StrategyTTL time.Duration
}

// NewProcessor constructs a Processor with its dependencies.
func NewProcessor(j domain.JobRepository, r domain.ResultRepository, a domain.Analyzer, c domain.Cache, rec *monitoring.Recorder, bulk *BulkService, riskTTL, strategyTTL time.Duration) *Processor {
	return &Processor{Jobs: j, Results: r, Analyzer: a, Cache: c, Recorder: rec, Bulk: bulk, RiskTTL: riskTTL, StrategyTTL: strategyTTL}
}

// Handle processes one dequeued task end to end.
func (p *Processor) Handle(ctx context.Context, payload domain.JobTaskPayload) error {
	job, err := p.Jobs.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("dequeued task for unknown job", slog.String("job_id", payload.JobID))
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		// Cancelled (or already settled) before a worker picked it up.
		slog.Info("skipping settled job",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)))
		return nil
	}

	if err := p.Jobs.TransitionStatus(ctx, job.ID, domain.JobProcessing, nil); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the claim to a concurrent cancel; nothing to do.
			return nil
		}
		return err
	}
	observability.StartProcessingJob(string(job.Kind))
	job.Status = domain.JobProcessing

	if job.Kind.IsBulk() {
		return p.Bulk.Process(ctx, job)
	}
	return p.processSingle(ctx, job)
}

func (p *Processor) processSingle(ctx context.Context, job domain.Job) error {
	var in singleTaskPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return p.fail(ctx, job, fmt.Errorf("malformed payload: %w", err))
	}

	started := time.Now()
	doc, ns, ttl, err := p.run(ctx, job.Kind, in.CaseID)
	p.Recorder.RecordMLProcessing(string(job.Kind), time.Since(started), err == nil)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	if err := p.Results.Upsert(ctx, job.ID, doc); err != nil {
		return p.fail(ctx, job, err)
	}
	p.Cache.Set(ctx, ns, in.CaseID, doc, ttl)
	if err := p.Jobs.UpdateProgress(ctx, job.ID, 1.0, 0, 0); err != nil {
		slog.Error("progress update failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	if err := p.Jobs.TransitionStatus(ctx, job.ID, domain.JobCompleted, nil); err != nil {
		return err
	}
	observability.CompleteJob(string(job.Kind))
	slog.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

// run executes the analysis for a single-case job and returns the result
// document plus the cache slot it memoizes into.
func (p *Processor) run(ctx context.Context, kind domain.JobKind, caseID string) ([]byte, string, time.Duration, error) {
	switch kind {
	case domain.KindCaseRiskAssessment:
		out, err := p.Analyzer.AssessRisk(ctx, caseID)
		if err != nil {
			return nil, "", 0, err
		}
		doc, err := json.Marshal(out)
		return doc, CacheNSRisk, p.RiskTTL, err
	case domain.KindStrategyRecommendations:
		out, err := p.Analyzer.RecommendStrategies(ctx, caseID)
		if err != nil {
			return nil, "", 0, err
		}
		doc, err := json.Marshal(map[string]any{
			"case_id":         caseID,
			"recommendations": out,
			"generatedAt":     time.Now().UTC(),
		})
		return doc, CacheNSStrategy, p.StrategyTTL, err
	default:
		return nil, "", 0, fmt.Errorf("%w: no handler for kind %s", domain.ErrInternal, kind)
	}
}

// fail settles the job as failed with the error message. The error is
// consumed here on purpose: it lives on the job row, and redelivering the
// task would break at-most-once processing.
func (p *Processor) fail(ctx context.Context, job domain.Job, cause error) error {
	msg := cause.Error()
	if err := p.Jobs.TransitionStatus(ctx, job.ID, domain.JobFailed, &msg); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}
	observability.FailJob(string(job.Kind))
	slog.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Any("error", cause))
	return nil
}
