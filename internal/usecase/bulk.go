package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
)

// BulkDefaults supply chunking and retry parameters for batches that do not
// override them.
type BulkDefaults struct {
	BatchSize      int
	MaxRetries     int
	TimeoutPerItem time.Duration
}

// BulkOptions carry per-request overrides. MaxItems is the route's item cap,
// not a client knob.
type BulkOptions struct {
	WebhookURL     string
	BatchSize      int
	MaxRetries     int
	TimeoutPerItem time.Duration
	MaxItems       int
}

// BulkService orchestrates B2B batch jobs: chunked concurrent item
// processing, per-item timeouts and retries, progress checkpoints, and a
// completion webhook. A batch with item failures still completes; the
// failures travel in the result document, not in the job status.
type BulkService struct {
	Jobs     domain.JobRepository
	Results  domain.ResultRepository
	Queue    domain.Queue
	Analyzer domain.Analyzer
	Notifier domain.Notifier
	Recorder *monitoring.Recorder

	Defaults BulkDefaults
	Retry    domain.RetryConfig
}

// NewBulkService constructs a BulkService with its dependencies.
func NewBulkService(j domain.JobRepository, r domain.ResultRepository, q domain.Queue, a domain.Analyzer, n domain.Notifier, rec *monitoring.Recorder, defaults BulkDefaults, retry domain.RetryConfig) *BulkService {
	return &BulkService{Jobs: j, Results: r, Queue: q, Analyzer: a, Notifier: n, Recorder: rec, Defaults: defaults, Retry: retry}
}

// bulkResultDoc is the stored result document of a bulk job.
type bulkResultDoc struct {
	Summary     domain.BulkSummary        `json:"summary"`
	Results     []map[string]any          `json:"results"`
	Errors      []domain.ItemError        `json:"errors,omitempty"`
	Performance domain.PerformanceMetrics `json:"performance"`
}

// Start validates a batch, creates the job, and enqueues it at low priority.
func (s *BulkService) Start(ctx context.Context, kind domain.JobKind, orgID, submittedBy string, items []domain.BulkItem, opts BulkOptions) (string, error) {
	if !kind.IsBulk() {
		return "", fmt.Errorf("%w: %s is not a batch kind", domain.ErrInvalidArgument, kind)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%w: batch must contain at least one item", domain.ErrInvalidArgument)
	}
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		return "", fmt.Errorf("%w: batch of %d items exceeds limit of %d", domain.ErrInvalidArgument, len(items), opts.MaxItems)
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.Defaults.BatchSize
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.Defaults.MaxRetries
	}
	timeout := opts.TimeoutPerItem
	if timeout <= 0 {
		timeout = s.Defaults.TimeoutPerItem
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("op=bulk.start: %w", err)
	}
	j := domain.Job{
		Kind:        kind,
		Priority:    domain.PriorityLow,
		Status:      domain.JobPending,
		SubmittedBy: submittedBy,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
		Bulk: &domain.BulkDetails{
			OrganizationID: orgID,
			TotalItems:     len(items),
			WebhookURL:     opts.WebhookURL,
			MaxRetries:     maxRetries,
			BatchSize:      batchSize,
			TimeoutPerItem: timeout,
		},
	}
	id, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return "", err
	}
	if err := s.Queue.Enqueue(ctx, domain.JobTaskPayload{JobID: id, Kind: kind}, domain.PriorityLow); err != nil {
		msg := "enqueue failed"
		_ = s.Jobs.TransitionStatus(ctx, id, domain.JobFailed, &msg)
		return "", err
	}
	observability.EnqueueJob(string(kind), string(domain.PriorityLow))
	slog.Info("bulk job submitted",
		slog.String("job_id", id),
		slog.String("kind", string(kind)),
		slog.String("org_id", orgID),
		slog.Int("total_items", len(items)))
	return id, nil
}

// Process runs the batch. The job must already be in processing state. Items
// run concurrently within a chunk; the loop checks for cancellation between
// chunks, so a cancel lands within one chunk's worth of work.
func (s *BulkService) Process(ctx context.Context, job domain.Job) error {
	if job.Bulk == nil {
		return fmt.Errorf("op=bulk.process: %w: job %s has no batch details", domain.ErrInternal, job.ID)
	}
	var items []domain.BulkItem
	if err := json.Unmarshal(job.Payload, &items); err != nil {
		msg := "malformed batch payload"
		_ = s.Jobs.TransitionStatus(ctx, job.ID, domain.JobFailed, &msg)
		observability.FailJob(string(job.Kind))
		return fmt.Errorf("op=bulk.process: %w", err)
	}

	started := time.Now()
	total := len(items)
	batchSize := job.Bulk.BatchSize
	if batchSize <= 0 {
		batchSize = s.Defaults.BatchSize
	}

	results := make([]map[string]any, total)
	var (
		mu         sync.Mutex
		itemErrors []domain.ItemError
		latencies  []time.Duration
	)
	processed, failed := 0, 0
	cancelled := false

	for lo := 0; lo < total; lo += batchSize {
		if cur, err := s.Jobs.Get(ctx, job.ID); err == nil && cur.Status == domain.JobCancelled {
			cancelled = true
			break
		}
		hi := lo + batchSize
		if hi > total {
			hi = total
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				itemStart := time.Now()
				out, attempts, err := s.processItem(ctx, job.Kind, items[i], job.Bulk.TimeoutPerItem, job.Bulk.MaxRetries)
				elapsed := time.Since(itemStart)
				s.Recorder.RecordMLProcessing(string(job.Kind), elapsed, err == nil)
				observability.ObserveBulkItem(string(job.Kind), elapsed, err == nil)

				mu.Lock()
				defer mu.Unlock()
				latencies = append(latencies, elapsed)
				if err != nil {
					itemErrors = append(itemErrors, domain.ItemError{
						ItemID:   items[i].ID,
						Attempts: attempts,
						Message:  err.Error(),
					})
					return
				}
				results[i] = out
			}(i)
		}
		wg.Wait()

		processed = hi
		mu.Lock()
		failed = len(itemErrors)
		mu.Unlock()
		progress := float64(processed) / float64(total)
		if err := s.Jobs.UpdateProgress(ctx, job.ID, progress, processed, failed); err != nil {
			slog.Error("progress update failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}

	elapsed := time.Since(started)
	status := domain.JobCompleted
	if cancelled {
		status = domain.JobCancelled
	}
	summary := domain.BulkSummary{
		JobID:          job.ID,
		OrganizationID: job.Bulk.OrganizationID,
		Status:         status,
		TotalItems:     total,
		ProcessedItems: processed,
		FailedItems:    failed,
		Elapsed:        elapsed,
		ItemErrors:     itemErrors,
	}
	// Failed items leave holes in the positional slice; the stored document
	// carries only the successful outputs, failures live in Errors.
	succeeded := make([]map[string]any, 0, processed-failed)
	for _, out := range results[:processed] {
		if out != nil {
			succeeded = append(succeeded, out)
		}
	}
	doc := bulkResultDoc{
		Summary:     summary,
		Results:     succeeded,
		Errors:      itemErrors,
		Performance: buildPerformance(job.ID, processed, failed, elapsed, latencies),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=bulk.process: marshal result: %w", err)
	}
	if err := s.Results.Upsert(ctx, job.ID, raw); err != nil {
		return err
	}

	if cancelled {
		slog.Info("bulk job stopped on cancellation",
			slog.String("job_id", job.ID),
			slog.Int("processed", processed),
			slog.Int("total", total))
		return nil
	}
	if err := s.Jobs.TransitionStatus(ctx, job.ID, domain.JobCompleted, nil); err != nil {
		return err
	}
	observability.CompleteJob(string(job.Kind))
	slog.Info("bulk job completed",
		slog.String("job_id", job.ID),
		slog.Int("processed", processed),
		slog.Int("failed", failed),
		slog.Duration("elapsed", elapsed))

	if job.Bulk.WebhookURL != "" {
		_ = s.Notifier.NotifyCompletion(ctx, job.Bulk.WebhookURL, summary)
	}
	return nil
}

// processItem runs one item with a per-attempt timeout. Retries follow the
// classification in the retry policy; attempts counts every try made.
func (s *BulkService) processItem(ctx context.Context, kind domain.JobKind, item domain.BulkItem, timeout time.Duration, maxRetries int) (map[string]any, int, error) {
	if timeout <= 0 {
		timeout = s.Defaults.TimeoutPerItem
	}
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.Retry.DelayFor(attempt - 1)):
			case <-ctx.Done():
				return nil, attempts, ctx.Err()
			}
		}
		attempts++
		itemCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := s.analyze(itemCtx, kind, item)
		cancel()
		if err == nil {
			return out, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil || !s.Retry.Retryable(err) {
			break
		}
	}
	return nil, attempts, lastErr
}

func (s *BulkService) analyze(ctx context.Context, kind domain.JobKind, item domain.BulkItem) (map[string]any, error) {
	switch kind {
	case domain.KindDocumentAnalysisBatch:
		return s.Analyzer.AnalyzeDocument(ctx, item)
	case domain.KindChatBatch:
		return s.Analyzer.EvaluateChat(ctx, item)
	default:
		return nil, fmt.Errorf("%w: no analyzer for kind %s", domain.ErrInternal, kind)
	}
}

// Performance returns the timing breakdown of a batch. Finished batches read
// the stored document; in-flight ones derive a partial view from the job row.
func (s *BulkService) Performance(ctx context.Context, jobID string) (domain.PerformanceMetrics, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.PerformanceMetrics{}, err
	}
	if !job.Kind.IsBulk() || job.Bulk == nil {
		return domain.PerformanceMetrics{}, fmt.Errorf("%w: job %s is not a batch", domain.ErrInvalidArgument, jobID)
	}

	if raw, err := s.Results.GetByJobID(ctx, jobID); err == nil {
		var doc bulkResultDoc
		if err := json.Unmarshal(raw, &doc); err == nil {
			return doc.Performance, nil
		}
	}

	// No document yet: report what the job row knows.
	var elapsed time.Duration
	if job.StartedAt != nil {
		end := time.Now().UTC()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		elapsed = end.Sub(*job.StartedAt)
	}
	pm := domain.PerformanceMetrics{
		JobID:          jobID,
		ProcessedItems: job.Bulk.ProcessedItems,
		FailedItems:    job.Bulk.FailedItems,
		Elapsed:        elapsed,
	}
	if elapsed > 0 {
		pm.ThroughputPerSec = float64(job.Bulk.ProcessedItems) / elapsed.Seconds()
	}
	return pm, nil
}

func buildPerformance(jobID string, processed, failed int, elapsed time.Duration, latencies []time.Duration) domain.PerformanceMetrics {
	pm := domain.PerformanceMetrics{
		JobID:          jobID,
		ProcessedItems: processed,
		FailedItems:    failed,
		Elapsed:        elapsed,
	}
	if elapsed > 0 {
		pm.ThroughputPerSec = float64(processed) / elapsed.Seconds()
	}
	if len(latencies) == 0 {
		return pm
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	pm.MinItemLatency = sorted[0]
	pm.MaxItemLatency = sorted[len(sorted)-1]
	pm.AvgItemLatency = sum / time.Duration(len(sorted))
	p95 := (len(sorted) * 95) / 100
	if p95 >= len(sorted) {
		p95 = len(sorted) - 1
	}
	pm.P95ItemLatency = sorted[p95]
	return pm
}
