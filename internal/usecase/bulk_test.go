package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
	"github.com/lexatlas/lexatlas/internal/usecase"
)

func newBulk(jobs *memJobs, results *memResults, q *memQueue, a domain.Analyzer, n *stubNotifier) *usecase.BulkService {
	rec := monitoring.NewRecorder(monitoring.DefaultThresholds(), 0)
	return usecase.NewBulkService(jobs, results, q, a, n, rec,
		usecase.BulkDefaults{BatchSize: 4, MaxRetries: 2, TimeoutPerItem: time.Second},
		fastRetry())
}

func makeItems(n int) []domain.BulkItem {
	items := make([]domain.BulkItem, n)
	for i := range items {
		items[i] = domain.BulkItem{ID: fmt.Sprintf("doc-%d", i+1), Content: "text"}
	}
	return items
}

func TestBulk_StartValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newBulk(newMemJobs(), newMemResults(), &memQueue{}, newFakeAnalyzer(), &stubNotifier{})

	_, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", nil, usecase.BulkOptions{MaxItems: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "empty batch is rejected")

	_, err = svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(101), usecase.BulkOptions{MaxItems: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "batch above the route cap is rejected")

	_, err = svc.Start(ctx, domain.KindCaseRiskAssessment, "org-1", "u", makeItems(1), usecase.BulkOptions{MaxItems: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "non-batch kind is rejected")

	// The optimized route accepts larger batches through its own cap.
	_, err = svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(500), usecase.BulkOptions{MaxItems: 1000})
	assert.NoError(t, err)
}

func TestBulk_StartEnqueuesLowPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, q := newMemJobs(), &memQueue{}
	svc := newBulk(jobs, newMemResults(), q, newFakeAnalyzer(), &stubNotifier{})

	id, err := svc.Start(ctx, domain.KindChatBatch, "org-1", "u", makeItems(5), usecase.BulkOptions{
		MaxItems:   100,
		WebhookURL: "https://partner.example/hook",
	})
	require.NoError(t, err)

	j, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, j.Priority)
	require.NotNil(t, j.Bulk)
	assert.Equal(t, "org-1", j.Bulk.OrganizationID)
	assert.Equal(t, 5, j.Bulk.TotalItems)
	assert.Equal(t, "https://partner.example/hook", j.Bulk.WebhookURL)
	assert.Equal(t, 4, j.Bulk.BatchSize, "defaults fill unset options")

	tasks := q.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.PriorityLow, tasks[0].Priority)
}

func TestBulk_ProcessPartialFailureStillCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	a := newFakeAnalyzer()
	a.failItems["doc-3"] = fmt.Errorf("%w: unreadable scan", domain.ErrDataProcessing)
	a.failItems["doc-7"] = fmt.Errorf("%w: unreadable scan", domain.ErrDataProcessing)
	n := &stubNotifier{}
	svc := newBulk(jobs, results, q, a, n)

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(10), usecase.BulkOptions{
		MaxItems:   100,
		WebhookURL: "https://partner.example/hook",
	})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))
	j, err := jobs.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.Process(ctx, j))

	j, err = jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, j.Status, "item failures never fail the batch")
	assert.Equal(t, 10, j.Bulk.ProcessedItems)
	assert.Equal(t, 2, j.Bulk.FailedItems)
	assert.Equal(t, 1.0, j.Progress)

	raw, err := results.GetByJobID(ctx, id)
	require.NoError(t, err)
	var doc struct {
		Summary domain.BulkSummary `json:"summary"`
		Results []map[string]any   `json:"results"`
		Errors  []domain.ItemError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 10, doc.Summary.ProcessedItems)
	assert.Equal(t, 2, doc.Summary.FailedItems)
	require.Len(t, doc.Results, 8, "only successful outputs are stored")
	for _, out := range doc.Results {
		assert.NotNil(t, out)
	}
	require.Len(t, doc.Errors, 2)
	ids := []string{doc.Errors[0].ItemID, doc.Errors[1].ItemID}
	assert.ElementsMatch(t, []string{"doc-3", "doc-7"}, ids)

	calls := n.all()
	require.Len(t, calls, 1, "completion webhook fires once")
	assert.Equal(t, id, calls[0].JobID)
	assert.Equal(t, 2, calls[0].FailedItems)
}

func TestBulk_NonRetryableFailureNotRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	a := newFakeAnalyzer()
	a.failItems["doc-1"] = fmt.Errorf("%w: unreadable scan", domain.ErrDataProcessing)
	svc := newBulk(jobs, results, q, a, &stubNotifier{})

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(2), usecase.BulkOptions{MaxItems: 100})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))
	j, _ := jobs.Get(ctx, id)
	require.NoError(t, svc.Process(ctx, j))

	assert.Equal(t, 1, a.attemptsFor("doc-1"), "data processing errors are terminal")
	assert.Equal(t, 1, a.attemptsFor("doc-2"))
}

func TestBulk_TransientFailureRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	a := newFakeAnalyzer()
	a.failOnce["doc-2"] = fmt.Errorf("upstream timeout talking to model")
	svc := newBulk(jobs, results, q, a, &stubNotifier{})

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(3), usecase.BulkOptions{MaxItems: 100})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))
	j, _ := jobs.Get(ctx, id)
	require.NoError(t, svc.Process(ctx, j))

	assert.Equal(t, 2, a.attemptsFor("doc-2"), "transient failure retried once")

	j, _ = jobs.Get(ctx, id)
	assert.Equal(t, domain.JobCompleted, j.Status)
	assert.Equal(t, 0, j.Bulk.FailedItems, "retry recovered the item")
}

func TestBulk_CancelBeforeProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	n := &stubNotifier{}
	svc := newBulk(jobs, results, q, newFakeAnalyzer(), n)

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(8), usecase.BulkOptions{MaxItems: 100})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))
	// Cancel lands before the orchestrator starts its first chunk.
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobCancelled, nil))

	j, _ := jobs.Get(ctx, id)
	require.NoError(t, svc.Process(ctx, j))

	j, _ = jobs.Get(ctx, id)
	assert.Equal(t, domain.JobCancelled, j.Status)
	assert.Equal(t, 0, j.Bulk.ProcessedItems)
	assert.Empty(t, n.all(), "no webhook for cancelled batches")
}

func TestBulk_CancelMidFlightStopsFurtherChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	a := newFakeAnalyzer()
	n := &stubNotifier{}
	svc := newBulk(jobs, results, q, a, n)

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(8), usecase.BulkOptions{
		MaxItems:   100,
		WebhookURL: "https://partner.example/hook",
	})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))

	// The cancel lands while the first chunk is in flight; later calls hit a
	// terminal state and conflict, which is fine.
	a.onItem = func(string) {
		_ = jobs.TransitionStatus(ctx, id, domain.JobCancelled, nil)
	}

	j, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, j))

	j, err = jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, j.Status)
	assert.Equal(t, 4, j.Bulk.ProcessedItems, "first chunk finishes, later chunks never start")
	for i := 1; i <= 4; i++ {
		assert.Equal(t, 1, a.attemptsFor(fmt.Sprintf("doc-%d", i)))
	}
	for i := 5; i <= 8; i++ {
		assert.Equal(t, 0, a.attemptsFor(fmt.Sprintf("doc-%d", i)), "cancelled before this chunk")
	}
	assert.Empty(t, n.all(), "no webhook for cancelled batches")
}

func TestBulk_Performance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobs, results, q := newMemJobs(), newMemResults(), &memQueue{}
	svc := newBulk(jobs, results, q, newFakeAnalyzer(), &stubNotifier{})

	id, err := svc.Start(ctx, domain.KindDocumentAnalysisBatch, "org-1", "u", makeItems(6), usecase.BulkOptions{MaxItems: 100})
	require.NoError(t, err)
	require.NoError(t, jobs.TransitionStatus(ctx, id, domain.JobProcessing, nil))
	j, _ := jobs.Get(ctx, id)
	require.NoError(t, svc.Process(ctx, j))

	pm, err := svc.Performance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, pm.JobID)
	assert.Equal(t, 6, pm.ProcessedItems)
	assert.Equal(t, 0, pm.FailedItems)
	assert.Greater(t, pm.ThroughputPerSec, 0.0)
	assert.GreaterOrEqual(t, pm.MaxItemLatency, pm.MinItemLatency)
	assert.GreaterOrEqual(t, pm.P95ItemLatency, pm.MinItemLatency)

	_, err = svc.Performance(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
