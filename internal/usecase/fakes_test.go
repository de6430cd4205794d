package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// memJobs is an in-memory JobRepository that enforces the same transition
// rules as the SQL implementation.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]*domain.Job{}} }

func (m *memJobs) Create(_ context.Context, j domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		m.seq++
		j.ID = fmt.Sprintf("job-%d", m.seq)
	}
	cp := j
	m.jobs[j.ID] = &cp
	return j.ID, nil
}

func (m *memJobs) Get(_ context.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
	}
	out := *j
	if j.Bulk != nil {
		b := *j.Bulk
		out.Bulk = &b
	}
	return out, nil
}

func (m *memJobs) TransitionStatus(_ context.Context, id string, next domain.JobStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("op=job.transition: %w", domain.ErrNotFound)
	}
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("op=job.transition: %w: %s -> %s", domain.ErrConflict, j.Status, next)
	}
	j.Status = next
	now := time.Now().UTC()
	if next == domain.JobProcessing {
		j.StartedAt = &now
	}
	if next.Terminal() {
		j.CompletedAt = &now
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	return nil
}

func (m *memJobs) UpdateProgress(_ context.Context, id string, progress float64, processed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("op=job.update_progress: %w", domain.ErrNotFound)
	}
	j.Progress = progress
	if j.Bulk != nil {
		j.Bulk.ProcessedItems = processed
		j.Bulk.FailedItems = failed
	}
	return nil
}

func (m *memJobs) ListWithFilters(_ context.Context, offset, limit int, kind, status string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if kind != "" && string(j.Kind) != kind {
			continue
		}
		if status != "" && string(j.Status) != status {
			continue
		}
		out = append(out, *j)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memResults struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemResults() *memResults { return &memResults{docs: map[string][]byte{}} }

func (m *memResults) Upsert(_ context.Context, jobID string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[jobID] = doc
	return nil
}

func (m *memResults) GetByJobID(_ context.Context, jobID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
	}
	return doc, nil
}

type queuedTask struct {
	Payload  domain.JobTaskPayload
	Priority domain.Priority
}

// memQueue records enqueued tasks without delivering them.
type memQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
	fail  bool
}

func (m *memQueue) Enqueue(_ context.Context, p domain.JobTaskPayload, pr domain.Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("op=queue.enqueue: %w", domain.ErrInternal)
	}
	m.tasks = append(m.tasks, queuedTask{Payload: p, Priority: pr})
	return nil
}

func (m *memQueue) all() []queuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queuedTask, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// memCache is a TTL-less map cache for tests.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, ns, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[ns+":"+key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, ns, key string, v []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ns+":"+key] = v
}

func (c *memCache) Delete(_ context.Context, ns, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, ns+":"+key)
}

// stubNotifier records completion notifications.
type stubNotifier struct {
	mu    sync.Mutex
	calls []domain.BulkSummary
}

func (n *stubNotifier) NotifyCompletion(_ context.Context, _ string, s domain.BulkSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, s)
	return nil
}

func (n *stubNotifier) all() []domain.BulkSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.BulkSummary, len(n.calls))
	copy(out, n.calls)
	return out
}

// fakeAnalyzer fails configured item ids, optionally only on the first
// attempts, and succeeds otherwise. onItem, when set, runs on every item
// attempt so tests can interleave side effects with processing.
type fakeAnalyzer struct {
	mu        sync.Mutex
	failItems map[string]error
	failOnce  map[string]error
	attempts  map[string]int
	riskErr   error
	onItem    func(id string)
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		failItems: map[string]error{},
		failOnce:  map[string]error{},
		attempts:  map[string]int{},
	}
}

func (a *fakeAnalyzer) AssessRisk(_ context.Context, caseID string) (domain.RiskAssessment, error) {
	if a.riskErr != nil {
		return domain.RiskAssessment{}, a.riskErr
	}
	return domain.RiskAssessment{CaseID: caseID, RiskLevel: "medium", RiskScore: 0.5, GeneratedAt: time.Now().UTC()}, nil
}

func (a *fakeAnalyzer) RecommendStrategies(_ context.Context, caseID string) ([]domain.StrategyRecommendation, error) {
	return []domain.StrategyRecommendation{{Title: "settle", Confidence: 0.7}}, nil
}

func (a *fakeAnalyzer) AnalyzeDocument(_ context.Context, item domain.BulkItem) (map[string]any, error) {
	return a.item(item)
}

func (a *fakeAnalyzer) EvaluateChat(_ context.Context, item domain.BulkItem) (map[string]any, error) {
	return a.item(item)
}

func (a *fakeAnalyzer) item(item domain.BulkItem) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts[item.ID]++
	if a.onItem != nil {
		a.onItem(item.ID)
	}
	if err, ok := a.failItems[item.ID]; ok {
		return nil, err
	}
	if err, ok := a.failOnce[item.ID]; ok && a.attempts[item.ID] == 1 {
		return nil, err
	}
	return map[string]any{"item_id": item.ID}, nil
}

func (a *fakeAnalyzer) attemptsFor(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[id]
}
