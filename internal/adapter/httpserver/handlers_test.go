package httpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachememory "github.com/lexatlas/lexatlas/internal/adapter/cache/memory"
	"github.com/lexatlas/lexatlas/internal/adapter/httpserver"
	"github.com/lexatlas/lexatlas/internal/config"
	"github.com/lexatlas/lexatlas/internal/domain"
	"github.com/lexatlas/lexatlas/internal/monitoring"
	"github.com/lexatlas/lexatlas/internal/usecase"
)

// fakeJobs is a minimal JobRepository for handler tests.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]*domain.Job{}} }

func (f *fakeJobs) Create(_ context.Context, j domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j.ID = fmt.Sprintf("job-%d", f.seq)
	cp := j
	f.jobs[j.ID] = &cp
	return j.ID, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
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

func (f *fakeJobs) TransitionStatus(_ context.Context, id string, next domain.JobStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("op=job.transition: %w", domain.ErrNotFound)
	}
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("op=job.transition: %w", domain.ErrConflict)
	}
	j.Status = next
	if errMsg != nil {
		j.Error = *errMsg
	}
	return nil
}

func (f *fakeJobs) UpdateProgress(_ context.Context, id string, progress float64, processed, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Progress = progress
		if j.Bulk != nil {
			j.Bulk.ProcessedItems = processed
			j.Bulk.FailedItems = failed
		}
	}
	return nil
}

func (f *fakeJobs) ListWithFilters(_ context.Context, _, _ int, _, _ string) ([]domain.Job, error) {
	return nil, nil
}

type fakeResults struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (f *fakeResults) Upsert(_ context.Context, id string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = doc
	return nil
}

func (f *fakeResults) GetByJobID(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
	}
	return doc, nil
}

type fakeQueue struct{}

func (fakeQueue) Enqueue(context.Context, domain.JobTaskPayload, domain.Priority) error { return nil }

type noopAnalyzer struct{}

func (noopAnalyzer) AssessRisk(_ context.Context, caseID string) (domain.RiskAssessment, error) {
	return domain.RiskAssessment{CaseID: caseID, RiskLevel: "low"}, nil
}
func (noopAnalyzer) RecommendStrategies(context.Context, string) ([]domain.StrategyRecommendation, error) {
	return nil, nil
}
func (noopAnalyzer) AnalyzeDocument(context.Context, domain.BulkItem) (map[string]any, error) {
	return map[string]any{}, nil
}
func (noopAnalyzer) EvaluateChat(context.Context, domain.BulkItem) (map[string]any, error) {
	return map[string]any{}, nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyCompletion(context.Context, string, domain.BulkSummary) error { return nil }

type testEnv struct {
	srv   *httpserver.Server
	jobs  *fakeJobs
	cache *cachememory.Cache
	rec   *monitoring.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	jobs := newFakeJobs()
	results := &fakeResults{docs: map[string][]byte{}}
	cache := cachememory.New(64, 0)
	t.Cleanup(cache.Stop)
	rec := monitoring.NewRecorder(monitoring.DefaultThresholds(), 0)
	t.Cleanup(rec.Stop)

	dispatch := usecase.NewDispatchService(jobs, results, fakeQueue{}, cache, rec, time.Hour, time.Hour)
	bulk := usecase.NewBulkService(jobs, results, fakeQueue{}, noopAnalyzer{}, noopNotifier{}, rec,
		usecase.BulkDefaults{BatchSize: 4, MaxRetries: 1, TimeoutPerItem: time.Second},
		domain.DefaultRetryConfig())

	cfg := config.Config{BulkMaxBatchItems: 100, BulkOptimizedMaxItems: 1000}
	srv := httpserver.NewServer(cfg, dispatch, bulk, rec, nil)
	return &testEnv{srv: srv, jobs: jobs, cache: cache, rec: rec}
}

func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/cases/{caseID}/risk-assessment", e.srv.RiskAssessmentHandler())
	r.Post("/v1/cases/{caseID}/strategy-recommendations", e.srv.StrategyRecommendationsHandler())
	r.Get("/v1/jobs/{id}", e.srv.JobStatusHandler())
	r.Delete("/v1/jobs/{id}", e.srv.CancelJobHandler())
	r.Post("/v1/b2b/documents/batch", e.srv.DocumentsBatchHandler())
	r.Get("/v1/b2b/batch/{id}/performance", e.srv.BatchPerformanceHandler())
	r.Get("/v1/monitoring/dashboard", e.srv.DashboardHandler())
	r.Post("/v1/monitoring/reset", e.srv.ResetHandler())
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestRiskAssessment_Accepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rr, body := doJSON(t, env.router(), http.MethodPost, "/v1/cases/case-1/risk-assessment", "")

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["message"])
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "/v1/jobs/"+jobID, body["statusUrl"])
}

func TestRiskAssessment_FromCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.cache.Set(context.Background(), usecase.CacheNSRisk, "case-1", []byte(`{"riskLevel":"low"}`), time.Hour)

	rr, body := doJSON(t, env.router(), http.MethodPost, "/v1/cases/case-1/risk-assessment", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["fromCache"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "low", data["riskLevel"])
}

func TestJobStatus_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rr, body := doJSON(t, env.router(), http.MethodGet, "/v1/jobs/ghost", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, body["success"])
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestJobStatus_PendingEnvelope(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.router()
	_, accepted := doJSON(t, h, http.MethodPost, "/v1/cases/case-2/risk-assessment", "")
	jobID := accepted["jobId"].(string)

	rr, body := doJSON(t, h, http.MethodGet, "/v1/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, jobID, data["jobId"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, 0.0, data["progress"])
	assert.NotEmpty(t, data["estimatedCompletion"])
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.router()
	_, accepted := doJSON(t, h, http.MethodPost, "/v1/cases/case-3/risk-assessment", "")
	jobID := accepted["jobId"].(string)

	rr, body := doJSON(t, h, http.MethodDelete, "/v1/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])

	// A second cancel conflicts with the terminal state.
	rr, body = doJSON(t, h, http.MethodDelete, "/v1/jobs/"+jobID, "")
	require.Equal(t, http.StatusConflict, rr.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "CONFLICT", errObj["code"])
}

func TestDocumentsBatch_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.router()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/b2b/documents/batch", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/b2b/documents/batch", `not json`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDocumentsBatch_Accepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.router()

	rr, body := doJSON(t, h, http.MethodPost, "/v1/b2b/documents/batch",
		`{"items":[{"id":"d1","content":"a"},{"id":"d2","content":"b"}]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	jobID := data["batchJobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "/v1/jobs/"+jobID, data["statusUrl"])
	assert.Equal(t, "/v1/b2b/batch/"+jobID+"/performance", data["performanceUrl"])
	assert.EqualValues(t, 2, data["totalItems"])
	assert.NotEmpty(t, data["estimatedCompletionTime"])
}

func TestDashboardAndReset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.router()
	env.rec.RecordAPICall("GET /x", 10*time.Millisecond, true)

	rr, body := doJSON(t, h, http.MethodGet, "/v1/monitoring/dashboard", "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := body["data"].(map[string]any)
	require.Contains(t, data, "metrics")
	require.Contains(t, data, "summary")
	require.Contains(t, data, "alerts")
	metrics := data["metrics"].(map[string]any)
	api := metrics["apiMetrics"].(map[string]any)
	assert.Contains(t, api, "GET /x")

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/monitoring/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, env.rec.Metrics().APIMetrics)
}

func TestVerifyAPIKey_NonDefaultKeyLength(t *testing.T) {
	t.Parallel()
	hash, err := httpserver.HashAPIKey("secret-key", httpserver.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 24, KeyLen: 48,
	})
	require.NoError(t, err)

	assert.True(t, httpserver.VerifyAPIKey("secret-key", hash),
		"verification derives the key length from the stored hash")
	assert.False(t, httpserver.VerifyAPIKey("wrong-key", hash))
}

func TestPartnerAuth(t *testing.T) {
	t.Parallel()
	hash, err := httpserver.HashAPIKey("secret-key", httpserver.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)

	env := newTestEnv(t)
	env.srv.Cfg.PartnerAPIKeys = []string{"partner-1:" + hash}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "partner-1", httpserver.PartnerFrom(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	guarded := env.srv.PartnerAuth()(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/b2b/documents/batch", nil)
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "missing credentials rejected")

	req = httptest.NewRequest(http.MethodPost, "/v1/b2b/documents/batch", nil)
	req.Header.Set("X-Partner-Id", "partner-1")
	req.Header.Set("X-Api-Key", "wrong")
	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "wrong key rejected")

	req = httptest.NewRequest(http.MethodPost, "/v1/b2b/documents/batch", nil)
	req.Header.Set("X-Partner-Id", "partner-1")
	req.Header.Set("X-Api-Key", "secret-key")
	rr = httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
