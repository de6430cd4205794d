// Package domain defines the core entities and ports for the async
// processing core: jobs, bulk batches, caching, and ML analysis.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")

	// ML pipeline failures. The subtypes wrap ErrAIProcessing so callers can
	// match the family with errors.Is and still distinguish the cause.
	ErrAIProcessing   = errors.New("ai processing failed")
	ErrModelLoading   = wrapSentinel("model loading failed", ErrAIProcessing)
	ErrPrediction     = wrapSentinel("prediction failed", ErrAIProcessing)
	ErrDataProcessing = wrapSentinel("data processing failed", ErrAIProcessing)
)

type sentinelError struct {
	msg  string
	base error
}

func (e *sentinelError) Error() string { return e.msg }
func (e *sentinelError) Unwrap() error { return e.base }

func wrapSentinel(msg string, base error) error { return &sentinelError{msg: msg, base: base} }

// JobKind enumerates the units of work the dispatcher accepts.
type JobKind string

const (
	KindCaseRiskAssessment      JobKind = "case_risk_assessment"
	KindStrategyRecommendations JobKind = "strategy_recommendations"
	KindDocumentAnalysisBatch   JobKind = "document_analysis_batch"
	KindChatBatch               JobKind = "chat_batch"
)

// IsBulk reports whether the kind is processed as a B2B batch.
func (k JobKind) IsBulk() bool {
	return k == KindDocumentAnalysisBatch || k == KindChatBatch
}

// Valid reports whether the kind is one the dispatcher knows.
func (k JobKind) Valid() bool {
	switch k {
	case KindCaseRiskAssessment, KindStrategyRecommendations, KindDocumentAnalysisBatch, KindChatBatch:
		return true
	}
	return false
}

// Priority influences scheduling order among pending jobs. Higher tiers are
// drained before lower ones; no strict FIFO is guaranteed within a tier.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is a known tier.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransitionTo encodes the monotonic state machine:
// pending -> processing -> {completed, failed}, with cancellation allowed
// only from pending or processing. Terminal states are immutable.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobFailed || next == JobCancelled
	case JobProcessing:
		return next == JobCompleted || next == JobFailed || next == JobCancelled
	default:
		return false
	}
}

// Job is a unit of asynchronous work tracked by the dispatcher.
// Invariants: status transitions follow CanTransitionTo; Progress in [0,1];
// Error set only when status is failed.
type Job struct {
	ID          string
	Kind        JobKind
	Priority    Priority
	Status      JobStatus
	Progress    float64
	SubmittedBy string
	Payload     []byte
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Bulk is nil for single jobs.
	Bulk *BulkDetails
}

// JobTaskPayload is what travels over the queue. The job row is the source of
// truth; the payload carries only what the worker needs to pick the job up.
type JobTaskPayload struct {
	JobID string  `json:"job_id"`
	Kind  JobKind `json:"kind"`
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx context.Context, j Job) (string, error)
	Get(ctx context.Context, id string) (Job, error)
	// TransitionStatus updates the status only when the stored status permits
	// the transition per CanTransitionTo; returns ErrConflict otherwise.
	TransitionStatus(ctx context.Context, id string, next JobStatus, errMsg *string) error
	UpdateProgress(ctx context.Context, id string, progress float64, processedItems, failedItems int) error
	ListWithFilters(ctx context.Context, offset, limit int, kind, status string) ([]Job, error)
}

type ResultRepository interface {
	Upsert(ctx context.Context, jobID string, doc []byte) error
	GetByJobID(ctx context.Context, jobID string) ([]byte, error)
}

// Cache (port)
//
// Values are opaque JSON bytes; a read after the TTL elapses behaves as a
// miss. Operations are total: implementations surface storage problems as
// misses, never as errors.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, namespace, key string)
}

// Queue (port)

type Queue interface {
	Enqueue(ctx context.Context, payload JobTaskPayload, priority Priority) error
}

// Analyzer (port)
//
// Strategy-pattern injection point for the ML layer. The stub implementation
// keeps the placeholder semantics; a real scoring function substitutes behind
// the same interface.
type Analyzer interface {
	AssessRisk(ctx context.Context, caseID string) (RiskAssessment, error)
	RecommendStrategies(ctx context.Context, caseID string) ([]StrategyRecommendation, error)
	AnalyzeDocument(ctx context.Context, item BulkItem) (map[string]any, error)
	EvaluateChat(ctx context.Context, item BulkItem) (map[string]any, error)
}

// Notifier (port) delivers bulk completion webhooks. Delivery is
// fire-and-forget from the orchestrator's point of view.
type Notifier interface {
	NotifyCompletion(ctx context.Context, webhookURL string, summary BulkSummary) error
}

// RiskAssessment is the result document of a case risk assessment job.
type RiskAssessment struct {
	CaseID      string    `json:"case_id"`
	RiskLevel   string    `json:"riskLevel"` // one of low, medium, high
	RiskScore   float64   `json:"riskScore"`
	Factors     []string  `json:"factors,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// StrategyRecommendation is one entry of a strategy recommendation result.
type StrategyRecommendation struct {
	Title      string  `json:"title"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}
