// Package stub is a fast, deterministic-enough analyzer for local use and
// tests. The scoring here is explicitly placeholder logic; the real model
// substitutes behind the same interface via the remote adapter.
package stub

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Analyzer implements domain.Analyzer with simulated latency and pseudo-random
// outcomes. A seed makes test runs reproducible.
type Analyzer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	delay time.Duration
}

// New constructs an Analyzer with the given simulated per-call latency.
func New(seed int64, delay time.Duration) *Analyzer {
	return &Analyzer{rng: rand.New(rand.NewSource(seed)), delay: delay} //nolint:gosec // placeholder scoring, not security-sensitive
}

var riskLevels = []string{"low", "medium", "high"}

// AssessRisk returns a placeholder risk assessment. The level is derived from
// the case id so repeated assessments of the same case agree.
func (a *Analyzer) AssessRisk(ctx context.Context, caseID string) (domain.RiskAssessment, error) {
	if err := a.simulate(ctx); err != nil {
		return domain.RiskAssessment{}, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(caseID))
	level := riskLevels[h.Sum32()%3]
	a.mu.Lock()
	score := 0.2 + a.rng.Float64()*0.6
	a.mu.Unlock()
	return domain.RiskAssessment{
		CaseID:    caseID,
		RiskLevel: level,
		RiskScore: score,
		Factors: []string{
			"jurisdiction precedent density",
			"opposing counsel track record",
			"documentary evidence coverage",
		},
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// RecommendStrategies returns the static placeholder recommendation list.
func (a *Analyzer) RecommendStrategies(ctx context.Context, caseID string) ([]domain.StrategyRecommendation, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}
	return []domain.StrategyRecommendation{
		{Title: "Pursue early settlement", Rationale: "comparable cases settled below projected litigation cost", Confidence: 0.72},
		{Title: "File motion to dismiss", Rationale: "jurisdictional defects identified in the complaint", Confidence: 0.58},
		{Title: "Request document discovery", Rationale: "evidence coverage below threshold for trial readiness", Confidence: 0.81},
	}, nil
}

// AnalyzeDocument returns a placeholder per-document analysis.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, item domain.BulkItem) (map[string]any, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}
	if item.Ref == "" && item.Content == "" {
		return nil, fmt.Errorf("%w: item %s has neither ref nor content", domain.ErrDataProcessing, item.ID)
	}
	a.mu.Lock()
	score := a.rng.Float64()
	a.mu.Unlock()
	return map[string]any{
		"item_id":        item.ID,
		"classification": "contract",
		"riskScore":      score,
	}, nil
}

// EvaluateChat returns a placeholder chat transcript evaluation.
func (a *Analyzer) EvaluateChat(ctx context.Context, item domain.BulkItem) (map[string]any, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}
	if item.Content == "" {
		return nil, fmt.Errorf("%w: item %s has no transcript", domain.ErrDataProcessing, item.ID)
	}
	return map[string]any{
		"item_id":   item.ID,
		"sentiment": "neutral",
		"topics":    []string{"billing", "case status"},
	}, nil
}

// simulate sleeps for the configured latency, honoring cancellation. The
// delay makes submit-then-poll tests observe the pending/processing window.
func (a *Analyzer) simulate(ctx context.Context) error {
	if a.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(a.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
