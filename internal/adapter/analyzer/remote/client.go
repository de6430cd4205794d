// Package remote calls an external ML scoring service over HTTP. Transient
// failures are retried with exponential backoff; terminal failures map into
// the domain's AI processing error family so handlers can answer 503 with a
// retry hint where appropriate.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Client implements domain.Analyzer against the ML service API.
type Client struct {
	baseURL string
	hc      *http.Client

	maxElapsed      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
}

// New constructs a Client for the given ML service base URL.
func New(baseURL string, timeout, maxElapsed, initialInterval, maxInterval time.Duration) *Client {
	return &Client{
		baseURL:         baseURL,
		hc:              &http.Client{Timeout: timeout},
		maxElapsed:      maxElapsed,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
	}
}

// AssessRisk runs the risk model for a case.
func (c *Client) AssessRisk(ctx context.Context, caseID string) (domain.RiskAssessment, error) {
	var out domain.RiskAssessment
	err := c.post(ctx, "/v1/risk-assessment", map[string]any{"case_id": caseID}, &out)
	return out, err
}

// RecommendStrategies runs the recommendation model for a case.
func (c *Client) RecommendStrategies(ctx context.Context, caseID string) ([]domain.StrategyRecommendation, error) {
	var out []domain.StrategyRecommendation
	err := c.post(ctx, "/v1/strategy-recommendations", map[string]any{"case_id": caseID}, &out)
	return out, err
}

// AnalyzeDocument runs document analysis for one bulk item.
func (c *Client) AnalyzeDocument(ctx context.Context, item domain.BulkItem) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/v1/documents/analyze", item, &out)
	return out, err
}

// EvaluateChat runs chat evaluation for one bulk item.
func (c *Client) EvaluateChat(ctx context.Context, item domain.BulkItem) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/v1/chats/evaluate", item, &out)
	return out, err
}

// Ping reports ML service reachability for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrDataProcessing, err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			// Network-level failures are retryable.
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decode response: %v", domain.ErrDataProcessing, err))
			}
			return nil
		case resp.StatusCode == http.StatusServiceUnavailable:
			// The model is still warming up; keep retrying within the window.
			return fmt.Errorf("%w: %s", domain.ErrModelLoading, resp.Status)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: %s", domain.ErrPrediction, resp.Status)
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("%w: %s: %s", domain.ErrPrediction, resp.Status, string(b)))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		slog.Error("ml service call failed", slog.String("path", path), slog.Any("error", err))
		return err
	}
	return nil
}
