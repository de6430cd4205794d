// Package webhook delivers bulk completion notifications to partner
// endpoints. Delivery is decoupled from job completion: attempts run on a
// background goroutine with bounded exponential retry, and exhausted
// deliveries land in a dead-letter log instead of failing the job.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/domain"
)

// DeadLetter records one delivery that exhausted its retries.
type DeadLetter struct {
	WebhookURL string
	JobID      string
	LastError  string
	FailedAt   time.Time
}

// Notifier implements domain.Notifier over HTTP POST.
type Notifier struct {
	hc *http.Client

	maxElapsed      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration

	mu         sync.Mutex
	deadLetter []DeadLetter

	wg sync.WaitGroup
}

// New constructs a Notifier. maxElapsed bounds the total retry window per
// delivery.
func New(timeout, maxElapsed, initialInterval, maxInterval time.Duration) *Notifier {
	return &Notifier{
		hc:              &http.Client{Timeout: timeout},
		maxElapsed:      maxElapsed,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
	}
}

// NotifyCompletion schedules delivery of the summary and returns immediately.
// Delivery failure is logged and dead-lettered, never raised to the caller.
func (n *Notifier) NotifyCompletion(_ context.Context, webhookURL string, summary domain.BulkSummary) error {
	if webhookURL == "" {
		return nil
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(webhookURL, summary)
	}()
	return nil
}

// Wait blocks until all scheduled deliveries finish; used by shutdown and
// tests.
func (n *Notifier) Wait() { n.wg.Wait() }

// DeadLetters returns a copy of the exhausted-delivery log.
func (n *Notifier) DeadLetters() []DeadLetter {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]DeadLetter, len(n.deadLetter))
	copy(out, n.deadLetter)
	return out
}

func (n *Notifier) deliver(webhookURL string, summary domain.BulkSummary) {
	body, err := json.Marshal(summary)
	if err != nil {
		slog.Error("webhook payload marshal failed", slog.String("job_id", summary.JobID), slog.Any("error", err))
		return
	}

	op := func() error {
		req, err := http.NewRequest(http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Lexatlas-Event", "bulk_job.completed")
		resp, err := n.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// The endpoint rejected the payload; retrying cannot help.
			return backoff.Permanent(fmt.Errorf("webhook rejected: %s", resp.Status))
		}
		return fmt.Errorf("webhook delivery failed: %s", resp.Status)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.initialInterval
	bo.MaxInterval = n.maxInterval
	bo.MaxElapsedTime = n.maxElapsed

	if err := backoff.Retry(op, bo); err != nil {
		n.mu.Lock()
		n.deadLetter = append(n.deadLetter, DeadLetter{
			WebhookURL: webhookURL,
			JobID:      summary.JobID,
			LastError:  err.Error(),
			FailedAt:   time.Now().UTC(),
		})
		n.mu.Unlock()
		observability.ObserveWebhookDelivery(false)
		slog.Error("webhook delivery exhausted, dead-lettered",
			slog.String("job_id", summary.JobID),
			slog.String("webhook_url", webhookURL),
			slog.Any("error", err))
		return
	}
	observability.ObserveWebhookDelivery(true)
	slog.Info("webhook delivered",
		slog.String("job_id", summary.JobID),
		slog.String("webhook_url", webhookURL))
}
