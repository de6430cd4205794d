// Package domain defines bulk batch entities and the retry policy shared by
// item processing and webhook delivery.
package domain

import (
	"strings"
	"time"
)

// BulkItem is one element of a B2B batch. Ref points at the tenant's document
// or chat transcript; Content carries inline payloads for small items.
type BulkItem struct {
	ID      string         `json:"id"`
	Ref     string         `json:"ref,omitempty"`
	Content string         `json:"content,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ItemError records a single item's terminal failure inside an otherwise
// successful batch.
type ItemError struct {
	ItemID   string `json:"item_id"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message"`
}

// BulkDetails carries the batch-specific state of a Job.
// Invariant: ProcessedItems <= TotalItems; FailedItems <= ProcessedItems.
type BulkDetails struct {
	OrganizationID string
	TotalItems     int
	ProcessedItems int
	FailedItems    int
	WebhookURL     string
	MaxRetries     int
	BatchSize      int
	TimeoutPerItem time.Duration
}

// BulkSummary is the completion notification payload sent to webhooks and the
// basis of the performance endpoint.
type BulkSummary struct {
	JobID          string        `json:"job_id"`
	OrganizationID string        `json:"organization_id"`
	Status         JobStatus     `json:"status"`
	TotalItems     int           `json:"total_items"`
	ProcessedItems int           `json:"processed_items"`
	FailedItems    int           `json:"failed_items"`
	Elapsed        time.Duration `json:"elapsed"`
	ItemErrors     []ItemError   `json:"item_errors,omitempty"`
}

// PerformanceMetrics is the timing breakdown for a finished or in-flight
// bulk job.
type PerformanceMetrics struct {
	JobID            string        `json:"job_id"`
	ProcessedItems   int           `json:"processed_items"`
	FailedItems      int           `json:"failed_items"`
	Elapsed          time.Duration `json:"elapsed"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
	MinItemLatency   time.Duration `json:"min_item_latency"`
	AvgItemLatency   time.Duration `json:"avg_item_latency"`
	P95ItemLatency   time.Duration `json:"p95_item_latency"`
	MaxItemLatency   time.Duration `json:"max_item_latency"`
}

// RetryConfig defines retry behavior for bulk item processing and webhook
// delivery.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// RetryableErrors and NonRetryableErrors classify failures by substring
	// match against the error text.
	RetryableErrors    []string
	NonRetryableErrors []string
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []string{
			"context deadline exceeded",
			"connection refused",
			"timeout",
			"temporary failure",
			"rate limited",
			"model loading",
		},
		NonRetryableErrors: []string{
			"invalid argument",
			"not found",
			"conflict",
			"unauthorized",
			"data processing",
		},
	}
}

// Retryable classifies an error by its text. Non-retryable markers win over
// retryable ones; unknown errors default to retryable, matching the queue
// semantics of treating transient faults as recoverable.
func (c RetryConfig) Retryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, marker := range c.NonRetryableErrors {
		if strings.Contains(s, marker) {
			return false
		}
	}
	for _, marker := range c.RetryableErrors {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return true
}

// DelayFor calculates the exponential backoff delay before attempt n
// (0-based), capped at MaxDelay. Jitter adds a flat 10% to spread retries.
func (c RetryConfig) DelayFor(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
	}
	delay := time.Duration(d)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay += time.Duration(float64(delay) * 0.1)
	}
	return delay
}
