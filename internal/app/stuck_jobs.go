package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lexatlas/lexatlas/internal/adapter/observability"
	"github.com/lexatlas/lexatlas/internal/domain"
)

// StuckJobSweeper fails processing jobs whose worker died mid-flight. Without
// it a crashed worker leaves jobs in processing forever, since delivery is at
// most once and nothing will retry them.
type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckJobSweeper constructs a sweeper with sane floors on its timings.
func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.maxProcessingAge)
	const pageSize = 100
	span.SetAttributes(attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	marked := 0
	for offset := 0; ; offset += pageSize {
		jobs, err := s.jobs.ListWithFilters(ctx, offset, pageSize, "", string(domain.JobProcessing))
		if err != nil {
			slog.Error("stuck job sweep failed", slog.Any("error", err))
			return
		}
		for _, j := range jobs {
			started := j.CreatedAt
			if j.StartedAt != nil {
				started = *j.StartedAt
			}
			if started.After(cutoff) {
				continue
			}
			msg := "processing exceeded maximum age"
			if err := s.jobs.TransitionStatus(ctx, j.ID, domain.JobFailed, &msg); err != nil {
				slog.Warn("could not fail stuck job", slog.String("job_id", j.ID), slog.Any("error", err))
				continue
			}
			observability.FailJob(string(j.Kind))
			marked++
			slog.Warn("stuck job marked failed",
				slog.String("job_id", j.ID),
				slog.String("kind", string(j.Kind)),
				slog.Time("started_at", started))
		}
		if len(jobs) < pageSize {
			break
		}
	}
	if marked > 0 {
		span.SetAttributes(attribute.Int("jobs.marked_failed", marked))
	}
}
