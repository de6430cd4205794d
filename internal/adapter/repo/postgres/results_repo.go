package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// ResultRepo stores job result documents as JSONB.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

// Upsert stores or replaces the result document for a job.
func (r *ResultRepo) Upsert(ctx context.Context, jobID string, doc []byte) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Upsert")
	defer span.End()
	q := `INSERT INTO job_results (job_id, doc, created_at) VALUES ($1,$2,$3)
		ON CONFLICT (job_id) DO UPDATE SET doc = EXCLUDED.doc`
	if _, err := r.Pool.Exec(ctx, q, jobID, doc, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=result.upsert: %w", err)
	}
	return nil
}

// GetByJobID loads the result document for a job.
func (r *ResultRepo) GetByJobID(ctx context.Context, jobID string) ([]byte, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.GetByJobID")
	defer span.End()
	var doc []byte
	q := `SELECT doc FROM job_results WHERE job_id=$1`
	if err := r.Pool.QueryRow(ctx, q, jobID).Scan(&doc); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=result.get: %w", err)
	}
	return doc, nil
}
