package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, kind, priority, status, progress, submitted_by, payload, COALESCE(error,''),
	created_at, started_at, completed_at,
	COALESCE(org_id,''), total_items, processed_items, failed_items,
	COALESCE(webhook_url,''), max_retries, batch_size, timeout_per_item_ms`

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx context.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	b := j.Bulk
	if b == nil {
		b = &domain.BulkDetails{}
	}
	q := `INSERT INTO jobs
		(id, kind, priority, status, progress, submitted_by, payload, error, created_at,
		 org_id, total_items, processed_items, failed_items, webhook_url, max_retries, batch_size, timeout_per_item_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := r.Pool.Exec(ctx, q,
		id, j.Kind, j.Priority, j.Status, j.Progress, j.SubmittedBy, j.Payload, j.Error, time.Now().UTC(),
		b.OrganizationID, b.TotalItems, b.ProcessedItems, b.FailedItems, b.WebhookURL,
		b.MaxRetries, b.BatchSize, b.TimeoutPerItem.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// TransitionStatus moves the job to next only when the stored status permits
// the transition. The permitted previous states are enforced in the UPDATE
// predicate so concurrent writers cannot race a terminal state back to life.
func (r *JobRepo) TransitionStatus(ctx context.Context, id string, next domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.TransitionStatus")
	defer span.End()

	from := allowedFrom(next)
	if len(from) == 0 {
		return fmt.Errorf("op=job.transition: %w: no transition reaches %s", domain.ErrConflict, next)
	}
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	now := time.Now().UTC()
	q := `UPDATE jobs SET status=$2, error=$3,
		started_at = CASE WHEN $2 = 'processing' THEN $4 ELSE started_at END,
		completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN $4 ELSE completed_at END
		WHERE id=$1 AND status = ANY($5)`
	tag, err := r.Pool.Exec(ctx, q, id, next, errVal, now, from)
	if err != nil {
		return fmt.Errorf("op=job.transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from an illegal transition.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("op=job.transition: %w: %s not reachable", domain.ErrConflict, next)
	}
	return nil
}

// UpdateProgress stores the progress fraction and bulk counters.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress float64, processedItems, failedItems int) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()
	q := `UPDATE jobs SET progress=$2, processed_items=$3, failed_items=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, progress, processedItems, failedItems); err != nil {
		return fmt.Errorf("op=job.update_progress: %w", err)
	}
	return nil
}

// ListWithFilters pages through jobs filtered by kind and/or status. Empty
// filter values match everything.
func (r *JobRepo) ListWithFilters(ctx context.Context, offset, limit int, kind, status string) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListWithFilters")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE ($3 = '' OR kind = $3) AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC OFFSET $1 LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, offset, limit, kind, status)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// allowedFrom returns the set of states from which next is reachable,
// mirroring domain.JobStatus.CanTransitionTo.
func allowedFrom(next domain.JobStatus) []string {
	switch next {
	case domain.JobProcessing:
		return []string{string(domain.JobPending)}
	case domain.JobCompleted:
		return []string{string(domain.JobProcessing)}
	case domain.JobFailed, domain.JobCancelled:
		return []string{string(domain.JobPending), string(domain.JobProcessing)}
	default:
		return nil
	}
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var b domain.BulkDetails
	var timeoutMs int64
	if err := row.Scan(
		&j.ID, &j.Kind, &j.Priority, &j.Status, &j.Progress, &j.SubmittedBy, &j.Payload, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
		&b.OrganizationID, &b.TotalItems, &b.ProcessedItems, &b.FailedItems,
		&b.WebhookURL, &b.MaxRetries, &b.BatchSize, &timeoutMs,
	); err != nil {
		return domain.Job{}, err
	}
	if j.Kind.IsBulk() {
		b.TimeoutPerItem = time.Duration(timeoutMs) * time.Millisecond
		j.Bulk = &b
	}
	return j, nil
}
