package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandclip-worker-service/internal/entity"
)

// JobRepository keeps the per-attempt audit trail of worker deliveries.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Create opens a running audit row. attempts counts prior rows of the same
// type for the video, so retries read 1, 2, 3...
func (r *JobRepository) Create(ctx context.Context, videoID uuid.UUID, typ entity.JobType) (uuid.UUID, error) {
	const q = `
INSERT INTO jobs (video_id, type, status, attempts, started_at)
SELECT $1, $2, 'running', COALESCE(MAX(attempts), 0) + 1, now()
FROM jobs
WHERE video_id = $1 AND type = $2
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, videoID, string(typ)).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, video_id, type, status, attempts, log, error, started_at, finished_at, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	var (
		job        entity.Job
		typeText   string
		statusText string
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.VideoID,
		&typeText,
		&statusText,
		&job.Attempts,
		&job.Log,   // NULL => nil
		&job.Error, // NULL => nil
		&job.StartedAt,
		&job.FinishedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Type = entity.JobType(typeText)
	job.Status = entity.JobStatus(statusText)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return &job, nil
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, logText string) error {
	const q = `
UPDATE jobs
SET status = 'succeeded', log = NULLIF($2, ''), error = NULL, finished_at = now(), updated_at = now()
WHERE id = $1;
`
	return r.update(ctx, q, id, logText)
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE jobs
SET status = 'failed', error = $2, finished_at = now(), updated_at = now()
WHERE id = $1;
`
	return r.update(ctx, q, id, errText)
}

func (r *JobRepository) update(ctx context.Context, q string, id uuid.UUID, text string) error {
	tag, err := r.pool.Exec(ctx, q, id, text)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
