// Package repo contains JobRepository implementations.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, parent_id, spawn_index, model, prompt, num_outputs, seed, output_format,
status, media, error_message, retry_count, external_task_ref,
created_at, updated_at, started_at, completed_at`

// Create inserts a new job record. CreatedAt/UpdatedAt are assigned by the
// database.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, parent_id, spawn_index, model, prompt, num_outputs, seed, output_format, status, media, error_message, retry_count, external_task_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING created_at, updated_at;
`
	media, err := marshalMedia(job.Media)
	if err != nil {
		return err
	}
	row := r.pool.QueryRow(ctx, query,
		job.ID,
		job.ParentID,
		job.SpawnIndex,
		job.Model,
		job.Prompt,
		job.NumOutputs,
		job.Seed,
		job.OutputFormat,
		job.Status,
		media,
		job.ErrorMessage,
		job.RetryCount,
		job.ExternalTaskRef,
	)
	return row.Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobColumns)
	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update applies a partial, last-writer-wins update to a single row and
// returns the updated job.
func (r *JobRepositoryPG) Update(ctx context.Context, id string, upd domain.JobUpdate) (*domain.Job, error) {
	query := fmt.Sprintf(`
UPDATE jobs
SET status            = COALESCE($2, status),
    media             = COALESCE($3, media),
    error_message     = COALESCE($4, error_message),
    retry_count       = COALESCE($5, retry_count),
    external_task_ref = COALESCE($6, external_task_ref),
    started_at        = COALESCE($7, started_at),
    completed_at      = COALESCE($8, completed_at),
    updated_at        = NOW()
WHERE id = $1
RETURNING %s;
`, jobColumns)

	media, err := marshalMedia(upd.Media)
	if err != nil {
		return nil, err
	}
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	job, err := scanJob(r.pool.QueryRow(ctx, query,
		id,
		status,
		media,
		upd.ErrorMessage,
		upd.RetryCount,
		upd.ExternalTaskRef,
		upd.StartedAt,
		upd.CompletedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListChildren returns the children of parentID in spawn order.
func (r *JobRepositoryPG) ListChildren(ctx context.Context, parentID string) ([]*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE parent_id = $1 ORDER BY spawn_index, created_at, id;`, jobColumns)
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, job)
	}
	return children, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var media []byte
	if err := row.Scan(
		&job.ID,
		&job.ParentID,
		&job.SpawnIndex,
		&job.Model,
		&job.Prompt,
		&job.NumOutputs,
		&job.Seed,
		&job.OutputFormat,
		&job.Status,
		&media,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.ExternalTaskRef,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(media) > 0 {
		if err := json.Unmarshal(media, &job.Media); err != nil {
			return nil, fmt.Errorf("decode media for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func marshalMedia(items []domain.MediaItem) ([]byte, error) {
	if items == nil {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode media: %w", err)
	}
	return b, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
