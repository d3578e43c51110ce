package postgresql

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-narrator/internal/entity"
	"video-narrator/internal/repository"
)

//go:embed migrations/001_video_jobs.sql
var schemaSQL string

const uniqueViolation = "23505"

type JobRepository struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool, clock: time.Now}
}

// EnsureSchema creates the jobs table when it is missing.
func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO video_jobs (id, status, text, progress, video_url, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID, string(job.Status), job.Text,
		job.Progress, job.VideoURL, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	const q = `
SELECT id, status, text, progress, video_url, error, created_at, updated_at
FROM video_jobs
WHERE id = $1;
`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

// Update locks the row, merges the patch in Go and writes the whole record
// back inside one transaction.
func (r *JobRepository) Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error) {
	const sel = `
SELECT id, status, text, progress, video_url, error, created_at, updated_at
FROM video_jobs
WHERE id = $1
FOR UPDATE;
`
	const upd = `
UPDATE video_jobs
SET status=$2, progress=$3, video_url=$4, error=$5, updated_at=$6
WHERE id=$1;
`
	var merged *entity.Job
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, sel, id))
		if err != nil {
			return err
		}
		if err := job.Apply(patch, r.clock()); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, upd, job.ID, string(job.Status), job.Progress, job.VideoURL, job.Error, job.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		merged = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, updatedBefore time.Time, limit int) ([]*entity.Job, error) {
	const q = `
SELECT id, status, text, progress, video_url, error, created_at, updated_at
FROM video_jobs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3;
`
	// LIMIT NULL is LIMIT ALL
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, q, string(status), updatedBefore, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
	)
	if err := row.Scan(
		&job.ID,
		&statusText,
		&job.Text,
		&job.Progress, // NULL => nil
		&job.VideoURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	job.Status = entity.JobStatus(statusText)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
