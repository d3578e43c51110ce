// Package memory is an in-process job store. It is not durable across
// restarts and is meant for tests and throwaway local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"video-narrator/internal/entity"
	"video-narrator/internal/repository"
)

type JobRepository struct {
	mu    sync.Mutex
	jobs  map[string]*entity.Job
	clock func() time.Time
}

func NewJobRepository() *JobRepository {
	return &JobRepository{
		jobs:  make(map[string]*entity.Job),
		clock: time.Now,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return repository.ErrExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepository) Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := cur.Clone()
	if err := next.Apply(patch, r.clock()); err != nil {
		return nil, err
	}
	r.jobs[id] = next
	return next.Clone(), nil
}

func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, updatedBefore time.Time, limit int) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entity.Job, 0)
	for _, j := range r.jobs {
		if j.Status == status && j.UpdatedAt.Before(updatedBefore) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
