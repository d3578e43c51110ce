package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"video-narrator/internal/entity"
	"video-narrator/internal/metrics"
)

var (
	ErrInvalidText = errors.New("text is required")
	ErrInvalidID   = errors.New("invalid job id")
)

// JobRepository is the store port (implementations under internal/repository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id string) (*entity.Job, error)
	Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error)
}

// JobQueue is the enqueue-only slice of Queue the gateway needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type JobService struct {
	repo    JobRepository
	queue   JobQueue
	metrics metrics.Sink
	clock   func() time.Time
}

func NewJobService(repo JobRepository, queue JobQueue, sink metrics.Sink) *JobService {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &JobService{repo: repo, queue: queue, metrics: sink, clock: time.Now}
}

// CreateJob stores a pending record and hands its id to the worker queue.
// It returns as soon as the job is scheduled; rendering happens elsewhere.
func (s *JobService) CreateJob(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrInvalidText
	}

	job := entity.NewJob(uuid.NewString(), text, s.clock())
	if err := s.repo.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// A record nobody will ever pick up is worse than a failed one.
		if _, uErr := s.repo.Update(ctx, job.ID, entity.FailedPatch("could not schedule job: "+err.Error())); uErr != nil {
			log.Printf("[service] job_id=%s mark_failed error=%v", job.ID, uErr)
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	s.metrics.JobSubmitted()
	log.Printf("[service] job_id=%s status=pending words=%d", job.ID, len(strings.Fields(text)))
	return job.ID, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*entity.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}
	return s.repo.GetByID(ctx, id)
}
