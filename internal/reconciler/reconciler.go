// Package reconciler repairs jobs a crashed or restarted process left behind.
//
// A processing job that has not been touched for longer than the threshold
// has lost its pipeline and is failed. A pending job that old was probably
// dropped from a non-durable queue and is enqueued again; the orchestrator
// only claims pending jobs, so a duplicate delivery is harmless.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"video-narrator/internal/entity"
	"video-narrator/internal/metrics"
)

type Store interface {
	ListStale(ctx context.Context, status entity.JobStatus, updatedBefore time.Time, limit int) ([]*entity.Job, error)
	Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

type Config struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m" or "*/5 * * * *".
	Schedule string
	// Threshold must exceed the longest stage timeout or live pipelines get failed.
	Threshold time.Duration
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Schedule:  "@every 1m",
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

// ValidateSchedule reports whether spec parses with the scheduler's parser.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return nil
}

type Result struct {
	Failed   int
	Requeued int
}

type Reconciler struct {
	config  Config
	store   Store
	queue   Enqueuer
	metrics metrics.Sink
	clock   func() time.Time
}

func New(config Config, store Store, queue Enqueuer, sink metrics.Sink) *Reconciler {
	def := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = def.Schedule
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Reconciler{
		config:  config,
		store:   store,
		queue:   queue,
		metrics: sink,
		clock:   time.Now,
	}
}

// Run does one pass immediately, then one per schedule tick, until ctx is
// cancelled. Overlapping ticks are skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))))
	if _, err := c.AddFunc(r.config.Schedule, func() { r.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}

	log.Printf("[reconciler] started schedule=%q threshold=%s batch=%d",
		r.config.Schedule, r.config.Threshold, r.config.BatchSize)

	r.RunCycle(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Println("[reconciler] stopped")
	return nil
}

// RunCycle performs a single reconciliation pass.
func (r *Reconciler) RunCycle(ctx context.Context) Result {
	var res Result
	cutoff := r.clock().Add(-r.config.Threshold)

	stuck, err := r.store.ListStale(ctx, entity.StatusProcessing, cutoff, r.config.BatchSize)
	if err != nil {
		log.Printf("[reconciler] list processing error=%v", err)
	}
	msg := fmt.Sprintf("pipeline interrupted: no progress for %s", r.config.Threshold)
	for _, j := range stuck {
		if ctx.Err() != nil {
			return r.finish(res)
		}
		if _, err := r.store.Update(ctx, j.ID, entity.StaleFailPatch(msg)); err != nil {
			if !errors.Is(err, entity.ErrStatusConflict) && !errors.Is(err, entity.ErrJobFinalized) {
				log.Printf("[reconciler] job_id=%s mark_failed error=%v", j.ID, err)
			}
			continue
		}
		log.Printf("[reconciler] job_id=%s action=failed idle=%s", j.ID, r.clock().Sub(j.UpdatedAt).Round(time.Second))
		res.Failed++
	}

	waiting, err := r.store.ListStale(ctx, entity.StatusPending, cutoff, r.config.BatchSize)
	if err != nil {
		log.Printf("[reconciler] list pending error=%v", err)
	}
	for _, j := range waiting {
		if ctx.Err() != nil {
			return r.finish(res)
		}
		// Bump updatedAt so a backlogged job is requeued once per threshold, not every tick.
		pending := entity.StatusPending
		if _, err := r.store.Update(ctx, j.ID, entity.JobPatch{IfStatus: &pending}); err != nil {
			if !errors.Is(err, entity.ErrStatusConflict) && !errors.Is(err, entity.ErrJobFinalized) {
				log.Printf("[reconciler] job_id=%s touch error=%v", j.ID, err)
			}
			continue
		}
		if err := r.queue.Enqueue(ctx, j.ID); err != nil {
			log.Printf("[reconciler] job_id=%s requeue error=%v", j.ID, err)
			continue
		}
		log.Printf("[reconciler] job_id=%s action=requeued age=%s", j.ID, r.clock().Sub(j.CreatedAt).Round(time.Second))
		res.Requeued++
	}

	return r.finish(res)
}

func (r *Reconciler) finish(res Result) Result {
	r.metrics.JobsReconciled(metrics.ActionFailed, res.Failed)
	r.metrics.JobsReconciled(metrics.ActionRequeued, res.Requeued)
	if res.Failed > 0 || res.Requeued > 0 {
		log.Printf("[reconciler] cycle complete failed=%d requeued=%d", res.Failed, res.Requeued)
	}
	return res
}
