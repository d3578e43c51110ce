package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"video-narrator/internal/service"
)

// Handler runs one job to completion.
type Handler interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      service.Queue
	handler    Handler
	workers    int
	claimDelay time.Duration
	retryDelay time.Duration
}

func NewPool(queue service.Queue, handler Handler, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:      queue,
		handler:    handler,
		workers:    workers,
		claimDelay: 5 * time.Second,
		retryDelay: time.Second,
	}
}

// Run claims jobs until ctx is cancelled, then waits for every running
// pipeline to finish. Pipelines run on a context that ignores ctx's
// cancellation, so shutdown never aborts a job halfway.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("[pool] started workers=%d", p.workers)

	jobCtx := context.WithoutCancel(ctx)
	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				if err := p.handler.Process(jobCtx, jobID); err != nil {
					log.Printf("[worker-%d] job_id=%s process error=%v", n, jobID, err)
				}
				// Ack either way: the job is terminal, skipped, or left pending
				// for the reconciler.
				if err := p.queue.Ack(jobCtx, jobID); err != nil {
					log.Printf("[worker-%d] job_id=%s ack error=%v", n, jobID, err)
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		log.Println("[pool] stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if errors.Is(err, service.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			log.Printf("[pool] claim error=%v", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.retryDelay):
			}
			continue
		}

		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but not started; the reconciler picks the job up later
			log.Printf("[pool] job_id=%s dropped_on_shutdown", jobID)
			return
		}
	}
}
