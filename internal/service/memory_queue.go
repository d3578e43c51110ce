package service

import (
	"context"
	"sync"
	"time"
)

// memoryQueue is the in-process queue used for single-node runs. Claimed
// ids are tracked until Ack so RequeueStale has the same meaning as in Redis.
type memoryQueue struct {
	mu         sync.Mutex
	items      []string
	processing map[string]int
	notify     chan struct{}
}

func NewMemoryQueue() Queue {
	return &memoryQueue{
		processing: make(map[string]int),
		notify:     make(chan struct{}, 1),
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) tryClaim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	q.processing[id]++
	if len(q.items) > 0 {
		q.signal()
	}
	return id, true
}

func (q *memoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if id, ok := q.tryClaim(); ok {
			return id, nil
		}
		select {
		case <-q.notify:
		case <-expired:
			return "", ErrQueueEmpty
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *memoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := q.processing[jobID]; n > 1 {
		q.processing[jobID] = n - 1
	} else {
		delete(q.processing, jobID)
	}
	return nil
}

func (q *memoryQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	q.mu.Lock()
	var moved int64
	for id, n := range q.processing {
		for ; n > 0 && moved < max; n-- {
			q.items = append(q.items, id)
			moved++
		}
		if n == 0 {
			delete(q.processing, id)
		} else {
			q.processing[id] = n
		}
	}
	q.mu.Unlock()

	if moved > 0 {
		q.signal()
	}
	return moved, nil
}
