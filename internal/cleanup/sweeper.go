// Package cleanup removes expired temporary render inputs and outputs.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"video-narrator/internal/metrics"
)

// DefaultMaxAge is the retention for temp files.
const DefaultMaxAge = time.Hour

type Sweeper struct {
	dirs    []string
	maxAge  time.Duration
	metrics metrics.Sink
	now     func() time.Time

	group singleflight.Group
}

func NewSweeper(dirs []string, maxAge time.Duration, sink metrics.Sink) *Sweeper {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Sweeper{
		dirs:    dirs,
		maxAge:  maxAge,
		metrics: sink,
		now:     time.Now,
	}
}

// Sweep deletes regular files in the configured dirs whose modification
// time is strictly more than maxAge ago. Files it cannot stat or remove are
// skipped. Concurrent callers share a single pass and its result.
func (s *Sweeper) Sweep(ctx context.Context) int {
	v, _, _ := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx), nil
	})
	return v.(int)
}

func (s *Sweeper) sweep(ctx context.Context) int {
	now := s.now()
	deleted := 0

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("[cleanup] dir=%s read error=%v", dir, err)
			}
			continue
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				s.metrics.CleanupDeleted(deleted)
				return deleted
			}
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) <= s.maxAge {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				log.Printf("[cleanup] file=%s remove error=%v", path, err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		log.Printf("[cleanup] deleted=%d max_age=%s", deleted, s.maxAge)
	}
	s.metrics.CleanupDeleted(deleted)
	return deleted
}
