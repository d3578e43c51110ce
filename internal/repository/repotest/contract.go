// Package repotest is a behaviour suite every job store backend runs in its
// own tests.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-narrator/internal/entity"
	"video-narrator/internal/repository"
)

type Store interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id string) (*entity.Job, error)
	Update(ctx context.Context, id string, patch entity.JobPatch) (*entity.Job, error)
	ListStale(ctx context.Context, status entity.JobStatus, updatedBefore time.Time, limit int) ([]*entity.Job, error)
}

func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateMergesFields", func(t *testing.T) { testUpdateMerges(t, newStore(t)) })
	t.Run("TerminalIsFrozen", func(t *testing.T) { testTerminalFrozen(t, newStore(t)) })
	t.Run("ConcurrentProgressUpdates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimExclusive(t, newStore(t)) })
	t.Run("ListStale", func(t *testing.T) { testListStale(t, newStore(t)) })
	t.Run("ListStaleLimit", func(t *testing.T) { testListStaleLimit(t, newStore(t)) })
}

func newJob(text string, at time.Time) *entity.Job {
	return entity.NewJob(uuid.NewString(), text, at)
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("hello world", time.Now())
	require.NoError(t, s.Create(ctx, job))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, "hello world", got.Text)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.Progress)
	assert.Nil(t, got.VideoURL)
	assert.Nil(t, got.Error)
}

func testCreateDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("x", time.Now())
	require.NoError(t, s.Create(ctx, job))
	require.ErrorIs(t, s.Create(ctx, job), repository.ErrExists)
}

func testGetMissing(t *testing.T, s Store) {
	_, err := s.GetByID(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Update(context.Background(), uuid.NewString(), entity.ProgressPatch("x"))
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testUpdateMerges(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("merge me", time.Now())
	require.NoError(t, s.Create(ctx, job))

	_, err := s.Update(ctx, job.ID, entity.ProcessingPatch(entity.ProgressGeneratingAudio))
	require.NoError(t, err)

	merged, err := s.Update(ctx, job.ID, entity.ProgressPatch(entity.ProgressRendering))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, merged.Status)
	assert.Equal(t, "merge me", merged.Text)
	require.NotNil(t, merged.Progress)
	assert.Equal(t, entity.ProgressRendering, *merged.Progress)

	done, err := s.Update(ctx, job.ID, entity.CompletedPatch("/videos/a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, done.Status)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	require.NotNil(t, got.VideoURL)
	assert.Equal(t, "/videos/a.mp4", *got.VideoURL)
	assert.Nil(t, got.Error)
	assert.Equal(t, "merge me", got.Text)
}

func testTerminalFrozen(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("x", time.Now())
	require.NoError(t, s.Create(ctx, job))
	_, err := s.Update(ctx, job.ID, entity.ProcessingPatch(entity.ProgressGeneratingAudio))
	require.NoError(t, err)
	_, err = s.Update(ctx, job.ID, entity.FailedPatch("render exploded"))
	require.NoError(t, err)

	_, err = s.Update(ctx, job.ID, entity.CompletedPatch("/videos/late.mp4"))
	require.ErrorIs(t, err, entity.ErrJobFinalized)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Nil(t, got.VideoURL)
	require.NotNil(t, got.Error)
	assert.Equal(t, "render exploded", *got.Error)
}

func testConcurrentUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("x", time.Now())
	require.NoError(t, s.Create(ctx, job))
	_, err := s.Update(ctx, job.ID, entity.ProcessingPatch(entity.ProgressGeneratingAudio))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, job.ID, entity.ProgressPatch(entity.ProgressRendering))
		}()
	}
	wg.Wait()

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, got.Status)
	assert.Equal(t, "x", got.Text)
}

func testClaimExclusive(t *testing.T, s Store) {
	ctx := context.Background()
	job := newJob("x", time.Now())
	require.NoError(t, s.Create(ctx, job))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, job.ID, entity.ClaimPatch(entity.ProgressGeneratingAudio))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, entity.ErrStatusConflict):
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 5, conflict)
}

func testListStale(t *testing.T, s Store) {
	ctx := context.Background()
	old := newJob("old", time.Now().Add(-time.Hour))
	fresh := newJob("fresh", time.Now())
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, fresh))

	got, err := s.ListStale(ctx, entity.StatusPending, time.Now().Add(-30*time.Minute), 1000)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, j := range got {
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, old.ID)
	assert.NotContains(t, ids, fresh.ID)

	got, err = s.ListStale(ctx, entity.StatusProcessing, time.Now(), 10)
	require.NoError(t, err)
	for _, j := range got {
		assert.NotEqual(t, old.ID, j.ID)
	}
}

func testListStaleLimit(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()
	var ids []string
	for i := 3; i >= 1; i-- {
		job := newJob("stale", now.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, s.Create(ctx, job))
		ids = append(ids, job.ID)
	}
	cutoff := now.Add(-30 * time.Minute)

	got, err := s.ListStale(ctx, entity.StatusPending, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// zero and negative limits mean unlimited on every backend
	for _, limit := range []int{0, -1} {
		got, err = s.ListStale(ctx, entity.StatusPending, cutoff, limit)
		require.NoError(t, err)
		listed := make([]string, 0, len(got))
		for _, j := range got {
			listed = append(listed, j.ID)
		}
		for _, id := range ids {
			assert.Contains(t, listed, id, "limit=%d", limit)
		}
	}
}
