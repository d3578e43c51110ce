package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweep_AgeBoundaryIsExclusive(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	exact := filepath.Join(dir, "exact.mp3")
	older := filepath.Join(dir, "older.mp3")
	fresh := filepath.Join(dir, "fresh.mp3")
	touch(t, exact, now.Add(-time.Hour))
	touch(t, older, now.Add(-time.Hour-time.Second))
	touch(t, fresh, now.Add(-time.Minute))

	s := NewSweeper([]string{dir}, time.Hour, nil)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.FileExists(t, exact)
	assert.FileExists(t, fresh)
	assert.NoFileExists(t, older)
}

func TestSweep_MissingDirAndSubdirsIgnored(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.Chtimes(sub, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	touch(t, filepath.Join(dir, "old.mp4"), now.Add(-2*time.Hour))

	s := NewSweeper([]string{filepath.Join(dir, "does-not-exist"), dir}, time.Hour, nil)
	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.DirExists(t, sub)
}

func TestSweep_ConcurrentCallsAreSafe(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-3 * time.Hour)
	for _, name := range []string{"a", "b", "c", "d"} {
		touch(t, filepath.Join(dir, name), old)
	}

	s := NewSweeper([]string{dir}, time.Hour, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sweep(context.Background())
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewSweeper_DefaultMaxAge(t *testing.T) {
	s := NewSweeper(nil, 0, nil)
	assert.Equal(t, DefaultMaxAge, s.maxAge)
	assert.Equal(t, 0, s.Sweep(context.Background()))
}
