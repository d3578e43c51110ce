package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"video-narrator/internal/repository/repotest"
	"video-narrator/internal/repository/sqlite"
)

func TestJobRepository_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repotest.Store {
		repo, err := sqlite.Open(filepath.Join(t.TempDir(), "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestOpen_ReappliesNothingOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	first, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	require.Error(t, err)
}
