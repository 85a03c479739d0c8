package openqalocal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsEmptyCache(t *testing.T) {
	cache, _ := newTestCache(t, WithMaxSize(1024))

	stats, err := cache.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.TotalSize)
	assert.Equal(t, int64(1024), stats.MaxSize)
}

func TestStatsCountsSidecarsAndLogs(t *testing.T) {
	cache, fs := newTestCache(t)

	require.NoError(t, cache.WriteJobDetails("1", map[string]any{"id": "1"}))
	require.NoError(t, cache.WriteLogList("1", []string{"autoinst-log.txt"}))
	require.NoError(t, cache.WriteJobDetails("2", map[string]any{"id": "2"}))

	logPath := filepath.Join(cache.logDir("1"), "autoinst-log.txt")
	require.NoError(t, afero.WriteFile(fs, logPath, []byte("0123456789"), 0o644))

	stats, err := cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.GreaterOrEqual(t, stats.TotalSize, int64(10), "log file bytes must be counted")
}

func TestStatsEntryAges(t *testing.T) {
	now := time.Now()
	cache, fs := newTestCache(t, WithNowFunc(func() time.Time { return now }))

	require.NoError(t, cache.WriteJobDetails("1", map[string]any{"id": "1"}))
	require.NoError(t, cache.WriteJobDetails("2", map[string]any{"id": "2"}))

	old := now.Add(-2 * time.Hour)
	recent := now.Add(-5 * time.Minute)
	require.NoError(t, fs.Chtimes(cache.sidecarPath("1"), old, old))
	require.NoError(t, fs.Chtimes(cache.sidecarPath("2"), recent, recent))

	stats, err := cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, stats.OldestEntry)
	assert.Equal(t, 5*time.Minute, stats.NewestEntry)
}

func TestPruneRemovesOldEntries(t *testing.T) {
	now := time.Now()
	cache, fs := newTestCache(t, WithNowFunc(func() time.Time { return now }))

	require.NoError(t, cache.WriteLogList("1", []string{"autoinst-log.txt"}))
	require.NoError(t, cache.WriteJobDetails("2", map[string]any{"id": "2"}))

	logPath := filepath.Join(cache.logDir("1"), "autoinst-log.txt")
	require.NoError(t, afero.WriteFile(fs, logPath, []byte("test output"), 0o644))

	old := now.Add(-48 * time.Hour)
	require.NoError(t, fs.Chtimes(cache.sidecarPath("1"), old, old))

	removed, err := cache.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Sidecar and log files of the pruned job are gone.
	for _, path := range []string{cache.sidecarPath("1"), logPath} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.False(t, exists, "%s should have been pruned", path)
	}

	// The recent job survives.
	_, err = cache.JobDetails("2")
	assert.NoError(t, err)
}
