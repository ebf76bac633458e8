// ABOUTME: Tests for the SQLite request audit log using temp-dir databases

package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLog(t *testing.T) *AuditLog {
	t.Helper()
	log, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func entry(email string, status int, cacheHit bool) *AuditEntry {
	return &AuditEntry{
		ID:            uuid.New().String(),
		Mode:          "funnel",
		Email:         email,
		Keyword:       "yoga",
		Status:        status,
		CacheHit:      cacheHit,
		Generated:     !cacheHit,
		WebhookStatus: "skipped",
		CreatedAt:     time.Now(),
	}
}

func TestAuditLog_RecordAndRecent(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	first := entry("a@x.com", 200, false)
	first.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, log.Record(ctx, first))
	require.NoError(t, log.Record(ctx, entry("a@x.com", 202, true)))
	require.NoError(t, log.Record(ctx, entry("b@x.com", 400, false)))

	entries, err := log.Recent(ctx, "a@x.com", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 202, entries[0].Status, "most recent first")
	assert.True(t, entries[0].CacheHit)
	assert.Equal(t, "yoga", entries[0].Keyword)
}

func TestAuditLog_RecentHonorsLimit(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := entry("a@x.com", 200, false)
		e.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, log.Record(ctx, e))
	}

	entries, err := log.Recent(ctx, "a@x.com", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAuditLog_Stats(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, entry("a@x.com", 200, false)))
	require.NoError(t, log.Record(ctx, entry("a@x.com", 202, true)))
	require.NoError(t, log.Record(ctx, entry("b@x.com", 403, false)))

	stats, err := log.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RequestCount)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.Generations)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestAuditLog_StatsWindowExcludesOldEntries(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	old := entry("a@x.com", 200, false)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, log.Record(ctx, old))
	require.NoError(t, log.Record(ctx, entry("a@x.com", 200, false)))

	stats, err := log.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
}

func TestNewAuditLog_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	log, err := NewAuditLog(path, testLogger())
	require.NoError(t, err)
	assert.NoError(t, log.Close())
}
