package migration

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRemoteCache(t *testing.T) *cache.TieredCache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.New(cache.Config{
		RemoteURL:    mr.Addr(),
		EnableL1:     true,
		L1MaxEntries: 1024,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newMemoryOnlyCache(t *testing.T) *cache.TieredCache {
	t.Helper()

	c, err := cache.New(cache.Config{
		EnableL1:     true,
		L1MaxEntries: 1024,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeArtifactLines(t *testing.T, path string, lines [][]byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	for _, line := range lines {
		_, err := gz.Write(append(line, '\n'))
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestMigratePreservesEntries(t *testing.T) {
	ctx := context.Background()
	source := newRemoteCache(t)
	target := newRemoteCache(t)

	const keyCount = 250
	ttl := time.Hour
	for i := 0; i < keyCount; i++ {
		key := fmt.Sprintf("summarize:%04d", i)
		value := map[string]interface{}{
			"summary": fmt.Sprintf("result %d", i),
			"tokens":  float64(i),
		}
		require.NoError(t, source.Set(ctx, key, value, ttl))
	}

	m := NewManager(WithRateLimit(0))
	result, err := m.Migrate(ctx, source, target, MigrateOptions{ChunkSize: 32})
	require.NoError(t, err)

	assert.Equal(t, keyCount, result.TotalKeys)
	assert.Equal(t, keyCount, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.True(t, result.Completed)
	assert.Equal(t, uint64(0), result.LastCursor)

	for i := 0; i < keyCount; i++ {
		key := fmt.Sprintf("summarize:%04d", i)
		got, found := target.Get(ctx, key)
		require.True(t, found, "key %s missing after migration", key)
		assert.Equal(t, map[string]interface{}{
			"summary": fmt.Sprintf("result %d", i),
			"tokens":  float64(i),
		}, got)

		remaining, err := target.Remote().TTL(ctx, key)
		require.NoError(t, err)
		assert.InDelta(t, ttl.Seconds(), remaining.Seconds(), 5)
	}
}

func TestMigrateFromMemoryOnlySource(t *testing.T) {
	ctx := context.Background()
	source := newMemoryOnlyCache(t)
	target := newRemoteCache(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, source.Set(ctx, fmt.Sprintf("translate:%d", i), fmt.Sprintf("hola %d", i), time.Hour))
	}

	m := NewManager(WithRateLimit(0))
	result, err := m.Migrate(ctx, source, target, MigrateOptions{ChunkSize: 3})
	require.NoError(t, err)

	assert.Equal(t, 10, result.TotalKeys)
	assert.Equal(t, 10, result.Succeeded)
	assert.True(t, result.Completed)

	for i := 0; i < 10; i++ {
		got, found := target.Get(ctx, fmt.Sprintf("translate:%d", i))
		require.True(t, found)
		assert.Equal(t, fmt.Sprintf("hola %d", i), got)
	}
}

func TestMigrateEmptySource(t *testing.T) {
	ctx := context.Background()
	source := newRemoteCache(t)
	target := newRemoteCache(t)

	m := NewManager(WithRateLimit(0))
	result, err := m.Migrate(ctx, source, target, MigrateOptions{})
	require.NoError(t, err)

	assert.Zero(t, result.TotalKeys)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.True(t, result.Completed)
}

func TestMigratePatternFilter(t *testing.T) {
	ctx := context.Background()
	source := newRemoteCache(t)
	target := newRemoteCache(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, source.Set(ctx, fmt.Sprintf("summarize:%d", i), "s", time.Hour))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, source.Set(ctx, fmt.Sprintf("translate:%d", i), "t", time.Hour))
	}

	m := NewManager(WithRateLimit(0))
	result, err := m.Migrate(ctx, source, target, MigrateOptions{Pattern: "summarize:*"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalKeys)
	assert.Equal(t, 3, result.Succeeded)

	_, found := target.Get(ctx, "summarize:0")
	assert.True(t, found)
	_, found = target.Get(ctx, "translate:0")
	assert.False(t, found)
}

func TestMigrateCancelledContext(t *testing.T) {
	source := newRemoteCache(t)
	target := newRemoteCache(t)

	require.NoError(t, source.Set(context.Background(), "k", "v", time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager()
	result, err := m.Migrate(ctx, source, target, MigrateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, result)
	assert.False(t, result.Completed)
}

func TestMigrateValidation(t *testing.T) {
	ctx := context.Background()
	c := newMemoryOnlyCache(t)
	m := NewManager(WithRateLimit(0))

	_, err := m.Migrate(ctx, nil, c, MigrateOptions{})
	assert.True(t, cache.IsValidationError(err))

	_, err = m.Migrate(ctx, c, nil, MigrateOptions{})
	assert.True(t, cache.IsValidationError(err))

	_, err = m.Migrate(ctx, c, c, MigrateOptions{})
	assert.True(t, cache.IsValidationError(err))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newRemoteCache(t)

	const keyCount = 25
	ttl := 30 * time.Minute
	for i := 0; i < keyCount; i++ {
		key := fmt.Sprintf("classify:%02d", i)
		require.NoError(t, source.Set(ctx, key, map[string]interface{}{"label": fmt.Sprintf("l-%d", i)}, ttl))
	}

	dest := filepath.Join(t.TempDir(), "cache.backup.gz")
	m := NewManager(WithRateLimit(0))

	manifest, err := m.CreateBackup(ctx, source, dest, BackupOptions{ChunkSize: 8})
	require.NoError(t, err)
	assert.Equal(t, keyCount, manifest.KeyCount)
	assert.Equal(t, FormatVersion, manifest.FormatVersion)
	assert.NotEmpty(t, manifest.Checksum)
	assert.Empty(t, manifest.Errors)
	assert.Greater(t, manifest.TotalBytes, manifest.CompressedBytes)

	_, err = os.Stat(dest + ".manifest.json")
	require.NoError(t, err)

	target := newRemoteCache(t)
	result, err := m.Restore(ctx, target, dest)
	require.NoError(t, err)
	assert.Equal(t, keyCount, result.TotalEntries)
	assert.Equal(t, keyCount, result.Restored)
	assert.Zero(t, result.Skipped)

	for i := 0; i < keyCount; i++ {
		key := fmt.Sprintf("classify:%02d", i)
		got, found := target.Get(ctx, key)
		require.True(t, found, "key %s missing after restore", key)
		assert.Equal(t, map[string]interface{}{"label": fmt.Sprintf("l-%d", i)}, got)

		remaining, err := target.Remote().TTL(ctx, key)
		require.NoError(t, err)
		assert.InDelta(t, ttl.Seconds(), remaining.Seconds(), 5)
	}
}

func TestBackupFallsBackToMemoryTier(t *testing.T) {
	ctx := context.Background()
	c := newRemoteCache(t)

	require.NoError(t, c.Set(ctx, "a", "1", time.Hour))
	require.NoError(t, c.Set(ctx, "b", "2", time.Hour))
	c.Disconnect()

	dest := filepath.Join(t.TempDir(), "memory.backup.gz")
	m := NewManager(WithRateLimit(0))

	manifest, err := m.CreateBackup(ctx, c, dest, BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.KeyCount)
}

func TestBackupRequiresEnumerableTier(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "never.gz")
	m := NewManager(WithRateLimit(0))

	_, err := m.CreateBackup(context.Background(), opaqueCache{}, dest, BackupOptions{})
	require.Error(t, err)
	assert.True(t, cache.IsValidationError(err))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "partial artifact should be removed")
}

func TestRestoreSkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "partial.gz")

	header, err := json.Marshal(backupHeader{FormatVersion: FormatVersion, ID: "test", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	good1, err := json.Marshal(backupEntry{Key: "alpha", Value: "one", TTLSeconds: 60})
	require.NoError(t, err)
	good2, err := json.Marshal(backupEntry{Key: "beta", Value: "two", TTLSeconds: 60})
	require.NoError(t, err)

	writeArtifactLines(t, source, [][]byte{
		header,
		good1,
		[]byte("{not json"),
		[]byte(`{"value":"keyless","ttl_seconds":5}`),
		good2,
	})

	target := newRemoteCache(t)
	m := NewManager(WithRateLimit(0))
	result, err := m.Restore(context.Background(), target, source)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalEntries)
	assert.Equal(t, 2, result.Restored)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Errors, 2)

	got, found := target.Get(context.Background(), "alpha")
	require.True(t, found)
	assert.Equal(t, "one", got)
}

func TestRestoreChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	c := newRemoteCache(t)
	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))

	dest := filepath.Join(t.TempDir(), "tampered.gz")
	m := NewManager(WithRateLimit(0))
	_, err := m.CreateBackup(ctx, c, dest, BackupOptions{})
	require.NoError(t, err)

	f, err := os.OpenFile(dest, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = m.Restore(ctx, c, dest)
	require.Error(t, err)

	var verr *cache.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestRestoreRejectsUnsupportedFormatVersion(t *testing.T) {
	source := filepath.Join(t.TempDir(), "future.gz")
	header, err := json.Marshal(backupHeader{FormatVersion: 99, ID: "future", CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	writeArtifactLines(t, source, [][]byte{header})

	m := NewManager(WithRateLimit(0))
	_, err = m.Restore(context.Background(), newMemoryOnlyCache(t), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format version")
}

func TestRestoreRejectsMalformedHeader(t *testing.T) {
	m := NewManager(WithRateLimit(0))
	target := newMemoryOnlyCache(t)

	for name, firstLine := range map[string]string{
		"missing fields": `{"id":""}`,
		"not json":       `format_version=1`,
	} {
		t.Run(name, func(t *testing.T) {
			source := filepath.Join(t.TempDir(), "bad.gz")
			writeArtifactLines(t, source, [][]byte{[]byte(firstLine)})

			_, err := m.Restore(context.Background(), target, source)
			require.Error(t, err)
			assert.True(t, cache.IsValidationError(err))
		})
	}
}

func TestTTLSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(0), ttlSeconds(0))
	assert.Equal(t, int64(0), ttlSeconds(-time.Second))
	assert.Equal(t, int64(1), ttlSeconds(200*time.Millisecond))
	assert.Equal(t, int64(2), ttlSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(60), ttlSeconds(time.Minute))
}

// opaqueCache satisfies the cache contract without exposing either tier.
type opaqueCache struct{}

func (opaqueCache) Get(ctx context.Context, key string) (interface{}, bool) { return nil, false }
func (opaqueCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}
func (opaqueCache) Delete(ctx context.Context, key string) bool { return false }
func (opaqueCache) Clear(ctx context.Context) error             { return nil }
