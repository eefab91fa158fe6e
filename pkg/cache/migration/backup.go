package migration

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/S-Corkum/resultcache/pkg/observability"
	"github.com/S-Corkum/resultcache/pkg/security"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultChunkSize is how many keys are processed per batch when the
	// caller does not say otherwise.
	DefaultChunkSize = 100

	// DefaultChunksPerSecond paces chunk processing so a backup or
	// migration never monopolizes the store it is reading from.
	DefaultChunksPerSecond = 50
)

var errKeyGone = errors.New("key no longer present")

// Manager runs backups, restores, and migrations. All operations are
// chunked, rate limited, and cancellable between chunks via the context.
type Manager struct {
	logger  observability.Logger
	metrics observability.MetricsClient
	tracer  observability.StartSpanFunc
	limiter *rate.Limiter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for progress and failure reporting.
func WithLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics client.
func WithMetrics(metrics observability.MetricsClient) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithTracer sets the span factory used to trace runs.
func WithTracer(tracer observability.StartSpanFunc) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithRateLimit overrides the chunk pacing. Zero or negative removes the
// limit entirely.
func WithRateLimit(chunksPerSecond float64) ManagerOption {
	return func(m *Manager) {
		if chunksPerSecond <= 0 {
			m.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		m.limiter = rate.NewLimiter(rate.Limit(chunksPerSecond), 1)
	}
}

// NewManager creates a Manager with standard logging, metrics, and pacing.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:  observability.NewStandardLogger("migration"),
		metrics: observability.NewMetricsClient(),
		tracer:  observability.NoopStartSpan,
		limiter: rate.NewLimiter(rate.Limit(DefaultChunksPerSecond), 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// runLogger binds the correlation metadata carried by the context, if any,
// to the manager's logger so the lines from one run can be tied back to the
// invocation that produced them.
func (m *Manager) runLogger(ctx context.Context) observability.Logger {
	return observability.ContextLogger(ctx, m.logger)
}

// BackupOptions tunes a backup run.
type BackupOptions struct {
	// ChunkSize is the number of keys processed per batch.
	ChunkSize int

	// ScanCount is the COUNT hint handed to the remote store's key scan.
	// Ignored for memory-only caches.
	ScanCount int64

	// Pattern restricts the backup to keys matching a glob pattern.
	// Empty backs up everything.
	Pattern string
}

// CreateBackup enumerates the cache in chunks and writes every entry, with
// its remaining TTL, to a gzip-compressed JSON-lines artifact at
// destination. A manifest sidecar with the artifact checksum is written
// next to it. Individual keys that cannot be read are recorded in the
// manifest and skipped; only artifact-level failures abort the run, and an
// aborted run removes the partial artifact.
func (m *Manager) CreateBackup(ctx context.Context, c cache.Cache, destination string, opts BackupOptions) (*BackupManifest, error) {
	ctx, span := m.tracer(ctx, "migration.backup")
	defer span.End()

	if c == nil {
		return nil, &cache.ValidationError{Subject: "cache", Reason: "cache is nil"}
	}
	if destination == "" {
		return nil, &cache.ValidationError{Subject: "destination", Reason: "destination path is empty"}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	if dir := filepath.Dir(destination); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	file, err := os.Create(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	gz := gzip.NewWriter(file)

	manifest := &BackupManifest{
		ID:            uuid.New().String(),
		FormatVersion: FormatVersion,
		Pattern:       opts.Pattern,
		StartedAt:     time.Now().UTC(),
	}

	writeErr := m.writeArtifact(ctx, c, gz, manifest, opts)
	if cerr := gz.Close(); writeErr == nil && cerr != nil {
		writeErr = fmt.Errorf("failed to finalize backup artifact: %w", cerr)
	}
	if cerr := file.Close(); writeErr == nil && cerr != nil {
		writeErr = fmt.Errorf("failed to close backup file: %w", cerr)
	}
	if writeErr != nil {
		_ = os.Remove(destination)
		span.RecordError(writeErr)
		return nil, writeErr
	}

	info, err := os.Stat(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}
	manifest.CompressedBytes = info.Size()

	checksum, err := security.ComputeFileChecksum(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum backup file: %w", err)
	}
	manifest.Checksum = checksum
	manifest.CompletedAt = time.Now().UTC()

	if err := writeManifestSidecar(destination, manifest); err != nil {
		return nil, err
	}

	span.SetAttribute(string(observability.CacheKeyCountAttributeKey), manifest.KeyCount)
	m.metrics.IncrementCounter("cache_backup_runs_total", 1)
	m.metrics.IncrementCounter("cache_backup_keys_total", float64(manifest.KeyCount))
	m.runLogger(ctx).Info("backup complete", map[string]interface{}{
		"destination":      destination,
		"keys":             manifest.KeyCount,
		"total_bytes":      manifest.TotalBytes,
		"compressed_bytes": manifest.CompressedBytes,
		"failed_keys":      len(manifest.Errors),
		"duration_ms":      manifest.CompletedAt.Sub(manifest.StartedAt).Milliseconds(),
	})
	return manifest, nil
}

// writeArtifact streams the header and one JSON line per entry into w,
// updating the manifest counters as it goes.
func (m *Manager) writeArtifact(ctx context.Context, c cache.Cache, w io.Writer, manifest *BackupManifest, opts BackupOptions) error {
	header := backupHeader{
		FormatVersion: FormatVersion,
		ID:            manifest.ID,
		CreatedAt:     manifest.StartedAt,
		Pattern:       opts.Pattern,
	}
	line, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode backup header: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write backup header: %w", err)
	}
	manifest.TotalBytes += int64(len(line) + 1)

	return m.forEachChunk(ctx, c, opts.Pattern, 0, opts.ChunkSize, opts.ScanCount, func(keys []string, _ uint64) error {
		for _, key := range keys {
			value, ttl, err := m.readEntry(ctx, c, key)
			if err != nil {
				manifest.Errors = append(manifest.Errors, KeyError{Key: key, Reason: err.Error()})
				continue
			}
			entry := backupEntry{Key: key, Value: value, TTLSeconds: ttlSeconds(ttl)}
			line, err := json.Marshal(entry)
			if err != nil {
				manifest.Errors = append(manifest.Errors, KeyError{Key: key, Reason: fmt.Sprintf("value is not serializable: %v", err)})
				continue
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("failed to write backup entry: %w", err)
			}
			manifest.KeyCount++
			manifest.TotalBytes += int64(len(line) + 1)
		}
		return nil
	})
}

// forEachChunk enumerates the cache's keys in batches of at most chunkSize
// and hands each batch to fn together with a resume cursor. The resume
// cursor, once fn has returned nil, is safe to feed back into a later
// enumeration to redo only the work that follows it; zero means the sweep
// finished. A connected remote tier is enumerated with SCAN; otherwise the
// memory tier is snapshotted. Pacing and context cancellation apply between
// chunks, never within one.
func (m *Manager) forEachChunk(ctx context.Context, c cache.Cache, pattern string, startCursor uint64, chunkSize int, scanCount int64, fn func(keys []string, resume uint64) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if rb, ok := c.(cache.RemoteBacked); ok && rb.Remote() != nil && rb.Remote().Connected() {
		return m.scanRemoteChunks(ctx, rb.Remote(), pattern, startCursor, chunkSize, scanCount, fn)
	}
	if mb, ok := c.(cache.MemoryBacked); ok && mb.Memory() != nil {
		return m.snapshotMemoryChunks(ctx, mb.Memory(), pattern, startCursor, chunkSize, fn)
	}
	return &cache.ValidationError{
		Subject: "cache",
		Reason:  "no enumerable tier: remote is disconnected and no memory tier is configured",
	}
}

func (m *Manager) scanRemoteChunks(ctx context.Context, remote *cache.RemoteCacheClient, pattern string, startCursor uint64, chunkSize int, scanCount int64, fn func(keys []string, resume uint64) error) error {
	cursor := startCursor
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		keys, next, err := remote.Scan(ctx, cursor, pattern, scanCount)
		if err != nil {
			return fmt.Errorf("key scan failed at cursor %d: %w", cursor, err)
		}
		if len(keys) == 0 {
			if err := fn(nil, next); err != nil {
				return err
			}
		}
		for start := 0; start < len(keys); start += chunkSize {
			end := start + chunkSize
			if end > len(keys) {
				end = len(keys)
			}
			// Resuming mid-iteration replays the whole iteration; SCAN
			// cannot hand out finer-grained positions.
			resume := cursor
			if end == len(keys) {
				resume = next
			}
			if err := fn(keys[start:end], resume); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (m *Manager) snapshotMemoryChunks(ctx context.Context, memory *cache.MemoryCache, pattern string, startCursor uint64, chunkSize int, fn func(keys []string, resume uint64) error) error {
	keys := memory.Keys()
	sort.Strings(keys)
	matched := keys[:0]
	for _, key := range keys {
		if matchesPattern(pattern, key) {
			matched = append(matched, key)
		}
	}

	if int(startCursor) >= len(matched) {
		return fn(nil, 0)
	}
	for offset := int(startCursor); offset < len(matched); offset += chunkSize {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		end := offset + chunkSize
		if end > len(matched) {
			end = len(matched)
		}
		resume := uint64(end)
		if end == len(matched) {
			resume = 0
		}
		if err := fn(matched[offset:end], resume); err != nil {
			return err
		}
	}
	return nil
}

// matchesPattern applies a glob pattern to a logical key. Empty and "*"
// match everything.
func matchesPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// readEntry fetches one entry's value and remaining TTL through the cache
// contract. Zero TTL means no expiry.
func (m *Manager) readEntry(ctx context.Context, c cache.Cache, key string) (interface{}, time.Duration, error) {
	value, found := c.Get(ctx, key)
	if !found {
		return nil, 0, errKeyGone
	}
	ttl, err := m.entryTTL(ctx, c, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read remaining ttl: %w", err)
	}
	return value, ttl, nil
}

func (m *Manager) entryTTL(ctx context.Context, c cache.Cache, key string) (time.Duration, error) {
	if rb, ok := c.(cache.RemoteBacked); ok && rb.Remote() != nil && rb.Remote().Connected() {
		ttl, err := rb.Remote().TTL(ctx, key)
		if err == nil {
			return ttl, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return 0, err
		}
	}
	if mb, ok := c.(cache.MemoryBacked); ok && mb.Memory() != nil {
		if ttl, ok := mb.Memory().TTL(key); ok {
			return ttl, nil
		}
	}
	return 0, nil
}

// ttlSeconds rounds a remaining lifetime up to whole seconds so an entry
// about to expire is preserved rather than turned immortal by truncation
// to zero.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second > 0 {
		secs++
	}
	return secs
}
