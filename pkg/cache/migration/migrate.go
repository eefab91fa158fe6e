package migration

import (
	"context"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/S-Corkum/resultcache/pkg/observability"
)

// MigrateOptions tunes a migration run.
type MigrateOptions struct {
	// ChunkSize is the number of keys copied per batch.
	ChunkSize int

	// ScanCount is the COUNT hint handed to the source's key scan.
	// Ignored for memory-only sources.
	ScanCount int64

	// Pattern restricts the migration to keys matching a glob pattern.
	// Empty migrates everything.
	Pattern string

	// Cursor resumes a previous partial run from its LastCursor. Zero
	// starts from the beginning.
	Cursor uint64
}

// Migrate copies every entry from source to target, preserving values and
// remaining TTLs. Keys that cannot be read or written are recorded and
// skipped; the copy continues. When a run aborts between chunks, for
// example on context cancellation or a scan failure, the partial result is
// returned alongside the error and its LastCursor can be fed back through
// MigrateOptions.Cursor to resume.
func (m *Manager) Migrate(ctx context.Context, source, target cache.Cache, opts MigrateOptions) (*MigrationResult, error) {
	ctx, span := m.tracer(ctx, "migration.migrate")
	defer span.End()

	if source == nil {
		return nil, &cache.ValidationError{Subject: "source", Reason: "source cache is nil"}
	}
	if target == nil {
		return nil, &cache.ValidationError{Subject: "target", Reason: "target cache is nil"}
	}
	if source == target {
		return nil, &cache.ValidationError{Subject: "target", Reason: "source and target are the same cache"}
	}

	start := time.Now()
	result := &MigrationResult{LastCursor: opts.Cursor}
	logger := m.runLogger(ctx)
	chunks := 0

	err := m.forEachChunk(ctx, source, opts.Pattern, opts.Cursor, opts.ChunkSize, opts.ScanCount, func(keys []string, resume uint64) error {
		for _, key := range keys {
			result.TotalKeys++

			value, ttl, err := m.readEntry(ctx, source, key)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, KeyError{Key: key, Reason: err.Error()})
				continue
			}
			if err := target.Set(ctx, key, value, ttl); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, KeyError{Key: key, Reason: err.Error()})
				continue
			}
			result.Succeeded++
		}

		result.LastCursor = resume
		chunks++
		span.AddEvent("chunk copied", map[string]interface{}{
			string(observability.MigrationChunkAttributeKey): chunks,
			string(observability.CacheKeyCountAttributeKey):  len(keys),
		})
		logger.Debug("migrated chunk", map[string]interface{}{
			"chunk":  chunks,
			"keys":   len(keys),
			"cursor": resume,
		})
		return nil
	})

	result.DurationMS = time.Since(start).Milliseconds()
	result.Completed = err == nil
	if result.TotalKeys == 0 {
		result.SuccessRate = 1.0
	} else {
		result.SuccessRate = float64(result.Succeeded) / float64(result.TotalKeys)
	}

	if err != nil {
		span.RecordError(err)
		logger.Warn("migration aborted", map[string]interface{}{
			"copied":      result.Succeeded,
			"failed":      result.Failed,
			"last_cursor": result.LastCursor,
			"error":       err.Error(),
		})
		return result, err
	}

	span.SetAttribute(string(observability.CacheKeyCountAttributeKey), result.TotalKeys)
	m.metrics.IncrementCounter("cache_migration_runs_total", 1)
	m.metrics.IncrementCounter("cache_migration_keys_total", float64(result.Succeeded))
	logger.Info("migration complete", map[string]interface{}{
		"total_keys":   result.TotalKeys,
		"succeeded":    result.Succeeded,
		"failed":       result.Failed,
		"success_rate": result.SuccessRate,
		"duration_ms":  result.DurationMS,
	})
	return result, nil
}
