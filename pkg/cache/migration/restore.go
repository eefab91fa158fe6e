package migration

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/S-Corkum/resultcache/pkg/security"
)

// maxBackupLineBytes bounds a single artifact line. Values larger than this
// were never cacheable in the first place.
const maxBackupLineBytes = 64 * 1024 * 1024

// Restore reads a backup artifact and writes its entries back into the
// cache with their recorded TTLs. Entries recorded without an expiry are
// restored with the cache's default TTL. Corrupt or unwritable entries are
// skipped and reported in the result; a corrupt header, a checksum
// mismatch against the manifest sidecar, or a truncated stream aborts the
// whole run.
func (m *Manager) Restore(ctx context.Context, c cache.Cache, source string) (*RestoreResult, error) {
	ctx, span := m.tracer(ctx, "migration.restore")
	defer span.End()

	if c == nil {
		return nil, &cache.ValidationError{Subject: "cache", Reason: "cache is nil"}
	}
	if source == "" {
		return nil, &cache.ValidationError{Subject: "source", Reason: "source path is empty"}
	}

	if err := m.verifyArtifact(source); err != nil {
		span.RecordError(err)
		return nil, err
	}

	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, &cache.ValidationError{
			Subject: source,
			Reason:  "not a gzip backup artifact",
			Err:     err,
		}
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBackupLineBytes)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, &cache.ValidationError{Subject: source, Reason: "artifact truncated or corrupt", Err: err}
		}
		return nil, &cache.ValidationError{Subject: source, Reason: "artifact is empty"}
	}
	header, err := validateHeader(scanner.Bytes())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	result := &RestoreResult{}

	lineNo := 1
	for scanner.Scan() {
		lineNo++
		result.TotalEntries++

		if result.TotalEntries%DefaultChunkSize == 0 {
			if err := m.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var entry backupEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, KeyError{
				Key:    fmt.Sprintf("line %d", lineNo),
				Reason: fmt.Sprintf("corrupt entry: %v", err),
			})
			continue
		}
		if entry.Key == "" {
			result.Skipped++
			result.Errors = append(result.Errors, KeyError{
				Key:    fmt.Sprintf("line %d", lineNo),
				Reason: "corrupt entry: missing key",
			})
			continue
		}

		ttl := time.Duration(entry.TTLSeconds) * time.Second
		if err := c.Set(ctx, entry.Key, entry.Value, ttl); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, KeyError{Key: entry.Key, Reason: err.Error()})
			continue
		}
		result.Restored++
	}
	if err := scanner.Err(); err != nil {
		verr := &cache.ValidationError{Subject: source, Reason: "artifact truncated or corrupt", Err: err}
		span.RecordError(verr)
		return nil, verr
	}

	result.DurationMS = time.Since(start).Milliseconds()

	m.metrics.IncrementCounter("cache_restore_runs_total", 1)
	m.metrics.IncrementCounter("cache_restore_keys_total", float64(result.Restored))
	m.runLogger(ctx).Info("restore complete", map[string]interface{}{
		"source":      source,
		"backup_id":   header.ID,
		"restored":    result.Restored,
		"skipped":     result.Skipped,
		"duration_ms": result.DurationMS,
	})
	return result, nil
}

// verifyArtifact checks the artifact against its manifest sidecar checksum
// when one is present. A missing sidecar skips verification.
func (m *Manager) verifyArtifact(source string) error {
	manifest, err := readManifestSidecar(source)
	if err != nil {
		return err
	}
	if manifest == nil || manifest.Checksum == "" {
		m.logger.Debug("no manifest sidecar found, skipping checksum verification", map[string]interface{}{
			"source": source,
		})
		return nil
	}

	if err := security.VerifyFileChecksum(source, manifest.Checksum); err != nil {
		return &cache.ValidationError{
			Subject: source,
			Reason:  "checksum mismatch, artifact corrupt or tampered",
			Err:     err,
		}
	}
	return nil
}
