// Package migration provides operator entry points for moving cache data
// between stores and implementations: chunked backups to a compressed
// artifact, restores from one, and live cache-to-cache migration. All three
// work against the cache contract and its capability interfaces, never
// against store internals, so any two caches that speak the contract can
// exchange data.
package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/S-Corkum/resultcache/pkg/cache"
	"github.com/xeipuuv/gojsonschema"
)

// FormatVersion is the backup artifact format written by this package.
// Restore refuses artifacts with a version it does not understand.
const FormatVersion = 1

// backupHeader is the first JSON line of every backup artifact.
type backupHeader struct {
	FormatVersion int       `json:"format_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Pattern       string    `json:"pattern,omitempty"`
}

// backupEntry is one JSON line per cached entry. TTLSeconds is the remaining
// lifetime at backup time; zero means no expiry.
type backupEntry struct {
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	TTLSeconds int64       `json:"ttl_seconds"`
}

// headerSchemaJSON validates the artifact header shape before any entry is
// trusted.
const headerSchemaJSON = `{
	"type": "object",
	"required": ["format_version", "id", "created_at"],
	"properties": {
		"format_version": {"type": "integer", "minimum": 1},
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string"},
		"pattern": {"type": "string"}
	}
}`

// validateHeader checks a raw header line against the schema and the
// supported format version. Failures are ValidationErrors: they abort the
// restore, never the process.
func validateHeader(line []byte) (*backupHeader, error) {
	schemaLoader := gojsonschema.NewStringLoader(headerSchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(line)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, &cache.ValidationError{
			Subject: "backup header",
			Reason:  "not a valid artifact header",
			Err:     err,
		}
	}
	if !result.Valid() {
		var errMsgs []string
		for _, schemaErr := range result.Errors() {
			errMsgs = append(errMsgs, schemaErr.String())
		}
		return nil, &cache.ValidationError{
			Subject: "backup header",
			Reason:  strings.Join(errMsgs, "; "),
		}
	}

	var header backupHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, &cache.ValidationError{
			Subject: "backup header",
			Reason:  "malformed header JSON",
			Err:     err,
		}
	}

	if header.FormatVersion != FormatVersion {
		return nil, &cache.ValidationError{
			Subject: "backup header",
			Reason:  fmt.Sprintf("unsupported format version %d (supported: %d)", header.FormatVersion, FormatVersion),
		}
	}

	return &header, nil
}

// BackupManifest describes a finished backup artifact.
type BackupManifest struct {
	ID              string     `json:"id"`
	FormatVersion   int        `json:"format_version"`
	KeyCount        int        `json:"key_count"`
	TotalBytes      int64      `json:"total_bytes"`
	CompressedBytes int64      `json:"compressed_bytes"`
	Checksum        string     `json:"checksum"`
	Pattern         string     `json:"pattern,omitempty"`
	Errors          []KeyError `json:"errors,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at"`
}

// KeyError records one key that failed during a backup, restore, or
// migration without aborting it.
type KeyError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RestoreResult summarizes a restore run.
type RestoreResult struct {
	TotalEntries int        `json:"total_entries"`
	Restored     int        `json:"restored"`
	Skipped      int        `json:"skipped"`
	Errors       []KeyError `json:"errors,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
}

// MigrationResult summarizes a cache-to-cache migration. LastCursor is the
// last completed chunk boundary; a caller resuming after partial failure
// passes it back via MigrateOptions.Cursor and retries only what follows,
// plus the keys listed in Errors.
type MigrationResult struct {
	TotalKeys   int        `json:"total_keys"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	SuccessRate float64    `json:"success_rate"`
	DurationMS  int64      `json:"duration_ms"`
	Errors      []KeyError `json:"errors,omitempty"`
	LastCursor  uint64     `json:"last_cursor"`
	Completed   bool       `json:"completed"`
}

// manifestPath returns the sidecar path for a backup destination.
func manifestPath(destination string) string {
	return destination + ".manifest.json"
}

// writeManifestSidecar stores the manifest next to the artifact so restores
// can verify the checksum without any other source of truth.
func writeManifestSidecar(destination string, manifest *BackupManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(destination), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest sidecar: %w", err)
	}
	return nil
}

// readManifestSidecar loads the sidecar if present. A missing sidecar is not
// an error; restores then skip checksum verification.
func readManifestSidecar(destination string) (*BackupManifest, error) {
	data, err := os.ReadFile(manifestPath(destination))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest sidecar: %w", err)
	}

	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &cache.ValidationError{
			Subject: manifestPath(destination),
			Reason:  "malformed manifest sidecar",
			Err:     err,
		}
	}
	return &manifest, nil
}
