// Package cache implements a two-tier operation-result cache: a bounded
// in-process L1 tier in front of a Redis-compatible remote tier, with
// transparent compression and at-rest encryption of remote payloads.
//
// The cache is an optimization, never a dependency: remote-tier failures
// degrade it to a memory-only cache and are never surfaced to consumers.
package cache

import (
	"context"
	"time"
)

// Tier labels used in logs and metrics
const (
	TierL1     = "l1"
	TierRemote = "remote"
)

// Cache is the consumer contract. Callers depend only on these operations
// and never see compression, encryption, or connection internals. A miss is
// an expected outcome, reported by the found flag, never by an error.
type Cache interface {
	// Get returns the cached value for key and whether it was present.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores value under key with the given TTL. A zero ttl applies the
	// configured default. The only possible error is a ConfigurationError
	// for values that cannot be serialized.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key from all tiers and reports whether any tier held it.
	Delete(ctx context.Context, key string) bool

	// Clear removes every entry owned by this cache from all tiers.
	// Remote-tier failures are logged and swallowed.
	Clear(ctx context.Context) error
}

// MemoryBacked is satisfied by caches that expose their in-process tier.
// Administrative tooling dispatches on this capability explicitly instead of
// probing attributes.
type MemoryBacked interface {
	Memory() *MemoryCache
}

// RemoteBacked is satisfied by caches that expose their remote-tier client,
// enabling chunked key scans for backup and migration.
type RemoteBacked interface {
	Remote() *RemoteCacheClient
}

// CacheEntry is the administrative view of one stored entry
type CacheEntry struct {
	Key        string        `json:"key"`
	Value      interface{}   `json:"value"`
	TTL        time.Duration `json:"ttl"`
	Compressed bool          `json:"compressed"`
	Encrypted  bool          `json:"encrypted"`
	StoredAt   time.Time     `json:"stored_at"`
}

// ConnectionState records the remote connection lifecycle. It is owned
// exclusively by the RemoteCacheClient and drives reconnect throttling.
type ConnectionState struct {
	Connected     bool      `json:"connected"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastResult    bool      `json:"last_result"`
}

// Stats is a point-in-time snapshot of cache effectiveness and health
type Stats struct {
	L1Hits       int64 `json:"l1_hits"`
	L1Misses     int64 `json:"l1_misses"`
	RemoteHits   int64 `json:"remote_hits"`
	RemoteMisses int64 `json:"remote_misses"`

	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`

	L1Entries    int  `json:"l1_entries"`
	L1MaxEntries int  `json:"l1_max_entries"`
	L1Enabled    bool `json:"l1_enabled"`

	RemoteErrors   int64 `json:"remote_errors"`
	DecodeFailures int64 `json:"decode_failures"`

	Degraded   bool            `json:"degraded"`
	Connection ConnectionState `json:"connection"`

	Timestamp time.Time `json:"timestamp"`
}
