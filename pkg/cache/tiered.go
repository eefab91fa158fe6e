package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/resultcache/pkg/observability"
)

// Compile-time contract checks
var (
	_ Cache        = (*TieredCache)(nil)
	_ MemoryBacked = (*TieredCache)(nil)
	_ RemoteBacked = (*TieredCache)(nil)
)

// Option customizes a TieredCache at construction.
type Option func(*TieredCache)

// WithLogger injects the logger used by the cache and its remote client.
func WithLogger(logger observability.Logger) Option {
	return func(t *TieredCache) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics injects the metrics client.
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(t *TieredCache) {
		if metrics != nil {
			t.metrics = metrics
		}
	}
}

// WithTracer injects the span factory. Without it spans are no-ops.
func WithTracer(tracer observability.StartSpanFunc) Option {
	return func(t *TieredCache) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// TieredCache composes the key builder, compression codec, encryption layer,
// L1 tier, and remote client behind the Cache contract. The remote tier is
// an optimization, never a dependency: every remote failure on the read path
// is a miss, every failure on the write path leaves the value in L1, and
// total remote unavailability degrades the cache to memory-only operation
// with unchanged external behavior.
type TieredCache struct {
	cfg Config

	keys       *KeyBuilder
	codec      *CompressionCodec
	encryption *EncryptionLayer
	memory     *MemoryCache
	remote     *RemoteCacheClient

	logger  observability.Logger
	metrics observability.MetricsClient
	tracer  observability.StartSpanFunc

	stats tieredStats
}

// New builds a TieredCache from cfg, filling zero-valued fields with
// defaults and validating the result. When a remote address is configured an
// initial connection attempt runs immediately; failure degrades the cache to
// memory-only unless cfg.FailOnConnectionError is set, in which case the
// error is returned.
func New(cfg Config, opts ...Option) (*TieredCache, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &TieredCache{
		cfg:     cfg,
		keys:    NewKeyBuilder(),
		logger:  observability.NewStandardLogger("cache"),
		metrics: observability.NewMetricsClient(),
		tracer:  observability.NoopStartSpan,
	}
	for _, opt := range opts {
		opt(t)
	}

	codec, err := NewCompressionCodec(cfg.CompressionLevel, cfg.CompressionThresholdBytes)
	if err != nil {
		return nil, NewConfigurationError("compression", err.Error())
	}
	t.codec = codec

	encryption, err := NewEncryptionLayer(cfg.EncryptionKey, t.logger)
	if err != nil {
		return nil, err
	}
	t.encryption = encryption

	if cfg.EnableL1 {
		memory, err := NewMemoryCache(cfg.L1MaxEntries, DefaultJanitorInterval)
		if err != nil {
			return nil, err
		}
		t.memory = memory
	}

	if cfg.RemoteURL != "" {
		t.remote = NewRemoteCacheClient(cfg, t.logger.WithPrefix("cache.remote"), t.metrics)
		if err := t.remote.Connect(context.Background()); err != nil {
			if cfg.FailOnConnectionError {
				if t.memory != nil {
					t.memory.Stop()
				}
				return nil, err
			}
			t.logger.Warn("remote tier unavailable, cache running memory-only", map[string]interface{}{
				"address": cfg.RemoteURL,
				"error":   err.Error(),
			})
		}
	}

	return t, nil
}

// Get returns the cached value for key. L1 is consulted first; on an L1 miss
// the remote tier is read, decoded (decrypt, then decompress, then
// deserialize), and the value promoted into L1. Every remote failure,
// including timeouts and corrupt payloads, reads as a miss: this path never
// returns an error.
func (t *TieredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	ctx, span := t.tracer(ctx, "cache.get", observability.CacheOperationAttributeKey.String("get"))
	defer span.End()

	start := time.Now()

	if t.memory != nil {
		if value, ok := t.memory.Get(key); ok {
			t.stats.recordHit(TierL1)
			span.SetAttribute(string(observability.CacheTierAttributeKey), TierL1)
			t.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
			return value, true
		}
		t.stats.recordL1Miss()
	}

	if t.remote == nil {
		t.stats.recordMiss()
		t.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
		return nil, false
	}

	payload, err := t.remote.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			t.stats.recordRemoteMiss()
		} else {
			t.stats.recordRemoteError()
			t.logger.Debug("remote get failed, treating as miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		t.stats.recordMiss()
		t.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
		return nil, false
	}

	value, err := t.decode(payload)
	if err != nil {
		t.stats.recordDecodeFailure()
		t.stats.recordMiss()
		t.logger.Warn("cached payload could not be decoded, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		t.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
		return nil, false
	}

	t.stats.recordHit(TierRemote)
	span.SetAttribute(string(observability.CacheTierAttributeKey), TierRemote)

	if t.memory != nil {
		t.memory.Set(key, value, t.cfg.L1TTL())
	}

	t.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
	return value, true
}

// Set stores value under key with the given TTL (the configured default when
// ttl <= 0). The value always lands in L1 so a disconnected remote tier does
// not defeat locally-originated writes; the remote write runs through the
// full pipeline (serialize, compress above threshold, encrypt) and its
// failure is logged, never raised. The only possible error is a
// ConfigurationError for values that cannot be serialized.
func (t *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ctx, span := t.tracer(ctx, "cache.set", observability.CacheOperationAttributeKey.String("set"))
	defer span.End()

	start := time.Now()

	if ttl <= 0 {
		ttl = t.cfg.DefaultTTL()
	}

	payload, compressed, err := t.encode(value)
	if err != nil {
		span.RecordError(err)
		t.metrics.RecordCacheOperation("set", false, time.Since(start).Seconds())
		return err
	}
	span.SetAttribute("cache.compressed", compressed)

	if t.memory != nil {
		t.memory.Set(key, value, t.l1TTL(ttl))
	}

	if t.remote != nil {
		if err := t.remote.Set(ctx, key, payload, ttl); err != nil {
			t.stats.recordRemoteError()
			t.logger.Warn("remote set failed, value kept in L1 only", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	t.metrics.RecordCacheOperation("set", true, time.Since(start).Seconds())
	return nil
}

// Delete removes key from both tiers and reports whether either held it.
// Remote failures are logged and read as "not deleted" for that tier.
func (t *TieredCache) Delete(ctx context.Context, key string) bool {
	ctx, span := t.tracer(ctx, "cache.delete", observability.CacheOperationAttributeKey.String("delete"))
	defer span.End()

	start := time.Now()

	deleted := false
	if t.memory != nil && t.memory.Delete(key) {
		deleted = true
	}

	if t.remote != nil {
		remoteDeleted, err := t.remote.Delete(ctx, key)
		switch {
		case err != nil:
			t.stats.recordRemoteError()
			t.logger.Debug("remote delete failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		case remoteDeleted:
			deleted = true
		}
	}

	t.metrics.RecordCacheOperation("delete", deleted, time.Since(start).Seconds())
	return deleted
}

// Clear empties both tiers. The L1 tier is always cleared; a remote failure
// is logged and swallowed so consumers never depend on remote availability.
func (t *TieredCache) Clear(ctx context.Context) error {
	ctx, span := t.tracer(ctx, "cache.clear", observability.CacheOperationAttributeKey.String("clear"))
	defer span.End()

	start := time.Now()

	if t.memory != nil {
		t.memory.Clear()
	}

	if t.remote != nil {
		if err := t.remote.Clear(ctx); err != nil {
			t.stats.recordRemoteError()
			t.logger.Warn("remote clear failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	t.metrics.RecordCacheOperation("clear", true, time.Since(start).Seconds())
	return nil
}

// Entry returns the administrative view of the entry stored under key: the
// value the cache would serve plus how that tier holds it. An L1 entry is a
// decoded copy, so it reports Compressed and Encrypted false; an entry read
// from the remote tier reports the at-rest shape of its payload. StoredAt is
// tracked by the L1 tier only. Entry never promotes and never touches
// recency or the hit counters; it exists for inspection, not for serving
// reads.
func (t *TieredCache) Entry(ctx context.Context, key string) (*CacheEntry, bool) {
	if t.memory != nil {
		if entry, ok := t.memory.Entry(key); ok {
			return entry, true
		}
	}

	if t.remote == nil {
		return nil, false
	}

	payload, err := t.remote.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	decrypted, err := t.encryption.Decrypt(payload)
	if err != nil {
		return nil, false
	}
	compressed := t.codec.IsCompressed(decrypted)
	decompressed, err := t.codec.Decompress(decrypted)
	if err != nil {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal(decompressed, &value); err != nil {
		return nil, false
	}

	ttl, err := t.remote.TTL(ctx, key)
	if err != nil {
		ttl = 0
	}

	return &CacheEntry{
		Key:        key,
		Value:      value,
		TTL:        ttl,
		Compressed: compressed,
		Encrypted:  t.encryption.Enabled(),
	}, true
}

// Connect attempts to establish the remote connection and reports success.
// It never returns an error: on failure the cache keeps running memory-only
// and the attempt is recorded in the connection state. Memory-only caches
// with no remote configured report false.
func (t *TieredCache) Connect(ctx context.Context) bool {
	if t.remote == nil {
		return false
	}
	return t.remote.Connect(ctx) == nil
}

// Disconnect closes the remote connection. Subsequent operations fall back
// to L1-only mode until Connect is called again.
func (t *TieredCache) Disconnect() {
	if t.remote == nil {
		return
	}
	if err := t.remote.Disconnect(); err != nil {
		t.logger.Warn("remote disconnect failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Close releases every resource held by the cache: the remote connection and
// the L1 janitor. The cache must not be used afterwards.
func (t *TieredCache) Close() error {
	t.Disconnect()
	if t.memory != nil {
		t.memory.Stop()
	}
	return nil
}

// BuildKey derives the deterministic cache key for an operation invocation.
func (t *TieredCache) BuildKey(operation, text string, options map[string]interface{}) string {
	return t.keys.Build(operation, text, options)
}

// Memory exposes the L1 tier for administrative tooling; nil when disabled.
func (t *TieredCache) Memory() *MemoryCache {
	return t.memory
}

// Remote exposes the remote client for chunked scans during backup and
// migration; nil when no remote tier is configured.
func (t *TieredCache) Remote() *RemoteCacheClient {
	return t.remote
}

// Config returns a copy of the effective configuration.
func (t *TieredCache) Config() Config {
	return t.cfg
}

// Stats returns a point-in-time snapshot of hit/miss counters, L1 occupancy,
// and remote connection health.
func (t *TieredCache) Stats() Stats {
	s := t.stats.snapshot()

	s.L1Enabled = t.memory != nil
	if t.memory != nil {
		s.L1Entries = t.memory.Len()
		s.L1MaxEntries = t.cfg.L1MaxEntries
	}
	if t.remote != nil {
		s.Connection = t.remote.State()
		s.Degraded = !s.Connection.Connected
	}

	return s
}

// encode runs the write pipeline: serialize, compress above the threshold,
// encrypt. It reports whether compression was applied.
func (t *TieredCache) encode(value interface{}) ([]byte, bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, &ConfigurationError{
			Tag:        "serialization_error",
			Violations: []string{fmt.Sprintf("value is not serializable: %v", err)},
			Err:        err,
		}
	}

	compressed, didCompress, err := t.codec.Compress(data)
	if err != nil {
		return nil, false, err
	}

	encrypted, err := t.encryption.Encrypt(compressed)
	if err != nil {
		return nil, false, err
	}

	return encrypted, didCompress, nil
}

// decode reverses the write pipeline: decrypt, decompress, deserialize.
func (t *TieredCache) decode(payload []byte) (interface{}, error) {
	decrypted, err := t.encryption.Decrypt(payload)
	if err != nil {
		return nil, err
	}

	decompressed, err := t.codec.Decompress(decrypted)
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal(decompressed, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return value, nil
}

// l1TTL bounds an entry's L1 lifetime by the configured L1 TTL so the
// in-process tier cannot serve an entry long after the remote copy expired.
func (t *TieredCache) l1TTL(ttl time.Duration) time.Duration {
	if l1 := t.cfg.L1TTL(); l1 > 0 && (ttl <= 0 || ttl > l1) {
		return l1
	}
	return ttl
}

// tieredStats tracks effectiveness counters under one lock.
type tieredStats struct {
	mu sync.RWMutex

	l1Hits         int64
	l1Misses       int64
	remoteHits     int64
	remoteMisses   int64
	remoteErrors   int64
	decodeFailures int64

	hits   int64
	misses int64
}

func (s *tieredStats) recordHit(tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	switch tier {
	case TierL1:
		s.l1Hits++
	case TierRemote:
		s.remoteHits++
	}
}

func (s *tieredStats) recordMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
}

func (s *tieredStats) recordL1Miss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l1Misses++
}

func (s *tieredStats) recordRemoteMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteMisses++
}

func (s *tieredStats) recordRemoteError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteErrors++
}

func (s *tieredStats) recordDecodeFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeFailures++
}

func (s *tieredStats) snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		L1Hits:         s.l1Hits,
		L1Misses:       s.l1Misses,
		RemoteHits:     s.remoteHits,
		RemoteMisses:   s.remoteMisses,
		RemoteErrors:   s.remoteErrors,
		DecodeFailures: s.decodeFailures,
		Hits:           s.hits,
		Misses:         s.misses,
		Timestamp:      time.Now(),
	}

	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}

	return stats
}
