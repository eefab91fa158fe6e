package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultJanitorInterval is how often the background sweep removes expired
// L1 entries that no read has touched.
const DefaultJanitorInterval = time.Minute

// memoryEntry is what the L1 tier stores: the live value plus expiry
// bookkeeping. A zero expiresAt means the entry never expires.
type memoryEntry struct {
	value     interface{}
	storedAt  time.Time
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the in-process tier: a bounded cache with per-entry TTL.
// When the entry bound is reached the least-recently-used entry is evicted
// to admit a new one. Entries past their TTL read as misses and are removed
// lazily on access and by a background janitor. All operations are safe for
// concurrent use.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]

	janitorStop chan struct{}
	stopOnce    sync.Once
}

// NewMemoryCache creates an L1 cache bounded to maxEntries. A positive
// janitorInterval starts a background sweep; zero disables it and expired
// entries are only removed when read.
func NewMemoryCache(maxEntries int, janitorInterval time.Duration) (*MemoryCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("l1 max entries must be positive, got %d", maxEntries)
	}

	entries, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	m := &MemoryCache{
		entries:     entries,
		janitorStop: make(chan struct{}),
	}

	if janitorInterval > 0 {
		go m.janitor(janitorInterval)
	}

	return m, nil
}

// Get returns the live value for key, or found=false on miss or expiry.
func (m *MemoryCache) Get(key string) (interface{}, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}

	if entry.expired(time.Now()) {
		m.entries.Remove(key)
		return nil, false
	}

	return entry.value, true
}

// Set stores value under key. A positive ttl bounds the entry lifetime;
// ttl <= 0 stores it without expiry.
func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	entry := memoryEntry{value: value, storedAt: time.Now()}
	if ttl > 0 {
		entry.expiresAt = entry.storedAt.Add(ttl)
	}
	m.entries.Add(key, entry)
}

// TTL returns the remaining lifetime of key. A zero duration with ok=true
// means the entry never expires; ok=false means the key is absent or
// already expired.
func (m *MemoryCache) TTL(key string) (time.Duration, bool) {
	entry, ok := m.entries.Peek(key)
	if !ok {
		return 0, false
	}

	if entry.expiresAt.IsZero() {
		return 0, true
	}

	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		m.entries.Remove(key)
		return 0, false
	}
	return remaining, true
}

// Entry returns the administrative view of key's entry without refreshing
// its recency. This tier holds decoded values, so Compressed and Encrypted
// are always false here. A zero TTL means the entry never expires.
func (m *MemoryCache) Entry(key string) (*CacheEntry, bool) {
	entry, ok := m.entries.Peek(key)
	if !ok || entry.expired(time.Now()) {
		return nil, false
	}

	var ttl time.Duration
	if !entry.expiresAt.IsZero() {
		ttl = time.Until(entry.expiresAt)
	}
	return &CacheEntry{
		Key:      key,
		Value:    entry.value,
		TTL:      ttl,
		StoredAt: entry.storedAt,
	}, true
}

// Delete removes key and reports whether it was present.
func (m *MemoryCache) Delete(key string) bool {
	return m.entries.Remove(key)
}

// Clear removes every entry.
func (m *MemoryCache) Clear() {
	m.entries.Purge()
}

// Len returns the current entry count, including not-yet-swept expired ones.
func (m *MemoryCache) Len() int {
	return m.entries.Len()
}

// Keys returns the keys currently held, oldest first.
func (m *MemoryCache) Keys() []string {
	return m.entries.Keys()
}

// Stop terminates the background janitor. Safe to call more than once.
func (m *MemoryCache) Stop() {
	m.stopOnce.Do(func() {
		close(m.janitorStop)
	})
}

func (m *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.janitorStop:
			return
		}
	}
}

func (m *MemoryCache) removeExpired() {
	now := time.Now()
	for _, key := range m.entries.Keys() {
		if entry, ok := m.entries.Peek(key); ok && entry.expired(now) {
			m.entries.Remove(key)
		}
	}
}
