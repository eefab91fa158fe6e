package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	m, err := NewMemoryCache(16, 0)
	require.NoError(t, err)

	m.Set("k", "v", 0)
	got, found := m.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", got)

	_, found = m.Get("missing")
	assert.False(t, found)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	m, err := NewMemoryCache(16, 0)
	require.NoError(t, err)

	m.Set("k", "v", 30*time.Millisecond)
	_, found := m.Get("k")
	assert.True(t, found)

	time.Sleep(45 * time.Millisecond)
	_, found = m.Get("k")
	assert.False(t, found)
	// the expired entry was removed by the read
	assert.Zero(t, m.Len())
}

func TestMemoryCache_TTL(t *testing.T) {
	m, err := NewMemoryCache(16, 0)
	require.NoError(t, err)

	m.Set("forever", "v", 0)
	ttl, ok := m.TTL("forever")
	require.True(t, ok)
	assert.Zero(t, ttl)

	m.Set("bounded", "v", time.Hour)
	ttl, ok = m.TTL("bounded")
	require.True(t, ok)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	_, ok = m.TTL("missing")
	assert.False(t, ok)
}

func TestMemoryCache_Entry(t *testing.T) {
	m, err := NewMemoryCache(16, 0)
	require.NoError(t, err)

	m.Set("k", "v", time.Hour)

	entry, ok := m.Entry("k")
	require.True(t, ok)
	assert.Equal(t, "k", entry.Key)
	assert.Equal(t, "v", entry.Value)
	assert.False(t, entry.StoredAt.IsZero())
	assert.Greater(t, entry.TTL, 59*time.Minute)
	assert.False(t, entry.Compressed)
	assert.False(t, entry.Encrypted)

	_, ok = m.Entry("missing")
	assert.False(t, ok)
}

func TestMemoryCache_EntryDoesNotRefreshRecency(t *testing.T) {
	m, err := NewMemoryCache(2, 0)
	require.NoError(t, err)

	m.Set("a", 1, 0)
	m.Set("b", 2, 0)

	_, ok := m.Entry("a")
	require.True(t, ok)

	// "a" was only peeked, so it is still the eviction candidate.
	m.Set("c", 3, 0)

	_, found := m.Get("a")
	assert.False(t, found)
	_, found = m.Get("b")
	assert.True(t, found)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	m, err := NewMemoryCache(3, 0)
	require.NoError(t, err)

	m.Set("a", 1, 0)
	m.Set("b", 2, 0)
	m.Set("c", 3, 0)

	// Touch "a" so "b" becomes the least recently used entry.
	_, _ = m.Get("a")
	m.Set("d", 4, 0)

	_, found := m.Get("b")
	assert.False(t, found)
	for _, key := range []string{"a", "c", "d"} {
		_, found := m.Get(key)
		assert.True(t, found, "key %s should survive eviction", key)
	}
	assert.Equal(t, 3, m.Len())
}

func TestMemoryCache_DeleteClear(t *testing.T) {
	m, err := NewMemoryCache(16, 0)
	require.NoError(t, err)

	m.Set("a", 1, 0)
	m.Set("b", 2, 0)

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	_, found := m.Get("a")
	assert.False(t, found)

	m.Clear()
	assert.Zero(t, m.Len())
	_, found = m.Get("b")
	assert.False(t, found)
}

func TestMemoryCache_JanitorSweepsExpired(t *testing.T) {
	m, err := NewMemoryCache(16, 10*time.Millisecond)
	require.NoError(t, err)
	defer m.Stop()

	m.Set("short", "v", 15*time.Millisecond)
	m.Set("long", "v", time.Hour)

	assert.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 10*time.Millisecond)
	_, found := m.Get("long")
	assert.True(t, found)
}

func TestMemoryCache_StopIdempotent(t *testing.T) {
	m, err := NewMemoryCache(16, time.Minute)
	require.NoError(t, err)

	m.Stop()
	m.Stop()
}

func TestNewMemoryCache_RejectsNonPositiveBound(t *testing.T) {
	_, err := NewMemoryCache(0, 0)
	require.Error(t, err)

	_, err = NewMemoryCache(-5, 0)
	require.Error(t, err)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	m, err := NewMemoryCache(128, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k-%d-%d", n, j%16)
				m.Set(key, j, time.Minute)
				m.Get(key)
				if j%10 == 0 {
					m.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()
}
