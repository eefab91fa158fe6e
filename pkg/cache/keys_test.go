package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilder_Deterministic(t *testing.T) {
	kb := NewKeyBuilder()

	first := kb.Build("summarize", "hello world", map[string]interface{}{
		"max_length": 50,
		"language":   "en",
	})
	second := kb.Build("summarize", "hello world", map[string]interface{}{
		"language":   "en",
		"max_length": 50,
	})

	// Option insertion order must not change the key.
	assert.Equal(t, first, second)
}

func TestKeyBuilder_DiffersAcrossInputs(t *testing.T) {
	kb := NewKeyBuilder()
	base := kb.Build("summarize", "hello", map[string]interface{}{"max_length": 50})

	assert.NotEqual(t, base, kb.Build("sentiment", "hello", map[string]interface{}{"max_length": 50}))
	assert.NotEqual(t, base, kb.Build("summarize", "hello!", map[string]interface{}{"max_length": 50}))
	assert.NotEqual(t, base, kb.Build("summarize", "hello", map[string]interface{}{"max_length": 51}))
	assert.NotEqual(t, base, kb.Build("summarize", "hello", map[string]interface{}{"min_length": 50}))
	assert.NotEqual(t, base, kb.Build("summarize", "hello", nil))
}

func TestKeyBuilder_EmptyInputs(t *testing.T) {
	kb := NewKeyBuilder()

	key := kb.Build("", "", nil)
	assert.NotEmpty(t, key)
	assert.True(t, strings.HasPrefix(key, "op:"))
	assert.Equal(t, key, kb.Build("", "", nil))

	// nil and empty option maps are the same shape
	assert.Equal(t,
		kb.Build("summarize", "x", nil),
		kb.Build("summarize", "x", map[string]interface{}{}),
	)
}

func TestKeyBuilder_BoundsKeySize(t *testing.T) {
	kb := NewKeyBuilder()

	key := kb.Build("summarize", strings.Repeat("a", 1<<20), map[string]interface{}{
		"context": strings.Repeat("b", 1<<16),
	})
	assert.Less(t, len(key), 128)
}

func TestKeyBuilder_SanitizesOperation(t *testing.T) {
	kb := NewKeyBuilder()

	key := kb.Build("text summarize:v2", "hello", nil)
	assert.True(t, strings.HasPrefix(key, "text_summarize-v2:"), "got %s", key)

	// Sanitization may collapse visible prefixes, but the raw operation
	// still feeds the fingerprint, so the keys stay distinct.
	other := kb.Build("text_summarize-v2", "hello", nil)
	assert.True(t, strings.HasPrefix(other, "text_summarize-v2:"))
	assert.NotEqual(t, key, other)
}

func TestKeyBuilder_NestedOptions(t *testing.T) {
	kb := NewKeyBuilder()

	first := kb.Build("extract", "doc", map[string]interface{}{
		"fields": []interface{}{"title", "author"},
		"nested": map[string]interface{}{"depth": 2, "mode": "strict"},
	})
	second := kb.Build("extract", "doc", map[string]interface{}{
		"nested": map[string]interface{}{"mode": "strict", "depth": 2},
		"fields": []interface{}{"title", "author"},
	})
	third := kb.Build("extract", "doc", map[string]interface{}{
		"fields": []interface{}{"author", "title"},
		"nested": map[string]interface{}{"depth": 2, "mode": "strict"},
	})

	assert.Equal(t, first, second)
	// List order is meaningful, map order is not.
	assert.NotEqual(t, first, third)
}
