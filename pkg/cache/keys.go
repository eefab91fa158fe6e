package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyBuilder derives stable cache keys from an operation name, the input
// text, and the option map the operation was invoked with. Building a key
// performs no I/O and uses no randomness: identical inputs always yield the
// identical key, and any difference in operation, text, or options yields a
// different key.
type KeyBuilder struct{}

// NewKeyBuilder creates a KeyBuilder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Build returns the cache key for (operation, text, options). The text and
// options are fingerprinted with SHA-256 rather than embedded, so key size is
// bounded regardless of input size. The operation, text fingerprint, and
// options fingerprint are combined as NUL-delimited segments before the final
// hash; empty text or empty options therefore cannot collide with a
// differently-shaped key that happens to look similar.
func (b *KeyBuilder) Build(operation, text string, options map[string]interface{}) string {
	textSum := sha256.Sum256([]byte(text))
	optsSum := sha256.Sum256(canonicalOptions(options))

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(textSum[:])
	h.Write([]byte{0})
	h.Write(optsSum[:])

	return fmt.Sprintf("%s:%s", sanitizeOperation(operation), hex.EncodeToString(h.Sum(nil)))
}

// canonicalOptions renders the option map as JSON. encoding/json sorts map
// keys at every nesting level, so the byte form is independent of insertion
// order.
func canonicalOptions(options map[string]interface{}) []byte {
	if len(options) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(options)
	if err != nil {
		// Non-serializable option values still get a stable fingerprint;
		// fmt prints map keys in sorted order.
		return []byte(fmt.Sprintf("%v", options))
	}
	return data
}

// sanitizeOperation keeps the human-readable key segment safe for scan
// patterns. Only the visible segment is rewritten; the raw operation name
// still feeds the fingerprint, so distinct operations never collide.
func sanitizeOperation(operation string) string {
	if operation == "" {
		return "op"
	}
	replacer := strings.NewReplacer(
		" ", "_",
		":", "-",
		"*", "-",
		"?", "-",
		"[", "-",
		"]", "-",
		"\n", "-",
		"\r", "-",
		"\t", "-",
	)
	return replacer.Replace(operation)
}
