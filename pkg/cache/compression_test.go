package cache

import (
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionCodec_BelowThresholdPassThrough(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 1024)
	require.NoError(t, err)

	data := []byte("small payload")
	out, compressed, err := codec.Compress(data)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, data, out)
	assert.False(t, codec.IsCompressed(out))
}

func TestCompressionCodec_RoundTrip(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 64)
	require.NoError(t, err)

	data := []byte(strings.Repeat("the result of the operation ", 256))
	out, compressed, err := codec.Compress(data)
	require.NoError(t, err)
	require.True(t, compressed)
	assert.Less(t, len(out), len(data))
	assert.True(t, codec.IsCompressed(out))

	restored, err := codec.Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestCompressionCodec_SkipsWhenNoShrink(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestCompression, 16)
	require.NoError(t, err)

	// Compressing already-compressed bytes only adds framing overhead, so
	// the codec must keep the original.
	once, compressed, err := codec.Compress([]byte(strings.Repeat("abcdefgh", 64)))
	require.NoError(t, err)
	require.True(t, compressed)

	twice, compressedAgain, err := codec.Compress(once)
	require.NoError(t, err)
	assert.False(t, compressedAgain)
	assert.Equal(t, once, twice)
}

func TestCompressionCodec_DecompressPassThrough(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 1024)
	require.NoError(t, err)

	data := []byte("plain bytes that were never compressed")
	out, err := codec.Decompress(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressionCodec_CorruptPayload(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 64)
	require.NoError(t, err)

	// Valid magic bytes followed by garbage.
	corrupt := []byte{0x1f, 0x8b, 0xff, 0x01, 0x02, 0x03}
	_, err = codec.Decompress(corrupt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt compressed payload")
}

func TestCompressionCodec_TruncatedPayload(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 16)
	require.NoError(t, err)

	full, compressed, err := codec.Compress([]byte(strings.Repeat("abcdefgh", 64)))
	require.NoError(t, err)
	require.True(t, compressed)

	_, err = codec.Decompress(full[:len(full)/2])
	require.Error(t, err)
}

func TestNewCompressionCodec_LevelValidation(t *testing.T) {
	for _, level := range []int{-3, 0, 10, 100} {
		_, err := NewCompressionCodec(level, 1024)
		assert.Error(t, err, "level %d should be rejected", level)
	}
	for _, level := range []int{gzip.BestSpeed, 5, gzip.BestCompression} {
		_, err := NewCompressionCodec(level, 1024)
		assert.NoError(t, err, "level %d should be accepted", level)
	}
}

func TestCompressionCodec_Ratio(t *testing.T) {
	codec, err := NewCompressionCodec(gzip.BestSpeed, 64)
	require.NoError(t, err)

	ratio, err := codec.Ratio([]byte(strings.Repeat("z", 4096)))
	require.NoError(t, err)
	assert.Greater(t, ratio, 0.9)

	ratio, err = codec.Ratio(nil)
	require.NoError(t, err)
	assert.Zero(t, ratio)
}
