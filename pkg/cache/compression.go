package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// maxDecompressedBytes bounds decompression output to stop decompression
// bombs from exhausting memory.
const maxDecompressedBytes = 100 * 1024 * 1024

// CompressionCodec compresses cache payloads with gzip when they exceed a
// size threshold. Small payloads are passed through untouched because the
// gzip framing overhead on tiny payloads is a net loss. Compressed output is
// recognized on read by the gzip magic bytes, so no extra framing is needed.
type CompressionCodec struct {
	level     int
	threshold int
}

// NewCompressionCodec creates a codec with the given gzip level (1..9) and
// minimum payload size in bytes. A threshold of zero or less disables the
// size check and compresses everything.
func NewCompressionCodec(level, thresholdBytes int) (*CompressionCodec, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid compression level: %d", level)
	}
	return &CompressionCodec{
		level:     level,
		threshold: thresholdBytes,
	}, nil
}

// Compress returns the payload to store and whether it was compressed.
// Payloads below the threshold, and payloads that gzip fails to shrink, are
// returned unchanged with compressed=false.
func (c *CompressionCodec) Compress(data []byte) ([]byte, bool, error) {
	if c.threshold > 0 && len(data) < c.threshold {
		return data, false, nil
	}

	compressed, err := c.compress(data)
	if err != nil {
		return nil, false, fmt.Errorf("compression failed: %w", err)
	}

	if len(compressed) >= len(data) {
		return data, false, nil
	}

	return compressed, true, nil
}

// Decompress is the inverse of Compress. Payloads without the gzip magic
// bytes are returned as-is; payloads that carry the magic bytes but fail to
// decompress are reported as corrupt so the caller can treat them as a miss.
func (c *CompressionCodec) Decompress(data []byte) ([]byte, error) {
	if !c.IsCompressed(data) {
		return data, nil
	}

	decompressed, err := c.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt compressed payload: %w", err)
	}

	return decompressed, nil
}

// IsCompressed reports whether the payload starts with the gzip magic bytes.
func (c *CompressionCodec) IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Ratio returns the fraction of bytes saved by compressing data, ignoring
// the threshold. Useful for sizing reports.
func (c *CompressionCodec) Ratio(data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, nil
	}

	compressed, err := c.compress(data)
	if err != nil {
		return 0, err
	}

	return 1.0 - (float64(len(compressed)) / float64(len(data))), nil
}

func (c *CompressionCodec) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("compression write failed: %w", err)
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (c *CompressionCodec) decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = gz.Close()
	}()

	limitedReader := io.LimitReader(gz, maxDecompressedBytes)
	return io.ReadAll(limitedReader)
}
