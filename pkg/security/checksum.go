package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// VerifyFileChecksum verifies that a file matches the expected SHA256 checksum.
// Used to ensure backup artifacts have not been tampered with or truncated.
func VerifyFileChecksum(filepath, expectedSHA256 string) error {
	file, err := os.Open(filepath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		// Best effort close - we already read the file successfully
		_ = file.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}

	computed := hex.EncodeToString(h.Sum(nil))
	if computed != expectedSHA256 {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSHA256, computed)
	}

	return nil
}

// ComputeFileChecksum calculates the SHA256 checksum of a file.
func ComputeFileChecksum(filepath string) (string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		// Best effort close - we already read the file successfully
		_ = file.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to compute checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
