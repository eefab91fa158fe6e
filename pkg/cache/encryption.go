package cache

import (
	"bytes"
	"fmt"

	"github.com/S-Corkum/resultcache/pkg/observability"
	"github.com/S-Corkum/resultcache/pkg/security"
)

// EncryptionLayer applies at-rest encryption to serialized cache payloads.
// The key is optional: without one the layer passes payloads through
// unchanged and logs a single warning at construction, a mode meant for
// local development only. With a key it encrypts via the security package
// and refuses to start unless a self-test round-trip succeeds, so a broken
// key is caught at startup rather than at the first cache write.
type EncryptionLayer struct {
	service *security.EncryptionService
	logger  observability.Logger
}

// NewEncryptionLayer constructs the layer from an optional base64-encoded
// 32-byte key. A malformed key is a ConfigurationError with remediation
// guidance, never a silent fallback to plaintext.
func NewEncryptionLayer(encodedKey string, logger observability.Logger) (*EncryptionLayer, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	if encodedKey == "" {
		logger.Warn("cache encryption disabled: no encryption key configured, values are stored in plaintext", nil)
		return &EncryptionLayer{logger: logger}, nil
	}

	key, err := security.ParseEncryptionKey(encodedKey)
	if err != nil {
		return nil, &ConfigurationError{
			Tag:         "encryption_key",
			Violations:  []string{fmt.Sprintf("encryption_key is malformed: %v", err)},
			Remediation: "generate a valid encryption key with `cachectl -keygen` or security.GenerateEncryptionKey",
			Err:         err,
		}
	}

	service, err := security.NewEncryptionService(key)
	if err != nil {
		return nil, &ConfigurationError{
			Tag:         "encryption_key",
			Violations:  []string{fmt.Sprintf("encryption service rejected key: %v", err)},
			Remediation: "generate a valid encryption key with `cachectl -keygen` or security.GenerateEncryptionKey",
			Err:         err,
		}
	}

	layer := &EncryptionLayer{
		service: service,
		logger:  logger,
	}

	if err := layer.selfTest(); err != nil {
		return nil, fmt.Errorf("encryption self-test failed: %w", err)
	}

	return layer, nil
}

// Enabled reports whether payloads are actually encrypted.
func (e *EncryptionLayer) Enabled() bool {
	return e.service != nil
}

// Encrypt seals the payload. Pass-through when no key is configured.
func (e *EncryptionLayer) Encrypt(data []byte) ([]byte, error) {
	if e.service == nil {
		return data, nil
	}

	encrypted, err := e.service.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	return encrypted, nil
}

// Decrypt opens a payload sealed by Encrypt. Payloads sealed under a
// different key fail authentication and return an error; the caller treats
// that as a miss, not a fatal condition.
func (e *EncryptionLayer) Decrypt(data []byte) ([]byte, error) {
	if e.service == nil {
		return data, nil
	}

	decrypted, err := e.service.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return decrypted, nil
}

// selfTest round-trips a probe payload through the configured key.
func (e *EncryptionLayer) selfTest() error {
	probe := []byte("resultcache encryption self-test")

	encrypted, err := e.service.Encrypt(probe)
	if err != nil {
		return err
	}

	decrypted, err := e.service.Decrypt(encrypted)
	if err != nil {
		return err
	}

	if !bytes.Equal(probe, decrypted) {
		return fmt.Errorf("round-trip produced different payload")
	}
	return nil
}
