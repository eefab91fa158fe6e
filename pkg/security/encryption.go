// Package security provides the cryptographic primitives used by the cache
// engine: authenticated at-rest encryption, key generation, and artifact
// checksums.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the required length in bytes of a decoded encryption key.
const KeySize = 32

// EncryptionService provides payload encryption using AES-256-GCM
type EncryptionService struct {
	masterKey []byte
	saltSize  int
	keyIter   int
}

// NewEncryptionService creates a new encryption service from a raw 32-byte key
func NewEncryptionService(key []byte) (*EncryptionService, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	// Digest the key so the raw material never sits in the struct
	hash := sha256.Sum256(key)
	return &EncryptionService{
		masterKey: hash[:],
		saltSize:  32,
		keyIter:   10000,
	}, nil
}

// Encrypt encrypts a payload using AES-256-GCM with a per-payload derived key
func (e *EncryptionService) Encrypt(plaintext []byte) ([]byte, error) {
	// Generate salt for this encryption
	salt := make([]byte, e.saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := e.deriveKey(salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	// Combine salt + nonce + ciphertext
	encrypted := make([]byte, len(salt)+len(nonce)+len(ciphertext))
	copy(encrypted, salt)
	copy(encrypted[len(salt):], nonce)
	copy(encrypted[len(salt)+len(nonce):], ciphertext)

	return encrypted, nil
}

// Decrypt decrypts data produced by Encrypt. Decryption under a different key
// fails GCM authentication and returns an error.
func (e *EncryptionService) Decrypt(encrypted []byte) ([]byte, error) {
	// 12 is the minimum nonce size for GCM
	if len(encrypted) < e.saltSize+12 {
		return nil, fmt.Errorf("invalid encrypted data: too short")
	}

	salt := encrypted[:e.saltSize]
	encrypted = encrypted[e.saltSize:]

	key := e.deriveKey(salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("invalid encrypted data: missing nonce")
	}

	nonce := encrypted[:nonceSize]
	ciphertext := encrypted[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// deriveKey derives the per-payload encryption key from the master key and salt
func (e *EncryptionService) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(e.masterKey, salt, e.keyIter, KeySize, sha256.New)
}

// RotateKey re-encrypts a payload under a new key, preserving the plaintext
func (e *EncryptionService) RotateKey(oldEncrypted []byte, newKey []byte) ([]byte, error) {
	plaintext, err := e.Decrypt(oldEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt with old key: %w", err)
	}

	newService, err := NewEncryptionService(newKey)
	if err != nil {
		return nil, err
	}

	return newService.Encrypt(plaintext)
}

// GenerateEncryptionKey generates a new random key encoded for configuration use
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ParseEncryptionKey decodes a configured base64 key and validates its length
func ParseEncryptionKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
