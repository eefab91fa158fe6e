package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	encoded, err := GenerateEncryptionKey()
	require.NoError(t, err)
	key, err := ParseEncryptionKey(encoded)
	require.NoError(t, err)
	return key
}

func TestEncryptionService(t *testing.T) {
	service, err := NewEncryptionService(testKey(t))
	require.NoError(t, err)

	t.Run("EncryptDecrypt", func(t *testing.T) {
		plaintext := []byte(`{"operation":"summarize","result":"short text"}`)

		encrypted, err := service.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEmpty(t, encrypted)
		assert.NotEqual(t, plaintext, encrypted)

		decrypted, err := service.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("SamePlaintextDifferentCiphertext", func(t *testing.T) {
		plaintext := []byte("identical payload")

		encrypted1, err := service.Encrypt(plaintext)
		require.NoError(t, err)

		encrypted2, err := service.Encrypt(plaintext)
		require.NoError(t, err)

		// Per-payload salt and nonce make ciphertexts unique
		assert.NotEqual(t, encrypted1, encrypted2)

		decrypted1, err := service.Decrypt(encrypted1)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted1)

		decrypted2, err := service.Decrypt(encrypted2)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted2)
	})

	t.Run("WrongKeyCannotDecrypt", func(t *testing.T) {
		plaintext := []byte("secret-data")

		encrypted, err := service.Encrypt(plaintext)
		require.NoError(t, err)

		otherService, err := NewEncryptionService(testKey(t))
		require.NoError(t, err)

		_, err = otherService.Decrypt(encrypted)
		assert.Error(t, err)
	})

	t.Run("EmptyPlaintext", func(t *testing.T) {
		encrypted, err := service.Encrypt(nil)
		require.NoError(t, err)

		decrypted, err := service.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Empty(t, decrypted)
	})

	t.Run("InvalidCiphertext", func(t *testing.T) {
		// Too short
		_, err := service.Decrypt([]byte("short"))
		assert.Error(t, err)

		// Valid length but garbage content
		invalidData := make([]byte, 100)
		_, err = service.Decrypt(invalidData)
		assert.Error(t, err)
	})

	t.Run("TamperedCiphertext", func(t *testing.T) {
		encrypted, err := service.Encrypt([]byte("integrity matters"))
		require.NoError(t, err)

		encrypted[len(encrypted)-1] ^= 0xff
		_, err = service.Decrypt(encrypted)
		assert.Error(t, err)
	})
}

func TestNewEncryptionService_KeyLength(t *testing.T) {
	_, err := NewEncryptionService([]byte("too-short"))
	assert.Error(t, err)

	_, err = NewEncryptionService(bytes.Repeat([]byte{0x42}, KeySize))
	assert.NoError(t, err)
}

func TestRotateKey(t *testing.T) {
	oldKey := testKey(t)
	newKey := testKey(t)

	service, err := NewEncryptionService(oldKey)
	require.NoError(t, err)

	plaintext := []byte("survives rotation")
	encrypted, err := service.Encrypt(plaintext)
	require.NoError(t, err)

	rotated, err := service.RotateKey(encrypted, newKey)
	require.NoError(t, err)

	// Old key no longer decrypts the rotated payload
	_, err = service.Decrypt(rotated)
	assert.Error(t, err)

	newService, err := NewEncryptionService(newKey)
	require.NoError(t, err)
	decrypted, err := newService.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestParseEncryptionKey(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		encoded, err := GenerateEncryptionKey()
		require.NoError(t, err)

		key, err := ParseEncryptionKey(encoded)
		require.NoError(t, err)
		assert.Len(t, key, KeySize)
	})

	t.Run("NotBase64", func(t *testing.T) {
		_, err := ParseEncryptionKey("not-valid-base64!!!")
		assert.Error(t, err)
	})

	t.Run("WrongLength", func(t *testing.T) {
		_, err := ParseEncryptionKey("c2hvcnQ=") // "short"
		assert.Error(t, err)
	})
}

func TestDeriveKey(t *testing.T) {
	service, err := NewEncryptionService(testKey(t))
	require.NoError(t, err)

	t.Run("ConsistentKeyDerivation", func(t *testing.T) {
		salt := []byte("test-salt-123456789012345678901x") // 32 bytes

		key1 := service.deriveKey(salt)
		key2 := service.deriveKey(salt)

		assert.Equal(t, key1, key2)
	})

	t.Run("DifferentSaltsGetDifferentKeys", func(t *testing.T) {
		key1 := service.deriveKey([]byte("salt-a-1234567890123456789012345"))
		key2 := service.deriveKey([]byte("salt-b-1234567890123456789012345"))

		assert.NotEqual(t, key1, key2)
	})

	t.Run("KeyLengthIs32Bytes", func(t *testing.T) {
		key := service.deriveKey([]byte("test-salt-123456789012345678901x"))
		assert.Len(t, key, KeySize)
	})
}
