package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	content := []byte("backup artifact content")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	sum, err := ComputeFileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "7773b2210b8719e101dc09422ec5c42a9d3b5aeed65162282c3a549e22b0d8b8", sum)

	assert.NoError(t, VerifyFileChecksum(path, sum))

	// Altering the file invalidates the recorded checksum
	require.NoError(t, os.WriteFile(path, append(content, 'x'), 0o600))
	assert.Error(t, VerifyFileChecksum(path, sum))
}

func TestVerifyFileChecksum_MissingFile(t *testing.T) {
	err := VerifyFileChecksum(filepath.Join(t.TempDir(), "absent"), "deadbeef")
	assert.Error(t, err)
}
