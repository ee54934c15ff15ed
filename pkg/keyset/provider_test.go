package keyset

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManagedCreatesOnFirstRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := Load(LoadOptions{DataDir: dir})
	require.NoError(t, err)
	require.True(t, p.Managed())

	path := filepath.Join(dir, ManagedFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	// A second load picks up the same generation.
	p2, err := Load(LoadOptions{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, p.Current().Signing.KeyID, p2.Current().Signing.KeyID)
	assert.Equal(t, p.Current().Encryption.KeyID, p2.Current().Encryption.KeyID)
}

func TestLoadFromEnvironmentJSON(t *testing.T) {
	t.Parallel()

	ks := mustGenerate(t)
	data, err := ks.JSON()
	require.NoError(t, err)

	p, err := Load(LoadOptions{KeysetJSON: string(data)})
	require.NoError(t, err)

	assert.False(t, p.Managed())
	assert.Equal(t, ks.Signing.KeyID, p.Current().Signing.KeyID)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	ks := mustGenerate(t)
	data, err := ks.JSON()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "external.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p, err := Load(LoadOptions{KeysetFile: path})
	require.NoError(t, err)

	assert.False(t, p.Managed())
	assert.Equal(t, ks.Signing.KeyID, p.Current().Signing.KeyID)
}

func TestLoadFromMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{KeysetFile: filepath.Join(t.TempDir(), "nope.json")})
	assert.ErrorContains(t, err, "KEYSET_FILE")
}

func TestLoadRejectsInvalidEnvironmentKeyset(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{KeysetJSON: `{"keys":[]}`})
	assert.ErrorContains(t, err, "KEYSET")
}

func TestRotateInvalidatesPreviousGeneration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := Load(LoadOptions{DataDir: dir})
	require.NoError(t, err)

	before := p.Current()
	signed, err := before.Sign([]byte("minted before rotation"))
	require.NoError(t, err)
	sealed, err := before.Encrypt([]byte("sealed before rotation"))
	require.NoError(t, err)

	rotated, err := p.Rotate()
	require.NoError(t, err)
	assert.NotEqual(t, before.Signing.KeyID, rotated.Signing.KeyID)
	assert.Same(t, rotated, p.Current())

	// Hard invalidation: nothing from the old generation survives.
	_, err = p.Current().Verify(signed)
	assert.Error(t, err)
	_, err = p.Current().Decrypt(sealed)
	assert.Error(t, err)

	// The managed file now holds the new generation.
	reloaded, err := Load(LoadOptions{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, rotated.Signing.KeyID, reloaded.Current().Signing.KeyID)
}

func TestRotateRefusesExternalKeyset(t *testing.T) {
	t.Parallel()

	ks := mustGenerate(t)
	data, err := ks.JSON()
	require.NoError(t, err)

	p, err := Load(LoadOptions{KeysetJSON: string(data)})
	require.NoError(t, err)

	_, err = p.Rotate()
	assert.ErrorIs(t, err, ErrExternalKeyset)
}
