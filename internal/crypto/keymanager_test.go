package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(blob), `"version": 1`))

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong password")
	assert.Error(t, err)
}

func TestEncryptKey_Rejections(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("zz not hex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw") // too short
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	// Raw key wins, 0x prefix stripped.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Encrypted file path.
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// No source configured.
	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
