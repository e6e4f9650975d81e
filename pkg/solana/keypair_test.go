package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeypair(t *testing.T) {
	priv := generateKeys(t, 1)[0]

	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0600))

	loaded, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, priv, loaded)

	_, err = LoadKeypair(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseKeypair(t *testing.T) {
	priv := generateKeys(t, 1)[0]

	parsed, err := ParseKeypair([]byte(base58.Encode(priv) + "\n"))
	require.NoError(t, err)
	assert.Equal(t, priv, parsed)

	_, err = ParseKeypair([]byte("[1,2,3]"))
	assert.Error(t, err)

	tampered := make(ed25519.PrivateKey, len(priv))
	copy(tampered, priv)
	tampered[40] ^= 0xff
	_, err = ParseKeypair([]byte(base58.Encode(tampered)))
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	pub := public(generateKeys(t, 1)[0])

	parsed, err := ParsePublicKey(base58.Encode(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)

	_, err = ParsePublicKey("abc")
	assert.Error(t, err)
	_, err = ParsePublicKey("0OIl")
	assert.Error(t, err)
}
