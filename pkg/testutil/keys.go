package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// GenerateSolanaKeypair returns a fresh private key.
func GenerateSolanaKeypair(t testing.TB) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

// GenerateSolanaKeys returns n fresh public keys.
func GenerateSolanaKeys(t testing.TB, n int) []ed25519.PublicKey {
	return lo.Times(n, func(int) ed25519.PublicKey {
		return PublicKey(GenerateSolanaKeypair(t))
	})
}

func PublicKey(priv ed25519.PrivateKey) ed25519.PublicKey {
	return priv.Public().(ed25519.PublicKey)
}
