package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// LoadKeypair reads a keypair file in the solana-keygen format, a JSON array
// of the 64 private key bytes.
func LoadKeypair(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keypair %s", path)
	}

	return ParseKeypair(raw)
}

// ParseKeypair decodes a solana-keygen JSON keypair, or a base58 encoded
// private key.
func ParseKeypair(raw []byte) (ed25519.PrivateKey, error) {
	var key []byte
	if err := json.Unmarshal(raw, &key); err != nil {
		if key, err = base58.Decode(strings.TrimSpace(string(raw))); err != nil {
			return nil, errors.New("keypair is neither a json array nor base58")
		}
	}

	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("invalid keypair size %d", len(key))
	}

	priv := ed25519.PrivateKey(key)
	derived := ed25519.NewKeyFromSeed(priv.Seed())
	if !priv.Equal(derived) {
		return nil, errors.New("keypair public key does not match its seed")
	}
	return priv, nil
}

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	key, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid address %q: %d bytes", s, len(key))
	}
	return key, nil
}
