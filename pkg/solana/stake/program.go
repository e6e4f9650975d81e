package stake

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
)

// ProgramKey is the native stake program.
//
// https://explorer.solana.com/address/Stake11111111111111111111111111111111111111
var ProgramKey ed25519.PublicKey

// ConfigKey is the deprecated stake config account, still required by
// DelegateStake.
var ConfigKey ed25519.PublicKey

func init() {
	ProgramKey = mustDecode("Stake11111111111111111111111111111111111111")
	ConfigKey = mustDecode("StakeConfig11111111111111111111111111111111")
}

func mustDecode(s string) ed25519.PublicKey {
	decoded, err := base58.Decode(s)
	if err != nil {
		panic(err)
	}
	return decoded
}
