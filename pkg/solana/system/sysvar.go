package system

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
)

// ProgramKey is the system program, which owns every plain wallet account.
//
// https://explorer.solana.com/address/11111111111111111111111111111111
var ProgramKey ed25519.PublicKey

// RentSysVar points to the system variable "Rent"
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/sysvar/rent.rs#L11
var RentSysVar ed25519.PublicKey

// ClockSysVar points to the system variable "Clock"
var ClockSysVar ed25519.PublicKey

// StakeHistorySysVar points to the system variable "StakeHistory"
var StakeHistorySysVar ed25519.PublicKey

func init() {
	ProgramKey = mustDecode("11111111111111111111111111111111")
	RentSysVar = mustDecode("SysvarRent111111111111111111111111111111111")
	ClockSysVar = mustDecode("SysvarC1ock11111111111111111111111111111111")
	StakeHistorySysVar = mustDecode("SysvarStakeHistory1111111111111111111111111")
}

func mustDecode(s string) ed25519.PublicKey {
	decoded, err := base58.Decode(s)
	if err != nil {
		panic(err)
	}
	return decoded
}
