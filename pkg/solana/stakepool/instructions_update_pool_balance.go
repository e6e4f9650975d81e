package stakepool

import (
	"crypto/ed25519"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

type UpdatePoolBalanceInstructionAccounts struct {
	Pool          ed25519.PublicKey
	ValidatorList ed25519.PublicKey
	Reserve       ed25519.PublicKey
}

func NewUpdatePoolBalanceInstruction(
	program ed25519.PublicKey,
	accounts *UpdatePoolBalanceInstructionAccounts,
) solana.Instruction {
	return solana.Instruction{
		Program: program,
		Data:    []byte{byte(InstructionTypeUpdatePoolBalance)},
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			readonly(accounts.ValidatorList),
			readonly(accounts.Reserve),
			readonly(system.ClockSysVar),
		},
	}
}
