package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

const (
	CancelCreditInstructionArgsSize = 8 // amount
)

// CancelCreditInstructionArgs carries the negated amount to withdraw from
// pending credits.
type CancelCreditInstructionArgs struct {
	Amount int64
}

func (args *CancelCreditInstructionArgs) Validate() error {
	if args.Amount >= 0 {
		return errors.Wrap(ErrInvalidArgs, "cancel amount must be negative")
	}
	return nil
}

type CancelCreditInstructionAccounts struct {
	Pool              ed25519.PublicKey
	CreditList        ed25519.PublicKey
	CreditReserve     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	CancelAuthority   ed25519.PublicKey
	TokenTarget       ed25519.PublicKey
	TokenProgram      ed25519.PublicKey
}

func NewCancelCreditInstruction(
	program ed25519.PublicKey,
	accounts *CancelCreditInstructionAccounts,
	args *CancelCreditInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int
	data := make([]byte, 1+CancelCreditInstructionArgsSize)
	putInstructionType(data, InstructionTypeCancelCredit, &offset)
	putInt64(data, args.Amount, &offset)

	return solana.Instruction{
		Program: program,
		Data:    data,
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			writable(accounts.CreditList),
			writable(accounts.CreditReserve),
			readonly(accounts.WithdrawAuthority),
			signer(accounts.CancelAuthority),
			writable(accounts.TokenTarget),
			readonly(accounts.TokenProgram),
		},
	}, nil
}

func CancelCreditInstructionArgsFromBinary(data []byte) (*CancelCreditInstructionArgs, error) {
	amount, err := amountFromBinary(data, InstructionTypeCancelCredit)
	if err != nil {
		return nil, err
	}
	return &CancelCreditInstructionArgs{Amount: int64(amount)}, nil
}
