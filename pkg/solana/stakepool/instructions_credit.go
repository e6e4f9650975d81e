package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

const (
	CreditInstructionArgsSize = 8 // amount
)

type CreditInstructionArgs struct {
	Amount uint64
}

func (args *CreditInstructionArgs) Validate() error {
	if args.Amount == 0 {
		return errors.Wrap(ErrInvalidArgs, "credit amount is zero")
	}
	if args.Amount > 1<<63-1 {
		return errors.Wrap(ErrInvalidArgs, "credit amount overflows")
	}
	return nil
}

type CreditInstructionAccounts struct {
	Pool              ed25519.PublicKey
	CreditList        ed25519.PublicKey
	CreditReserve     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	TokenSource       ed25519.PublicKey
	SolTarget         ed25519.PublicKey
	CancelAuthority   ed25519.PublicKey
	TokenProgram      ed25519.PublicKey
}

// NewCreditInstruction moves Amount pool tokens into the credit reserve and
// queues a payout to SolTarget for when the reserve can cover it.
func NewCreditInstruction(
	program ed25519.PublicKey,
	accounts *CreditInstructionAccounts,
	args *CreditInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int
	data := make([]byte, 1+CreditInstructionArgsSize)
	putInstructionType(data, InstructionTypeCredit, &offset)
	putUint64(data, args.Amount, &offset)

	return solana.Instruction{
		Program: program,
		Data:    data,
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			writable(accounts.CreditList),
			writable(accounts.CreditReserve),
			readonly(accounts.WithdrawAuthority),
			writable(accounts.TokenSource),
			writable(accounts.SolTarget),
			readonly(accounts.CancelAuthority),
			readonly(accounts.TokenProgram),
		},
	}, nil
}

func CreditInstructionArgsFromBinary(data []byte) (*CreditInstructionArgs, error) {
	amount, err := amountFromBinary(data, InstructionTypeCredit)
	if err != nil {
		return nil, err
	}
	return &CreditInstructionArgs{Amount: amount}, nil
}
