package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	WithdrawInstructionArgsSize = 8 // amount
)

type WithdrawInstructionArgs struct {
	Amount uint64
}

func (args *WithdrawInstructionArgs) Validate() error {
	if args.Amount == 0 {
		return errors.Wrap(ErrInvalidArgs, "withdraw amount is zero")
	}
	return nil
}

type WithdrawInstructionAccounts struct {
	Pool              ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	Reserve           ed25519.PublicKey
	BurnFrom          ed25519.PublicKey
	PoolMint          ed25519.PublicKey
	Target            ed25519.PublicKey
	TokenProgram      ed25519.PublicKey
}

// NewWithdrawInstruction burns Amount pool tokens from BurnFrom, which must
// have approved the withdraw authority, and pays the backing lamports from the
// reserve to Target.
func NewWithdrawInstruction(
	program ed25519.PublicKey,
	accounts *WithdrawInstructionAccounts,
	args *WithdrawInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int
	data := make([]byte, 1+WithdrawInstructionArgsSize)
	putInstructionType(data, InstructionTypeWithdraw, &offset)
	putUint64(data, args.Amount, &offset)

	return solana.Instruction{
		Program: program,
		Data:    data,
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			readonly(accounts.WithdrawAuthority),
			writable(accounts.Reserve),
			writable(accounts.BurnFrom),
			writable(accounts.PoolMint),
			writable(accounts.Target),
			readonly(system.RentSysVar),
			readonly(system.ProgramKey),
			readonly(accounts.TokenProgram),
		},
	}, nil
}

func WithdrawInstructionArgsFromBinary(data []byte) (*WithdrawInstructionArgs, error) {
	amount, err := amountFromBinary(data, InstructionTypeWithdraw)
	if err != nil {
		return nil, err
	}
	return &WithdrawInstructionArgs{Amount: amount}, nil
}
