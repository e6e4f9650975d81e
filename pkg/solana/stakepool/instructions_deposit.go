package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	DepositInstructionArgsSize = 8 // amount
)

type DepositInstructionArgs struct {
	Amount uint64
}

func (args *DepositInstructionArgs) Validate() error {
	if args.Amount == 0 {
		return errors.Wrap(ErrInvalidArgs, "deposit amount is zero")
	}
	return nil
}

type DepositInstructionAccounts struct {
	Pool              ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	Reserve           ed25519.PublicKey
	Source            ed25519.PublicKey
	Destination       ed25519.PublicKey
	OwnerFeeAccount   ed25519.PublicKey
	PoolMint          ed25519.PublicKey
	TokenProgram      ed25519.PublicKey
}

// NewDepositInstruction moves Amount lamports from Source into the reserve
// and mints the corresponding pool tokens to Destination.
func NewDepositInstruction(
	program ed25519.PublicKey,
	accounts *DepositInstructionAccounts,
	args *DepositInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int
	data := make([]byte, 1+DepositInstructionArgsSize)
	putInstructionType(data, InstructionTypeDeposit, &offset)
	putUint64(data, args.Amount, &offset)

	return solana.Instruction{
		Program: program,
		Data:    data,
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			readonly(accounts.WithdrawAuthority),
			writable(accounts.Reserve),
			{PublicKey: accounts.Source, IsSigner: true, IsWritable: true},
			writable(accounts.Destination),
			writable(accounts.OwnerFeeAccount),
			writable(accounts.PoolMint),
			readonly(system.RentSysVar),
			readonly(system.ProgramKey),
			readonly(accounts.TokenProgram),
		},
	}, nil
}

func DepositInstructionArgsFromBinary(data []byte) (*DepositInstructionArgs, error) {
	amount, err := amountFromBinary(data, InstructionTypeDeposit)
	if err != nil {
		return nil, err
	}
	return &DepositInstructionArgs{Amount: amount}, nil
}

func amountFromBinary(data []byte, expected InstructionType) (uint64, error) {
	if len(data) != 1+8 {
		return 0, ErrInvalidInstructionData
	}

	var offset int
	var instructionType InstructionType
	getInstructionType(data, &instructionType, &offset)
	if instructionType != expected {
		return 0, ErrInvalidInstructionData
	}

	var amount uint64
	getUint64(data, &amount, &offset)
	return amount, nil
}
