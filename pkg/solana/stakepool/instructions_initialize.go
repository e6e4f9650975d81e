package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	InitializeInstructionArgsSize = (8 + // fee_denominator
		8) // fee_numerator
)

type InitializeInstructionArgs struct {
	FeeDenominator uint64
	FeeNumerator   uint64
}

func (args *InitializeInstructionArgs) Validate() error {
	if args.FeeDenominator == 0 {
		return errors.Wrap(ErrInvalidArgs, "fee denominator is zero")
	}
	if args.FeeNumerator > args.FeeDenominator {
		return errors.Wrap(ErrInvalidArgs, "fee numerator exceeds denominator")
	}
	return nil
}

type InitializeInstructionAccounts struct {
	Pool            ed25519.PublicKey
	Owner           ed25519.PublicKey
	ValidatorList   ed25519.PublicKey
	CreditList      ed25519.PublicKey
	PoolMint        ed25519.PublicKey
	OwnerFeeAccount ed25519.PublicKey
	CreditReserve   ed25519.PublicKey
	TokenProgram    ed25519.PublicKey
}

func NewInitializeInstruction(
	program ed25519.PublicKey,
	accounts *InitializeInstructionAccounts,
	args *InitializeInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int

	// Serialize instruction arguments
	data := make([]byte, 1+InitializeInstructionArgsSize)

	putInstructionType(data, InstructionTypeInitialize, &offset)
	putUint64(data, args.FeeDenominator, &offset)
	putUint64(data, args.FeeNumerator, &offset)

	return solana.Instruction{
		Program: program,

		// Instruction args
		Data: data,

		// Instruction accounts
		Accounts: []solana.AccountMeta{
			writable(accounts.Pool),
			signer(accounts.Owner),
			writable(accounts.ValidatorList),
			writable(accounts.CreditList),
			readonly(accounts.PoolMint),
			readonly(accounts.OwnerFeeAccount),
			writable(accounts.CreditReserve),
			readonly(system.ClockSysVar),
			readonly(system.RentSysVar),
			readonly(accounts.TokenProgram),
		},
	}, nil
}

func InitializeInstructionArgsFromBinary(data []byte) (*InitializeInstructionArgs, error) {
	if len(data) != 1+InitializeInstructionArgsSize {
		return nil, ErrInvalidInstructionData
	}

	var offset int
	var instructionType InstructionType
	getInstructionType(data, &instructionType, &offset)
	if instructionType != InstructionTypeInitialize {
		return nil, ErrInvalidInstructionData
	}

	var args InitializeInstructionArgs
	getUint64(data, &args.FeeDenominator, &offset)
	getUint64(data, &args.FeeNumerator, &offset)
	return &args, nil
}
