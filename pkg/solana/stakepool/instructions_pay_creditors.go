package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	PayCreditorsInstructionArgsSize = 4 // batch

	PayCreditorsFixedAccounts = 8
)

// PayCreditorsInstructionArgs pays the head of the credit queue. Targets must
// be the queue's targets in list order, one per paid creditor.
type PayCreditorsInstructionArgs struct {
	Targets []ed25519.PublicKey
}

func (args *PayCreditorsInstructionArgs) Validate() error {
	if len(args.Targets) == 0 {
		return errors.Wrap(ErrInvalidArgs, "empty batch")
	}
	return nil
}

type PayCreditorsInstructionAccounts struct {
	Pool              ed25519.PublicKey
	CreditList        ed25519.PublicKey
	CreditReserve     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	Reserve           ed25519.PublicKey
	PoolMint          ed25519.PublicKey
	TokenProgram      ed25519.PublicKey
}

func NewPayCreditorsInstruction(
	program ed25519.PublicKey,
	accounts *PayCreditorsInstructionAccounts,
	args *PayCreditorsInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int
	data := make([]byte, 1+PayCreditorsInstructionArgsSize)
	putInstructionType(data, InstructionTypePayCreditors, &offset)
	putUint32(data, uint32(len(args.Targets)), &offset)

	metas := []solana.AccountMeta{
		writable(accounts.Pool),
		writable(accounts.CreditList),
		writable(accounts.CreditReserve),
		readonly(accounts.WithdrawAuthority),
		writable(accounts.Reserve),
		writable(accounts.PoolMint),
		readonly(accounts.TokenProgram),
		readonly(system.ProgramKey),
	}
	for _, target := range args.Targets {
		metas = append(metas, writable(target))
	}

	return solana.Instruction{
		Program:  program,
		Data:     data,
		Accounts: metas,
	}, nil
}

func PayCreditorsBatchFromBinary(data []byte) (uint32, error) {
	if len(data) != 1+PayCreditorsInstructionArgsSize {
		return 0, ErrInvalidInstructionData
	}

	var offset int
	var instructionType InstructionType
	getInstructionType(data, &instructionType, &offset)
	if instructionType != InstructionTypePayCreditors {
		return 0, ErrInvalidInstructionData
	}

	var batch uint32
	getUint32(data, &batch, &offset)
	return batch, nil
}
