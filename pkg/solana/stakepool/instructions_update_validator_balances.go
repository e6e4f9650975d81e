package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	UpdateValidatorBalancesInstructionArgsSize = 4 // validator_count

	// UpdateValidatorBalancesFixedAccounts is the number of account references
	// preceding the per validator references.
	UpdateValidatorBalancesFixedAccounts = 8
)

// UpdateValidatorBalancesItem is a roster validator whose first StakeCount
// slots are refreshed.
type UpdateValidatorBalancesItem struct {
	Validator  ed25519.PublicKey
	StakeCount uint32
}

type UpdateValidatorBalancesInstructionArgs struct {
	Validators []UpdateValidatorBalancesItem
}

func (args *UpdateValidatorBalancesInstructionArgs) Validate() error {
	if len(args.Validators) == 0 {
		return errors.Wrap(ErrInvalidArgs, "no validators")
	}
	return nil
}

type UpdateValidatorBalancesInstructionAccounts struct {
	Pool              ed25519.PublicKey
	ValidatorList     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	Reserve           ed25519.PublicKey
}

func NewUpdateValidatorBalancesInstruction(
	program ed25519.PublicKey,
	accounts *UpdateValidatorBalancesInstructionAccounts,
	args *UpdateValidatorBalancesInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int

	// Serialize instruction arguments
	data := make([]byte, 1+UpdateValidatorBalancesInstructionArgsSize)

	putInstructionType(data, InstructionTypeUpdateValidatorBalances, &offset)
	putUint32(data, uint32(len(args.Validators)), &offset)

	// Instruction accounts
	metas := []solana.AccountMeta{
		readonly(accounts.Pool),
		writable(accounts.ValidatorList),
		readonly(accounts.WithdrawAuthority),
		writable(accounts.Reserve),
		readonly(system.ProgramKey),
		readonly(stake.ProgramKey),
		readonly(system.ClockSysVar),
		readonly(system.StakeHistorySysVar),
	}
	for _, item := range args.Validators {
		metas = append(metas, readonly(item.Validator))
		for index := uint32(0); index < item.StakeCount; index++ {
			address, _, err := GetStakeAddress(&GetStakeAddressArgs{
				Program:   program,
				Validator: item.Validator,
				Pool:      accounts.Pool,
				Index:     index,
			})
			if err != nil {
				return solana.Instruction{}, err
			}
			metas = append(metas, writable(address))
		}
	}

	return solana.Instruction{
		Program:  program,
		Data:     data,
		Accounts: metas,
	}, nil
}

// UpdateValidatorBalancesValidatorCountFromBinary returns the number of
// validators an encoded update refreshes.
func UpdateValidatorBalancesValidatorCountFromBinary(data []byte) (uint32, error) {
	if len(data) != 1+UpdateValidatorBalancesInstructionArgsSize {
		return 0, ErrInvalidInstructionData
	}

	var offset int
	var instructionType InstructionType
	getInstructionType(data, &instructionType, &offset)
	if instructionType != InstructionTypeUpdateValidatorBalances {
		return 0, ErrInvalidInstructionData
	}

	var count uint32
	getUint32(data, &count, &offset)
	return count, nil
}
