package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	MergeStakesItemSize = (32 + // validator
		4 + // main_index
		4) // extra_index

	MergeStakesFixedAccounts = 6
)

// MergeStakesItem folds the validator's ExtraIndex slot into MainIndex.
type MergeStakesItem struct {
	Validator  ed25519.PublicKey
	MainIndex  uint32
	ExtraIndex uint32
}

type MergeStakesInstructionArgs struct {
	Items []MergeStakesItem
}

func (args *MergeStakesInstructionArgs) Validate() error {
	if len(args.Items) == 0 {
		return errors.Wrap(ErrInvalidArgs, "no merges")
	}
	for i, item := range args.Items {
		if len(item.Validator) != ed25519.PublicKeySize {
			return errors.Wrapf(ErrInvalidArgs, "item %d: invalid validator key", i)
		}
		if item.MainIndex >= item.ExtraIndex {
			return errors.Wrapf(ErrInvalidArgs, "item %d: main slot %d must precede extra slot %d", i, item.MainIndex, item.ExtraIndex)
		}
	}
	return nil
}

type MergeStakesInstructionAccounts struct {
	Pool             ed25519.PublicKey
	ValidatorList    ed25519.PublicKey
	DepositAuthority ed25519.PublicKey
}

func NewMergeStakesInstruction(
	program ed25519.PublicKey,
	accounts *MergeStakesInstructionAccounts,
	args *MergeStakesInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int

	// Serialize instruction arguments
	data := make([]byte, 1+4+len(args.Items)*MergeStakesItemSize)

	putInstructionType(data, InstructionTypeMergeStakes, &offset)
	putUint32(data, uint32(len(args.Items)), &offset)
	for _, item := range args.Items {
		putKey(data, item.Validator, &offset)
		putUint32(data, item.MainIndex, &offset)
		putUint32(data, item.ExtraIndex, &offset)
	}

	// Instruction accounts
	metas := []solana.AccountMeta{
		readonly(accounts.Pool),
		writable(accounts.ValidatorList),
		readonly(accounts.DepositAuthority),
		readonly(stake.ProgramKey),
		readonly(system.ClockSysVar),
		readonly(system.StakeHistorySysVar),
	}
	for _, item := range args.Items {
		for _, index := range []uint32{item.MainIndex, item.ExtraIndex} {
			slot, _, err := GetStakeAddress(&GetStakeAddressArgs{
				Program:   program,
				Validator: item.Validator,
				Pool:      accounts.Pool,
				Index:     index,
			})
			if err != nil {
				return solana.Instruction{}, err
			}
			metas = append(metas, writable(slot))
		}
	}

	return solana.Instruction{
		Program:  program,
		Data:     data,
		Accounts: metas,
	}, nil
}

func MergeStakesInstructionArgsFromBinary(data []byte) (*MergeStakesInstructionArgs, error) {
	count, offset, err := itemCountFromBinary(data, InstructionTypeMergeStakes, MergeStakesItemSize)
	if err != nil {
		return nil, err
	}

	args := &MergeStakesInstructionArgs{Items: make([]MergeStakesItem, count)}
	for i := range args.Items {
		getKey(data, &args.Items[i].Validator, &offset)
		getUint32(data, &args.Items[i].MainIndex, &offset)
		getUint32(data, &args.Items[i].ExtraIndex, &offset)
	}
	return args, nil
}
