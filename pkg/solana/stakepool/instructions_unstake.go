package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	UnstakeItemSize = (4 + // stake_index
		8 + // amount
		4) // split_index

	UnstakeFixedAccounts = 10
)

// UnstakeItem deactivates a stake slot. A zero Amount deactivates the whole
// slot. Otherwise Amount lamports are split into the empty SplitIndex slot,
// which is then deactivated.
type UnstakeItem struct {
	Validator  ed25519.PublicKey
	SlotIndex  uint32
	Amount     uint64
	SplitIndex uint32
}

type UnstakeInstructionArgs struct {
	Items []UnstakeItem
}

func (args *UnstakeInstructionArgs) Validate() error {
	if len(args.Items) == 0 {
		return errors.Wrap(ErrInvalidArgs, "no unstakes")
	}
	for i, item := range args.Items {
		if len(item.Validator) != ed25519.PublicKeySize {
			return errors.Wrapf(ErrInvalidArgs, "item %d: invalid validator key", i)
		}
		if item.Amount > 0 && item.SplitIndex == item.SlotIndex {
			return errors.Wrapf(ErrInvalidArgs, "item %d: split slot must differ from the source", i)
		}
	}
	return nil
}

type UnstakeInstructionAccounts struct {
	Pool              ed25519.PublicKey
	ValidatorList     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	DepositAuthority  ed25519.PublicKey
	Reserve           ed25519.PublicKey
}

func NewUnstakeInstruction(
	program ed25519.PublicKey,
	accounts *UnstakeInstructionAccounts,
	args *UnstakeInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int

	// Serialize instruction arguments
	data := make([]byte, 1+4+len(args.Items)*UnstakeItemSize)

	putInstructionType(data, InstructionTypeUnstake, &offset)
	putUint32(data, uint32(len(args.Items)), &offset)
	for _, item := range args.Items {
		splitIndex := item.SplitIndex
		if item.Amount == 0 {
			splitIndex = item.SlotIndex
		}

		putUint32(data, item.SlotIndex, &offset)
		putUint64(data, item.Amount, &offset)
		putUint32(data, splitIndex, &offset)
	}

	// Instruction accounts
	metas := []solana.AccountMeta{
		writable(accounts.Pool),
		writable(accounts.ValidatorList),
		readonly(accounts.WithdrawAuthority),
		readonly(accounts.DepositAuthority),
		writable(accounts.Reserve),
		readonly(system.ProgramKey),
		readonly(stake.ProgramKey),
		readonly(system.ClockSysVar),
		readonly(system.StakeHistorySysVar),
		readonly(system.RentSysVar),
	}
	for _, item := range args.Items {
		slot, _, err := GetStakeAddress(&GetStakeAddressArgs{
			Program:   program,
			Validator: item.Validator,
			Pool:      accounts.Pool,
			Index:     item.SlotIndex,
		})
		if err != nil {
			return solana.Instruction{}, err
		}

		split := slot
		if item.Amount > 0 {
			split, _, err = GetStakeAddress(&GetStakeAddressArgs{
				Program:   program,
				Validator: item.Validator,
				Pool:      accounts.Pool,
				Index:     item.SplitIndex,
			})
			if err != nil {
				return solana.Instruction{}, err
			}
		}

		metas = append(metas, readonly(item.Validator), writable(slot), writable(split))
	}

	return solana.Instruction{
		Program:  program,
		Data:     data,
		Accounts: metas,
	}, nil
}

// UnstakeInstructionArgsFromBinary decodes the item payload. Validator is
// left unset, as it only appears in the account references.
func UnstakeInstructionArgsFromBinary(data []byte) (*UnstakeInstructionArgs, error) {
	count, offset, err := itemCountFromBinary(data, InstructionTypeUnstake, UnstakeItemSize)
	if err != nil {
		return nil, err
	}

	args := &UnstakeInstructionArgs{Items: make([]UnstakeItem, count)}
	for i := range args.Items {
		getUint32(data, &args.Items[i].SlotIndex, &offset)
		getUint64(data, &args.Items[i].Amount, &offset)
		getUint32(data, &args.Items[i].SplitIndex, &offset)
	}
	return args, nil
}
