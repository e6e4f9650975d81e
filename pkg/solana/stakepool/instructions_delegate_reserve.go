package stakepool

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const (
	DelegateReserveItemSize = (4 + // stake_index
		8) // amount

	// DelegateReserveFixedAccounts is the number of account references
	// preceding the per item references.
	DelegateReserveFixedAccounts = 11
)

// DelegateReserveItem moves Amount lamports from the reserve into the
// validator's stake slot at SlotIndex.
type DelegateReserveItem struct {
	Validator ed25519.PublicKey
	SlotIndex uint32
	Amount    uint64
}

type DelegateReserveInstructionArgs struct {
	Items []DelegateReserveItem
}

func (args *DelegateReserveInstructionArgs) Validate() error {
	if len(args.Items) == 0 {
		return errors.Wrap(ErrInvalidArgs, "no delegations")
	}
	for i, item := range args.Items {
		if len(item.Validator) != ed25519.PublicKeySize {
			return errors.Wrapf(ErrInvalidArgs, "item %d: invalid validator key", i)
		}
		if item.Amount == 0 {
			return errors.Wrapf(ErrInvalidArgs, "item %d: zero amount", i)
		}
	}
	return nil
}

type DelegateReserveInstructionAccounts struct {
	Pool              ed25519.PublicKey
	ValidatorList     ed25519.PublicKey
	WithdrawAuthority ed25519.PublicKey
	DepositAuthority  ed25519.PublicKey
	Reserve           ed25519.PublicKey
}

func NewDelegateReserveInstruction(
	program ed25519.PublicKey,
	accounts *DelegateReserveInstructionAccounts,
	args *DelegateReserveInstructionArgs,
) (solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return solana.Instruction{}, err
	}

	var offset int

	// Serialize instruction arguments
	data := make([]byte, 1+4+len(args.Items)*DelegateReserveItemSize)

	putInstructionType(data, InstructionTypeDelegateReserve, &offset)
	putUint32(data, uint32(len(args.Items)), &offset)
	for _, item := range args.Items {
		putUint32(data, item.SlotIndex, &offset)
		putUint64(data, item.Amount, &offset)
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
		readonly(stake.ConfigKey),
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
		metas = append(metas, readonly(item.Validator), writable(slot))
	}

	return solana.Instruction{
		Program:  program,
		Data:     data,
		Accounts: metas,
	}, nil
}

// DelegateReserveInstructionArgsFromBinary decodes the item payload. The
// validator of each item is only present in the account references, so
// Validator is left unset.
func DelegateReserveInstructionArgsFromBinary(data []byte) (*DelegateReserveInstructionArgs, error) {
	count, offset, err := itemCountFromBinary(data, InstructionTypeDelegateReserve, DelegateReserveItemSize)
	if err != nil {
		return nil, err
	}

	args := &DelegateReserveInstructionArgs{Items: make([]DelegateReserveItem, count)}
	for i := range args.Items {
		getUint32(data, &args.Items[i].SlotIndex, &offset)
		getUint64(data, &args.Items[i].Amount, &offset)
	}
	return args, nil
}

func itemCountFromBinary(data []byte, expected InstructionType, itemSize int) (uint32, int, error) {
	if len(data) < 1+4 {
		return 0, 0, ErrInvalidInstructionData
	}

	var offset int
	var instructionType InstructionType
	getInstructionType(data, &instructionType, &offset)
	if instructionType != expected {
		return 0, 0, ErrInvalidInstructionData
	}

	var count uint32
	getUint32(data, &count, &offset)
	if len(data) != 1+4+int(count)*itemSize {
		return 0, 0, ErrInvalidInstructionData
	}
	return count, offset, nil
}
