package stakepool

type InstructionType uint8

const (
	InstructionTypeInitialize              InstructionType = 0
	InstructionTypeAddValidator            InstructionType = 2
	InstructionTypeUpdateValidatorBalances InstructionType = 4
	InstructionTypeUpdatePoolBalance       InstructionType = 5
	InstructionTypeDeposit                 InstructionType = 6
	InstructionTypeWithdraw                InstructionType = 7
	InstructionTypeCredit                  InstructionType = 10
	InstructionTypeCancelCredit            InstructionType = 11
	InstructionTypeDelegateReserve         InstructionType = 12
	InstructionTypeMergeStakes             InstructionType = 13
	InstructionTypeUnstake                 InstructionType = 14
	InstructionTypePayCreditors            InstructionType = 15
)

func (t InstructionType) String() string {
	switch t {
	case InstructionTypeInitialize:
		return "initialize"
	case InstructionTypeAddValidator:
		return "add_validator"
	case InstructionTypeUpdateValidatorBalances:
		return "update_validator_balances"
	case InstructionTypeUpdatePoolBalance:
		return "update_pool_balance"
	case InstructionTypeDeposit:
		return "deposit"
	case InstructionTypeWithdraw:
		return "withdraw"
	case InstructionTypeCredit:
		return "credit"
	case InstructionTypeCancelCredit:
		return "cancel_credit"
	case InstructionTypeDelegateReserve:
		return "delegate_reserve"
	case InstructionTypeMergeStakes:
		return "merge_stakes"
	case InstructionTypeUnstake:
		return "unstake"
	case InstructionTypePayCreditors:
		return "pay_creditors"
	}
	return "unknown"
}

// GetInstructionType returns the opcode of encoded instruction data.
func GetInstructionType(data []byte) (InstructionType, error) {
	if len(data) == 0 {
		return 0, ErrInvalidInstructionData
	}
	return InstructionType(data[0]), nil
}

func putInstructionType(dst []byte, v InstructionType, offset *int) {
	dst[*offset] = uint8(v)
	*offset += 1
}

func getInstructionType(src []byte, dst *InstructionType, offset *int) {
	*dst = InstructionType(src[*offset])
	*offset += 1
}
