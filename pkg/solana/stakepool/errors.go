package stakepool

import "fmt"

// ErrorCode is the custom error code returned by the stake pool program.
type ErrorCode uint32

const (
	ErrorCodeAlreadyInUse ErrorCode = iota
	ErrorCodeInvalidProgramAddress
	ErrorCodeInvalidState
	ErrorCodeCalculationFailure
	ErrorCodeFeeTooHigh
	ErrorCodeWrongAccountMint
	ErrorCodeNonZeroBalance
	ErrorCodeWrongOwner
	ErrorCodeSignatureMissing
	ErrorCodeInvalidValidatorStakeList
	ErrorCodeInvalidFeeAccount
	ErrorCodeWrongPoolMint
	ErrorCodeWrongStakeState
	ErrorCodeUserStakeNotActive
	ErrorCodeValidatorAlreadyAdded
	ErrorCodeValidatorNotFound
	ErrorCodeInvalidStakeAccountAddress
	ErrorCodeStakeListOutOfDate
	ErrorCodeStakeListAndPoolOutOfDate
	ErrorCodeUnknownValidatorStakeAccount
	ErrorCodeWrongMintingAuthority
	ErrorCodeMintHasInitialSupply
	ErrorCodeAccountNotRentExempt
	ErrorCodeValidatorListOverflow
	ErrorCodeValidatorHasStakes
	ErrorCodeFirstDepositIsTooSmall
	ErrorCodeWrongCreditOwner
	ErrorCodeWrongCreditState
	ErrorCodeInvalidStakeIndex
)

var errorCodeNames = [...]struct {
	name    string
	message string
}{
	{"AlreadyInUse", "The account cannot be initialized because it is already being used"},
	{"InvalidProgramAddress", "The program address provided doesn't match the value generated by the program"},
	{"InvalidState", "The stake pool state is invalid"},
	{"CalculationFailure", "The calculation failed"},
	{"FeeTooHigh", "Stake pool fee > 1"},
	{"WrongAccountMint", "Token account is associated with the wrong mint"},
	{"NonZeroBalance", "Account balance should be zero"},
	{"WrongOwner", "Wrong pool owner account"},
	{"SignatureMissing", "Required signature is missing"},
	{"InvalidValidatorStakeList", "Invalid validator stake list account"},
	{"InvalidFeeAccount", "Invalid owner fee account"},
	{"WrongPoolMint", "Specified pool mint account is wrong"},
	{"WrongStakeState", "Stake account is not in the state expected by the program"},
	{"UserStakeNotActive", "User stake is not active"},
	{"ValidatorAlreadyAdded", "Stake account voting for this validator already exists in the pool"},
	{"ValidatorNotFound", "Stake account for this validator not found in the pool"},
	{"InvalidStakeAccountAddress", "Stake account address not properly derived from the validator address"},
	{"StakeListOutOfDate", "Identify validator stake accounts with old balances and update them"},
	{"StakeListAndPoolOutOfDate", "First update old validator stake account balances and then pool stake balance"},
	{"UnknownValidatorStakeAccount", "Validator stake account is not found in the list storage"},
	{"WrongMintingAuthority", "Wrong minting authority set for mint pool account"},
	{"MintHasInitialSupply", "Initial supply of mint is non zero"},
	{"AccountNotRentExempt", "Account is not rent-exempt"},
	{"ValidatorListOverflow", "Validator list is full. Can't add more validators"},
	{"ValidatorHasStakes", "Withdraw all stakes before validator removal"},
	{"FirstDepositIsTooSmall", "First deposit must be at least enough for rent"},
	{"WrongCreditOwner", "Wrong credit owner"},
	{"WrongCreditState", "Wrong credit state"},
	{"InvalidStakeIndex", "Invalid stake index"},
}

// GetErrorCode maps a custom program error to a known ErrorCode.
func GetErrorCode(code uint32) (ErrorCode, bool) {
	if int(code) >= len(errorCodeNames) {
		return 0, false
	}
	return ErrorCode(code), true
}

func (e ErrorCode) String() string {
	if int(e) >= len(errorCodeNames) {
		return fmt.Sprintf("ErrorCode(%d)", uint32(e))
	}
	return errorCodeNames[e].name
}

// Message is the program's log message for the code.
func (e ErrorCode) Message() string {
	if int(e) >= len(errorCodeNames) {
		return "unknown stake pool error"
	}
	return errorCodeNames[e].message
}

func (e ErrorCode) Error() string {
	return fmt.Sprintf("%s: %s", e.String(), e.Message())
}
