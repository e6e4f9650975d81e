package stakepool

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidAccountData     = errors.New("unexpected account data")
	ErrInvalidInstructionData = errors.New("unexpected instruction data")
	ErrInvalidArgs            = errors.New("invalid instruction args")
)

const (
	// MaxValidators is the roster capacity the program allocates for.
	MaxValidators = 1000

	// MaxCreditors is the credit queue capacity the program allocates for.
	MaxCreditors = 1000

	// DefaultSlotCapacity is the number of stake slots per validator the
	// program addresses.
	DefaultSlotCapacity = 5
)
