package stakepool

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

type AddValidatorInstructionArgs struct {
	Validators []ed25519.PublicKey
}

func (args *AddValidatorInstructionArgs) Validate() error {
	if len(args.Validators) == 0 {
		return errors.Wrap(ErrInvalidArgs, "no validators")
	}

	seen := make(map[string]struct{}, len(args.Validators))
	for _, validator := range args.Validators {
		if len(validator) != ed25519.PublicKeySize {
			return errors.Wrap(ErrInvalidArgs, "invalid validator key")
		}

		encoded := base58.Encode(validator)
		if _, ok := seen[encoded]; ok {
			return errors.Wrapf(ErrInvalidArgs, "duplicate validator %s", encoded)
		}
		seen[encoded] = struct{}{}
	}
	return nil
}

type AddValidatorInstructionAccounts struct {
	Pool          ed25519.PublicKey
	Owner         ed25519.PublicKey
	ValidatorList ed25519.PublicKey
}

// NewAddValidatorInstructions returns one add-validator instruction per
// validator, in the order given.
func NewAddValidatorInstructions(
	program ed25519.PublicKey,
	accounts *AddValidatorInstructionAccounts,
	args *AddValidatorInstructionArgs,
) ([]solana.Instruction, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, len(args.Validators))
	for i, validator := range args.Validators {
		instructions[i] = solana.Instruction{
			Program: program,
			Data:    []byte{byte(InstructionTypeAddValidator)},
			Accounts: []solana.AccountMeta{
				readonly(accounts.Pool),
				signer(accounts.Owner),
				writable(accounts.ValidatorList),
				readonly(validator),
				readonly(system.ClockSysVar),
			},
		}
	}
	return instructions, nil
}
