package driver

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/planner"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
)

// tempStakeSize is the allocation reserved for the temporary stake account
// used when the reserve funds a split.
const tempStakeSize = 10_000

var (
	ErrValidatorNotFound = errors.New("validator not in roster")
	ErrNoFreeSlot        = errors.New("validator has no free slot")
	ErrNoActiveStake     = errors.New("validator has no slot with enough active stake")
)

// MinReserve returns the lamports the reserve keeps back from delegation: the
// configured minimum, but never less than what keeps the reserve and a
// temporary stake account rent exempt.
func (d *Driver) MinReserve(ctx context.Context) (uint64, error) {
	reserveRent, err := d.client.GetMinimumBalanceForRentExemption(ctx, 0)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get reserve rent exemption")
	}
	tempRent, err := d.client.GetMinimumBalanceForRentExemption(ctx, tempStakeSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get stake rent exemption")
	}
	return max(d.conf.MinReserveLamports, reserveRent+tempRent), nil
}

// PayCreditorsBatch pays queued creditors from the reserve, in queue order,
// for as long as the reserve can cover the next creditor.
func (d *Driver) PayCreditorsBatch(ctx context.Context) error {
	reserveRent, err := d.client.GetMinimumBalanceForRentExemption(ctx, 0)
	if err != nil {
		return errors.Wrap(err, "failed to get reserve rent exemption")
	}

	_, err = d.run(ctx, journal.StepPayCreditors, false, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		affordable := affordableCreditors(snapshot.Creditors, snapshot.ReserveLamports, reserveRent)
		count := min(len(affordable), int(d.conf.PayCreditorsBatch))
		if count == 0 {
			if len(snapshot.Creditors) > 0 {
				d.log.WithFields(logrus.Fields{
					"method":    "PayCreditorsBatch",
					"creditors": len(snapshot.Creditors),
					"reserve":   snapshot.ReserveLamports,
				}).Info("reserve cannot cover the next creditor")
			}
			return nil, nil
		}

		instructions, _, err := d.fit(count, func(k int) ([]solana.Instruction, error) {
			instruction, err := stakepool.NewPayCreditorsInstruction(
				d.program,
				&stakepool.PayCreditorsInstructionAccounts{
					Pool:              d.pool,
					CreditList:        snapshot.Pool.CreditList,
					CreditReserve:     snapshot.Pool.CreditReserve,
					WithdrawAuthority: snapshot.Authorities.Withdraw,
					Reserve:           snapshot.Authorities.Reserve,
					PoolMint:          snapshot.Pool.PoolMint,
					TokenProgram:      snapshot.Pool.TokenProgram,
				},
				&stakepool.PayCreditorsInstructionArgs{
					Targets: lo.Map(affordable[:k], func(c stakepool.Creditor, _ int) ed25519.PublicKey {
						return c.Target
					}),
				},
			)
			if err != nil {
				return nil, err
			}
			return []solana.Instruction{instruction}, nil
		})
		if err != nil {
			return nil, err
		}
		return &batch{instructions: instructions}, nil
	})
	return err
}

// affordableCreditors returns the longest queue prefix whose payouts leave
// the reserve rent exempt. Cancelled credits cost nothing.
func affordableCreditors(creditors []stakepool.Creditor, reserve, reserveRent uint64) []stakepool.Creditor {
	if reserve <= reserveRent {
		return nil
	}
	available := reserve - reserveRent

	for i, creditor := range creditors {
		if creditor.Amount <= 0 {
			continue
		}
		if uint64(creditor.Amount) > available {
			return creditors[:i]
		}
		available -= uint64(creditor.Amount)
	}
	return creditors
}

// TopUpReserve deposits the payer's lamports into the reserve when it holds
// less than MinReserve. The minted shares go to the operator token account,
// and nothing happens when none is configured.
func (d *Driver) TopUpReserve(ctx context.Context) error {
	log := d.log.WithField("method", "TopUpReserve")

	destination := d.conf.OperatorToken()
	if destination == nil {
		log.Debug("no operator token account, skipping reserve top up")
		return nil
	}

	minReserve, err := d.MinReserve(ctx)
	if err != nil {
		return err
	}

	_, err = d.run(ctx, journal.StepReserveTopUp, true, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		if snapshot.ReserveLamports >= minReserve {
			return nil, nil
		}

		shortfall := minReserve - snapshot.ReserveLamports
		log.WithFields(logrus.Fields{
			"reserve":   snapshot.ReserveLamports,
			"shortfall": shortfall,
		}).Info("topping up reserve")

		instruction, err := d.depositInstruction(snapshot, shortfall, destination)
		if err != nil {
			return nil, err
		}
		return &batch{instructions: []solana.Instruction{instruction}}, nil
	})
	return err
}

// DelegateBatch spreads amount lamports from the reserve across the roster.
// The plan is recomputed after every submission from what remains, and never
// exceeds what the reserve holds above MinReserve.
func (d *Driver) DelegateBatch(ctx context.Context, amount uint64) error {
	minReserve, err := d.MinReserve(ctx)
	if err != nil {
		return err
	}

	remaining := amount
	_, err = d.run(ctx, journal.StepDelegate, false, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		if remaining == 0 {
			return nil, nil
		}

		var available uint64
		if snapshot.ReserveLamports > minReserve {
			available = snapshot.ReserveLamports - minReserve
		}
		if available < remaining {
			d.log.WithFields(logrus.Fields{
				"method":    "DelegateBatch",
				"requested": remaining,
				"available": available,
			}).Info("reserve holds less than requested, delegating what is available")
			remaining = available
		}
		if remaining == 0 {
			return nil, nil
		}

		plan, err := d.planner.PlanDelegation(snapshot.Roster, remaining)
		if err != nil {
			return nil, err
		}

		instructions, k, err := d.fit(len(plan), func(k int) ([]solana.Instruction, error) {
			instruction, err := stakepool.NewDelegateReserveInstruction(
				d.program,
				&stakepool.DelegateReserveInstructionAccounts{
					Pool:              d.pool,
					ValidatorList:     snapshot.Pool.ValidatorList,
					WithdrawAuthority: snapshot.Authorities.Withdraw,
					DepositAuthority:  snapshot.Authorities.Deposit,
					Reserve:           snapshot.Authorities.Reserve,
				},
				&stakepool.DelegateReserveInstructionArgs{
					Items: lo.Map(plan[:k], func(p planner.Delegation, _ int) stakepool.DelegateReserveItem {
						return stakepool.DelegateReserveItem{
							Validator: p.Validator,
							SlotIndex: p.SlotIndex,
							Amount:    p.Amount,
						}
					}),
				},
			)
			if err != nil {
				return nil, err
			}
			return []solana.Instruction{instruction}, nil
		})
		if err != nil {
			return nil, err
		}

		pending := lo.SumBy(plan[:k], func(p planner.Delegation) uint64 { return p.Amount })
		return &batch{
			instructions: instructions,
			onConfirmed: func() {
				remaining -= pending
			},
		}, nil
	})
	return err
}

// UnstakeAll deactivates every slot carrying active stake.
func (d *Driver) UnstakeAll(ctx context.Context) error {
	_, err := d.run(ctx, journal.StepUnstake, false, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		unstakes := d.planner.PlanUnstakes(snapshot.Roster)
		if len(unstakes) == 0 {
			return nil, nil
		}

		items := lo.Map(unstakes, func(u planner.Unstake, _ int) stakepool.UnstakeItem {
			return stakepool.UnstakeItem{Validator: u.Validator, SlotIndex: u.SlotIndex}
		})
		instructions, _, err := d.fit(len(items), func(k int) ([]solana.Instruction, error) {
			return d.unstakeInstructions(snapshot, items[:k])
		})
		if err != nil {
			return nil, err
		}
		return &batch{instructions: instructions}, nil
	})
	return err
}

// Unstake deactivates stake of one validator. With a zero amount every active
// or activating slot of the validator is deactivated. Otherwise amount
// lamports are split from the first active slot holding enough stake into a
// free slot, which is then deactivated.
func (d *Driver) Unstake(ctx context.Context, validator ed25519.PublicKey, amount uint64) error {
	log := d.log.WithFields(logrus.Fields{
		"method":    "Unstake",
		"validator": base58.Encode(validator),
		"amount":    amount,
	})

	if amount == 0 {
		_, err := d.run(ctx, journal.StepUnstake, false, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
			target, err := findValidator(snapshot, validator)
			if err != nil {
				return nil, err
			}

			unstakes := d.planner.PlanUnstakes([]*state.Validator{target})
			if len(unstakes) == 0 {
				return nil, nil
			}

			items := lo.Map(unstakes, func(u planner.Unstake, _ int) stakepool.UnstakeItem {
				return stakepool.UnstakeItem{Validator: u.Validator, SlotIndex: u.SlotIndex}
			})
			instructions, err := d.unstakeInstructions(snapshot, items)
			if err != nil {
				return nil, err
			}
			return &batch{instructions: instructions}, nil
		})
		return err
	}

	_, err := d.run(ctx, journal.StepUnstake, true, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		target, err := findValidator(snapshot, validator)
		if err != nil {
			return nil, err
		}

		source, ok := lo.Find(target.Slots, func(s *state.Slot) bool {
			return s.State == stake.ActivationStateActive && s.Active > amount
		})
		if !ok {
			return nil, ErrNoActiveStake
		}
		split, ok := planner.FreeSlot(target)
		if !ok {
			return nil, ErrNoFreeSlot
		}

		log.WithFields(logrus.Fields{
			"slot":  source.Index,
			"split": split,
		}).Info("splitting stake for partial unstake")

		instructions, err := d.unstakeInstructions(snapshot, []stakepool.UnstakeItem{{
			Validator:  validator,
			SlotIndex:  source.Index,
			Amount:     amount,
			SplitIndex: split,
		}})
		if err != nil {
			return nil, err
		}
		return &batch{instructions: instructions}, nil
	})
	return err
}

func (d *Driver) unstakeInstructions(snapshot *state.Snapshot, items []stakepool.UnstakeItem) ([]solana.Instruction, error) {
	instruction, err := stakepool.NewUnstakeInstruction(
		d.program,
		&stakepool.UnstakeInstructionAccounts{
			Pool:              d.pool,
			ValidatorList:     snapshot.Pool.ValidatorList,
			WithdrawAuthority: snapshot.Authorities.Withdraw,
			DepositAuthority:  snapshot.Authorities.Deposit,
			Reserve:           snapshot.Authorities.Reserve,
		},
		&stakepool.UnstakeInstructionArgs{Items: items},
	)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{instruction}, nil
}

func findValidator(snapshot *state.Snapshot, validator ed25519.PublicKey) (*state.Validator, error) {
	target, ok := lo.Find(snapshot.Roster, func(v *state.Validator) bool {
		return bytes.Equal(v.Validator, validator)
	})
	if !ok {
		return nil, errors.Wrap(ErrValidatorNotFound, base58.Encode(validator))
	}
	return target, nil
}
