package driver

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/planner"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
)

// Refresh brings the pool's bookkeeping up to the current epoch: merges, then
// validator balances, then the pool balance. Nothing is submitted when the
// pool was already updated this epoch, unless force is set.
func (d *Driver) Refresh(ctx context.Context, force bool) error {
	ctx, cycle := newCycle(ctx)
	log := d.log.WithFields(logrus.Fields{
		"method": "Refresh",
		"cycle":  cycle,
	})

	snapshot, err := d.reader.ReadSnapshot(ctx)
	if err != nil {
		return err
	}
	if !force && !snapshot.EpochStale() {
		log.WithField("epoch", snapshot.Epoch).Debug("pool already refreshed this epoch")
		return nil
	}

	if err := d.MergeAll(ctx); err != nil {
		return err
	}
	if err := d.UpdateValidatorBalances(ctx); err != nil {
		return err
	}
	if err := d.UpdatePoolBalance(ctx); err != nil {
		return err
	}

	log.WithField("epoch", snapshot.Epoch).Info("pool refreshed")
	return nil
}

// MergeAll folds every validator's extra active slots into its first active
// slot.
func (d *Driver) MergeAll(ctx context.Context) error {
	_, err := d.run(ctx, journal.StepMerge, false, d.planMerges)
	return err
}

func (d *Driver) planMerges(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
	merges := d.planner.PlanMerges(snapshot.Roster)
	if len(merges) == 0 {
		return nil, nil
	}

	instructions, _, err := d.fit(len(merges), func(k int) ([]solana.Instruction, error) {
		instruction, err := stakepool.NewMergeStakesInstruction(
			d.program,
			&stakepool.MergeStakesInstructionAccounts{
				Pool:             d.pool,
				ValidatorList:    snapshot.Pool.ValidatorList,
				DepositAuthority: snapshot.Authorities.Deposit,
			},
			&stakepool.MergeStakesInstructionArgs{
				Items: lo.Map(merges[:k], func(m planner.Merge, _ int) stakepool.MergeStakesItem {
					return stakepool.MergeStakesItem{
						Validator:  m.Validator,
						MainIndex:  m.MainIndex,
						ExtraIndex: m.ExtraIndex,
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
	return &batch{instructions: instructions}, nil
}

// UpdateValidatorBalances refreshes every validator not yet updated this
// epoch, a few validators per instruction and as many as fit per transaction.
func (d *Driver) UpdateValidatorBalances(ctx context.Context) error {
	_, err := d.run(ctx, journal.StepRefresh, false, d.planValidatorUpdates)
	return err
}

// planValidatorUpdates takes as many stale validators as fit in one
// transaction, at most validatorsPerUpdate per instruction. Each validator
// references its vote account and every slot in use, so busy validators
// leave room for fewer.
func (d *Driver) planValidatorUpdates(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
	stale := snapshot.StaleValidators()
	if len(stale) == 0 {
		return nil, nil
	}

	instructions, _, err := d.fit(len(stale), func(k int) ([]solana.Instruction, error) {
		chunks := lo.Chunk(stale[:k], validatorsPerUpdate)
		instructions := make([]solana.Instruction, 0, len(chunks))
		for _, chunk := range chunks {
			instruction, err := stakepool.NewUpdateValidatorBalancesInstruction(
				d.program,
				&stakepool.UpdateValidatorBalancesInstructionAccounts{
					Pool:              d.pool,
					ValidatorList:     snapshot.Pool.ValidatorList,
					WithdrawAuthority: snapshot.Authorities.Withdraw,
					Reserve:           snapshot.Authorities.Reserve,
				},
				&stakepool.UpdateValidatorBalancesInstructionArgs{
					Validators: lo.Map(chunk, func(v *state.Validator, _ int) stakepool.UpdateValidatorBalancesItem {
						return stakepool.UpdateValidatorBalancesItem{
							Validator:  v.Validator,
							StakeCount: v.StakeCount,
						}
					}),
				},
			)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions, instruction)
		}
		return instructions, nil
	})
	if err != nil {
		return nil, err
	}
	return &batch{instructions: instructions}, nil
}

// UpdatePoolBalance recomputes the pool's stake total once every validator is
// up to date.
func (d *Driver) UpdatePoolBalance(ctx context.Context) error {
	_, err := d.run(ctx, journal.StepRefresh, false, d.planPoolUpdate)
	return err
}

func (d *Driver) planPoolUpdate(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
	if !snapshot.EpochStale() || len(snapshot.StaleValidators()) > 0 {
		return nil, nil
	}

	return &batch{
		instructions: []solana.Instruction{
			stakepool.NewUpdatePoolBalanceInstruction(d.program, &stakepool.UpdatePoolBalanceInstructionAccounts{
				Pool:          d.pool,
				ValidatorList: snapshot.Pool.ValidatorList,
				Reserve:       snapshot.Authorities.Reserve,
			}),
		},
	}, nil
}
