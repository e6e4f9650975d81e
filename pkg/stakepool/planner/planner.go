// Package planner turns a state snapshot into delegate, merge and unstake
// plans. Planning is pure: the same roster always yields the same plan, and
// nothing here touches the ledger.
package planner

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
)

// Delegation moves Amount lamports from the reserve into a validator's slot.
type Delegation struct {
	Validator ed25519.PublicKey
	SlotIndex uint32
	Amount    uint64
}

// Merge folds the validator's ExtraIndex slot into MainIndex.
type Merge struct {
	Validator  ed25519.PublicKey
	MainIndex  uint32
	ExtraIndex uint32
}

// Unstake names a slot whose delegation should be torn down.
type Unstake struct {
	Validator ed25519.PublicKey
	SlotIndex uint32
	Active    uint64
}

type Planner struct {
	log *logrus.Entry

	minDelegation uint64
}

func New(minDelegation uint64) *Planner {
	return &Planner{
		log:           logrus.StandardLogger().WithField("type", "stakepool/planner"),
		minDelegation: minDelegation,
	}
}

// PlanDelegation spreads amount across the roster toward an even per
// validator balance. The roster is walked once in stored order. A delegation
// that would strand a remainder smaller than the minimum absorbs it instead.
//
// The returned plan always sums to amount. When that is impossible a
// *PlanningError is returned and no plan.
func (p *Planner) PlanDelegation(roster []*state.Validator, amount uint64) ([]Delegation, error) {
	log := p.log.WithField("method", "PlanDelegation")

	if len(roster) == 0 {
		return nil, &PlanningError{Reason: ErrEmptyRoster, Unallocated: amount}
	}
	if amount == 0 || amount < p.minDelegation {
		return nil, &PlanningError{Reason: ErrBelowMinimum, Unallocated: amount}
	}

	total := lo.SumBy(roster, func(v *state.Validator) uint64 { return v.Balance }) + amount
	count := uint64(len(roster))
	target := total / count
	if total%count != 0 {
		target++
	}

	var plan []Delegation
	remaining := amount
	for _, validator := range roster {
		if remaining == 0 {
			break
		}
		if validator.Balance >= target {
			continue
		}

		slot, ok := TargetSlot(validator)
		if !ok {
			log.WithField("validator", base58.Encode(validator.Validator)).Debug("no slot can absorb a delegation")
			continue
		}

		delegate := min(target-validator.Balance, remaining)
		if delegate < p.minDelegation {
			delegate = min(p.minDelegation, remaining)
		}
		if leftover := remaining - delegate; leftover > 0 && leftover < p.minDelegation {
			delegate = remaining
		}

		plan = append(plan, Delegation{
			Validator: validator.Validator,
			SlotIndex: slot,
			Amount:    delegate,
		})
		remaining -= delegate
	}

	if remaining > 0 {
		return nil, &PlanningError{Reason: ErrUnallocatedRemainder, Unallocated: remaining}
	}
	return plan, nil
}

// PlanMerges pairs the first active slot of each validator with every later
// active slot. Slots in any other state are left alone.
func (p *Planner) PlanMerges(roster []*state.Validator) []Merge {
	var plan []Merge
	for _, validator := range roster {
		active := lo.Filter(validator.Slots, func(s *state.Slot, _ int) bool {
			return s.State == stake.ActivationStateActive
		})
		if len(active) < 2 {
			continue
		}

		for _, extra := range active[1:] {
			plan = append(plan, Merge{
				Validator:  validator.Validator,
				MainIndex:  active[0].Index,
				ExtraIndex: extra.Index,
			})
		}
	}
	return plan
}

// PlanUnstakes returns every slot that still carries active stake and is
// either active or activating.
func (p *Planner) PlanUnstakes(roster []*state.Validator) []Unstake {
	var plan []Unstake
	for _, validator := range roster {
		for _, slot := range validator.Slots {
			if slot.Active == 0 {
				continue
			}
			if slot.State != stake.ActivationStateActive && slot.State != stake.ActivationStateActivating {
				continue
			}

			plan = append(plan, Unstake{
				Validator: validator.Validator,
				SlotIndex: slot.Index,
				Active:    slot.Active,
			})
		}
	}
	return plan
}

// TargetSlot picks the slot a new delegation for the validator should land
// in: an activating slot with no active stake yet, else the first empty slot.
func TargetSlot(validator *state.Validator) (uint32, bool) {
	slot, ok := lo.Find(validator.Slots, func(s *state.Slot) bool {
		return s.State == stake.ActivationStateActivating && s.Active == 0
	})
	if ok {
		return slot.Index, true
	}
	return FreeSlot(validator)
}

// FreeSlot returns the first slot that holds no stake account.
func FreeSlot(validator *state.Validator) (uint32, bool) {
	slot, ok := lo.Find(validator.Slots, func(s *state.Slot) bool {
		return s.State == stake.ActivationStateUninitialized
	})
	if !ok {
		return 0, false
	}
	return slot.Index, true
}
