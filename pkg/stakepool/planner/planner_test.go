package planner

import (
	"crypto/ed25519"
	"testing"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
	"github.com/code-payments/stake-pool-server/pkg/testutil"
)

// validator builds a roster entry whose probed slots have the given states.
// A validator with no states has a single empty slot, as the reader reports
// for an entry with no slots in use.
func validator(key ed25519.PublicKey, balance uint64, states ...stake.ActivationState) *state.Validator {
	if len(states) == 0 {
		states = []stake.ActivationState{stake.ActivationStateUninitialized}
	}

	v := &state.Validator{
		ValidatorEntry: stakepool.ValidatorEntry{
			Validator:  key,
			Balance:    balance,
			StakeCount: uint32(len(states)),
		},
	}
	for i, s := range states {
		slot := &state.Slot{Index: uint32(i), State: s}
		if s == stake.ActivationStateActive || s == stake.ActivationStateDeactivating {
			slot.Active = 10
		}
		v.Slots = append(v.Slots, slot)
	}
	return v
}

func sum(plan []Delegation) uint64 {
	return lo.SumBy(plan, func(d Delegation) uint64 { return d.Amount })
}

func TestPlanDelegation_EvenSplit(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)
	roster := []*state.Validator{
		validator(keys[0], 0),
		validator(keys[1], 0),
	}

	plan, err := New(1).PlanDelegation(roster, 10)
	require.NoError(t, err)
	assert.Equal(t, []Delegation{
		{Validator: keys[0], SlotIndex: 0, Amount: 5},
		{Validator: keys[1], SlotIndex: 0, Amount: 5},
	}, plan)
}

func TestPlanDelegation_Errors(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 1)
	p := New(5)

	_, err := p.PlanDelegation(nil, 10)
	var planningErr *PlanningError
	require.True(t, errors.As(err, &planningErr))
	assert.Equal(t, ErrEmptyRoster, planningErr.Reason)
	assert.EqualValues(t, 10, planningErr.Unallocated)

	_, err = p.PlanDelegation([]*state.Validator{validator(keys[0], 0)}, 4)
	require.True(t, errors.As(err, &planningErr))
	assert.True(t, errors.Is(err, ErrBelowMinimum))
	assert.EqualValues(t, 4, planningErr.Unallocated)

	_, err = New(0).PlanDelegation([]*state.Validator{validator(keys[0], 0)}, 0)
	assert.True(t, errors.Is(err, ErrBelowMinimum))
}

func TestPlanDelegation_SkipsBalancedValidators(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 3)
	roster := []*state.Validator{
		validator(keys[0], 100, stake.ActivationStateActive, stake.ActivationStateUninitialized),
		validator(keys[1], 20, stake.ActivationStateActive, stake.ActivationStateUninitialized),
		validator(keys[2], 0),
	}

	// target = ceil((120 + 60) / 3) = 60
	plan, err := New(1).PlanDelegation(roster, 60)
	require.NoError(t, err)
	assert.Equal(t, []Delegation{
		{Validator: keys[1], SlotIndex: 1, Amount: 40},
		{Validator: keys[2], SlotIndex: 0, Amount: 20},
	}, plan)
}

func TestPlanDelegation_FoldsRemainder(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 3)
	roster := []*state.Validator{
		validator(keys[0], 0),
		validator(keys[1], 0),
		validator(keys[2], 0),
	}

	// target = ceil(25 / 3) = 9; after two delegations 7 remain, which is
	// enough for the last validator.
	plan, err := New(5).PlanDelegation(roster, 25)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 9, 7}, lo.Map(plan, func(d Delegation, _ int) uint64 { return d.Amount }))

	// target = ceil(12 / 2) = 6; leaving 6 after the first would be fine, but
	// with a minimum of 7 the first delegation is bumped and takes everything.
	plan, err = New(7).PlanDelegation(roster[:2], 12)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.EqualValues(t, 12, plan[0].Amount)
	assert.EqualValues(t, keys[0], plan[0].Validator)
}

func TestPlanDelegation_SlotChoice(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 1)

	// Prefer the activating slot with no active stake over a free slot
	v := validator(keys[0], 0,
		stake.ActivationStateActive,
		stake.ActivationStateUninitialized,
		stake.ActivationStateActivating,
	)
	plan, err := New(1).PlanDelegation([]*state.Validator{v}, 10)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.EqualValues(t, 2, plan[0].SlotIndex)

	// Partially active activating slots are not reused
	v.Slots[2].Active = 1
	plan, err = New(1).PlanDelegation([]*state.Validator{v}, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, plan[0].SlotIndex)
}

func TestPlanDelegation_FullValidatorSkipped(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)

	full := validator(keys[0], 0,
		stake.ActivationStateActive,
		stake.ActivationStateDeactivating,
		stake.ActivationStateUnknown,
		stake.ActivationStateInactive,
		stake.ActivationStateActive,
	)
	roster := []*state.Validator{full, validator(keys[1], 0)}

	// The full validator is skipped without consuming funds, so the remainder
	// cannot be placed in a single pass.
	plan, err := New(1).PlanDelegation(roster, 10)
	assert.Nil(t, plan)
	var planningErr *PlanningError
	require.True(t, errors.As(err, &planningErr))
	assert.Equal(t, ErrUnallocatedRemainder, planningErr.Reason)
	assert.EqualValues(t, 5, planningErr.Unallocated)

	plan, err = New(1).PlanDelegation(roster[:1], 10)
	assert.Nil(t, plan)
	require.True(t, errors.As(err, &planningErr))
	assert.EqualValues(t, 10, planningErr.Unallocated)
}

func TestPlanDelegation_Conservation(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 4)
	p := New(3)

	for _, balances := range [][]uint64{
		{0, 0, 0, 0},
		{10, 0, 5, 0},
		{100, 100, 100, 100},
		{1, 2, 3, 4},
		{0, 50, 0, 50},
	} {
		for amount := uint64(3); amount < 200; amount += 7 {
			roster := lo.Map(balances, func(balance uint64, i int) *state.Validator {
				return validator(keys[i], balance)
			})

			plan, err := p.PlanDelegation(roster, amount)
			if err != nil {
				var planningErr *PlanningError
				require.True(t, errors.As(err, &planningErr))
				assert.Nil(t, plan)
				assert.NotZero(t, planningErr.Unallocated)
				continue
			}

			assert.Equal(t, amount, sum(plan), "balances=%v amount=%d", balances, amount)
			for _, d := range plan {
				assert.True(t, d.Amount >= 3, "balances=%v amount=%d", balances, amount)
			}
		}
	}
}

func TestPlanDelegation_Deterministic(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 5)
	roster := lo.Map(keys, func(key ed25519.PublicKey, i int) *state.Validator {
		return validator(key, uint64(i*7))
	})

	p := New(2)
	expected, err := p.PlanDelegation(roster, 97)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		actual, err := p.PlanDelegation(roster, 97)
		require.NoError(t, err)
		assert.Equal(t, expected, actual)
	}
}

func TestPlanMerges(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 3)
	roster := []*state.Validator{
		validator(keys[0], 0,
			stake.ActivationStateActive,
			stake.ActivationStateActivating,
			stake.ActivationStateActive,
			stake.ActivationStateActive,
		),
		validator(keys[1], 0,
			stake.ActivationStateActivating,
			stake.ActivationStateActive,
		),
		validator(keys[2], 0,
			stake.ActivationStateUnknown,
			stake.ActivationStateDeactivating,
			stake.ActivationStateActive,
		),
	}

	assert.Equal(t, []Merge{
		{Validator: keys[0], MainIndex: 0, ExtraIndex: 2},
		{Validator: keys[0], MainIndex: 0, ExtraIndex: 3},
	}, New(1).PlanMerges(roster))

	assert.Empty(t, New(1).PlanMerges(roster[1:]))
	assert.Empty(t, New(1).PlanMerges(nil))
}

func TestPlanUnstakes(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)
	roster := []*state.Validator{
		validator(keys[0], 0,
			stake.ActivationStateActive,
			stake.ActivationStateInactive,
			stake.ActivationStateDeactivating,
			stake.ActivationStateActivating,
		),
		validator(keys[1], 0,
			stake.ActivationStateUninitialized,
			stake.ActivationStateActivating,
		),
	}
	roster[1].Slots[1].Active = 4

	assert.Equal(t, []Unstake{
		{Validator: keys[0], SlotIndex: 0, Active: 10},
		{Validator: keys[1], SlotIndex: 1, Active: 4},
	}, New(1).PlanUnstakes(roster))

	// Inactive stake never appears, even with a balance
	roster[0].Slots[1].Active = 0
	roster[0].Slots[1].Inactive = 50
	for _, unstake := range New(1).PlanUnstakes(roster) {
		assert.NotEqual(t, uint32(1), unstake.SlotIndex)
	}
}

func TestFreeSlot(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 1)

	index, ok := FreeSlot(validator(keys[0], 0, stake.ActivationStateActive, stake.ActivationStateUninitialized))
	assert.True(t, ok)
	assert.EqualValues(t, 1, index)

	_, ok = FreeSlot(validator(keys[0], 0, stake.ActivationStateActive))
	assert.False(t, ok)
}
