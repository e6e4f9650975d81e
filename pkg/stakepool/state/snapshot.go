package state

import (
	"crypto/ed25519"

	"github.com/samber/lo"

	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
)

// Slot is the observed state of one stake slot. State is
// stake.ActivationStateUnknown when the slot could not be classified.
type Slot struct {
	Index    uint32
	Address  ed25519.PublicKey
	State    stake.ActivationState
	Lamports uint64
	Active   uint64
	Inactive uint64
}

// InUse reports whether the slot holds a stake account.
func (s *Slot) InUse() bool {
	return s.State != stake.ActivationStateUninitialized && s.State != stake.ActivationStateUnknown
}

// Validator is a roster entry together with its probed slots, in index order.
type Validator struct {
	stakepool.ValidatorEntry

	Slots []*Slot
}

// Slot returns the probed slot at index, or nil.
func (v *Validator) Slot(index uint32) *Slot {
	slot, _ := lo.Find(v.Slots, func(s *Slot) bool { return s.Index == index })
	return slot
}

// SlotsInUse returns how many probed slots hold a stake account.
func (v *Validator) SlotsInUse() int {
	return lo.CountBy(v.Slots, func(s *Slot) bool { return s.InUse() })
}

// Snapshot is one point in time view of the pool. It is never updated in
// place; every mutation is followed by a fresh read.
type Snapshot struct {
	Epoch           uint64
	Pool            *stakepool.PoolAccount
	Authorities     *stakepool.Authorities
	ReserveLamports uint64
	Roster          []*Validator
	Creditors       []stakepool.Creditor
}

// EpochStale reports whether the pool's bookkeeping predates the current
// epoch.
func (s *Snapshot) EpochStale() bool {
	return s.Pool.LastEpochUpdate < s.Epoch
}

// StaleValidators returns the roster entries not yet refreshed this epoch.
func (s *Snapshot) StaleValidators() []*Validator {
	return lo.Filter(s.Roster, func(v *Validator, _ int) bool {
		return v.LastUpdateEpoch < s.Epoch
	})
}

// Entries returns the plain roster records.
func (s *Snapshot) Entries() []stakepool.ValidatorEntry {
	return lo.Map(s.Roster, func(v *Validator, _ int) stakepool.ValidatorEntry {
		return v.ValidatorEntry
	})
}
