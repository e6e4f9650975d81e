package stake

import (
	"crypto/ed25519"
	"math"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana/binary"
)

// AccountSize is the allocation of every stake account.
//
// Reference: https://github.com/solana-labs/solana/blob/v1.18.0/sdk/program/src/stake/state.rs#L38
const AccountSize = 200

// StateTag is the discriminator of a stake account.
type StateTag uint32

const (
	StateUninitialized StateTag = iota
	StateInitialized
	StateStake
	StateRewardsPool
)

func (t StateTag) String() string {
	switch t {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStake:
		return "stake"
	case StateRewardsPool:
		return "rewards_pool"
	}
	return "unknown"
}

// NoEpoch marks a delegation that has not been deactivated.
const NoEpoch = math.MaxUint64

var ErrInvalidAccountData = errors.New("invalid stake account data")

type Lockup struct {
	UnixTimestamp int64
	Epoch         uint64
	Custodian     ed25519.PublicKey
}

type Meta struct {
	RentExemptReserve uint64
	Staker            ed25519.PublicKey
	Withdrawer        ed25519.PublicKey
	Lockup            Lockup
}

type Delegation struct {
	Voter              ed25519.PublicKey
	Stake              uint64
	ActivationEpoch    uint64
	DeactivationEpoch  uint64
	WarmupCooldownRate float64
}

// Account is a decoded stake account. Meta is set for the Initialized and
// Stake states, Delegation only for Stake.
type Account struct {
	State           StateTag
	Meta            *Meta
	Delegation      *Delegation
	CreditsObserved uint64
}

const (
	metaSize       = 8 + 32 + 32 + 8 + 8 + 32
	delegationSize = 32 + 8 + 8 + 8 + 8
)

func (a *Account) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return ErrInvalidAccountData
	}

	var offset int
	var tag uint32
	binary.GetUint32(data, &tag, &offset)
	a.State = StateTag(tag)
	a.Meta = nil
	a.Delegation = nil
	a.CreditsObserved = 0

	switch a.State {
	case StateUninitialized, StateRewardsPool:
		return nil
	case StateInitialized, StateStake:
	default:
		return errors.Wrapf(ErrInvalidAccountData, "unknown state %d", tag)
	}

	if len(data) < offset+metaSize {
		return errors.Wrap(ErrInvalidAccountData, "truncated meta")
	}

	var meta Meta
	binary.GetUint64(data[offset:], &meta.RentExemptReserve, &offset)
	binary.GetKey32(data[offset:], &meta.Staker, &offset)
	binary.GetKey32(data[offset:], &meta.Withdrawer, &offset)
	binary.GetInt64(data[offset:], &meta.Lockup.UnixTimestamp, &offset)
	binary.GetUint64(data[offset:], &meta.Lockup.Epoch, &offset)
	binary.GetKey32(data[offset:], &meta.Lockup.Custodian, &offset)
	a.Meta = &meta

	if a.State == StateInitialized {
		return nil
	}

	if len(data) < offset+delegationSize+8 {
		return errors.Wrap(ErrInvalidAccountData, "truncated delegation")
	}

	var delegation Delegation
	binary.GetKey32(data[offset:], &delegation.Voter, &offset)
	binary.GetUint64(data[offset:], &delegation.Stake, &offset)
	binary.GetUint64(data[offset:], &delegation.ActivationEpoch, &offset)
	binary.GetUint64(data[offset:], &delegation.DeactivationEpoch, &offset)
	binary.GetFloat64(data[offset:], &delegation.WarmupCooldownRate, &offset)
	binary.GetUint64(data[offset:], &a.CreditsObserved, &offset)
	a.Delegation = &delegation

	return nil
}

func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)

	var offset int
	binary.PutUint32(b, uint32(a.State), &offset)

	if a.Meta == nil {
		return b
	}
	binary.PutUint64(b[offset:], a.Meta.RentExemptReserve, &offset)
	binary.PutKey32(b[offset:], a.Meta.Staker, &offset)
	binary.PutKey32(b[offset:], a.Meta.Withdrawer, &offset)
	binary.PutInt64(b[offset:], a.Meta.Lockup.UnixTimestamp, &offset)
	binary.PutUint64(b[offset:], a.Meta.Lockup.Epoch, &offset)
	binary.PutKey32(b[offset:], a.Meta.Lockup.Custodian, &offset)

	if a.Delegation == nil {
		return b
	}
	binary.PutKey32(b[offset:], a.Delegation.Voter, &offset)
	binary.PutUint64(b[offset:], a.Delegation.Stake, &offset)
	binary.PutUint64(b[offset:], a.Delegation.ActivationEpoch, &offset)
	binary.PutUint64(b[offset:], a.Delegation.DeactivationEpoch, &offset)
	binary.PutFloat64(b[offset:], a.Delegation.WarmupCooldownRate, &offset)
	binary.PutUint64(b[offset:], a.CreditsObserved, &offset)

	return b
}
