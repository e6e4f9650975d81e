package stake

import "github.com/pkg/errors"

// ActivationState is the lifecycle stage of a stake account's delegation, as
// reported by the getStakeActivation RPC method.
type ActivationState uint8

const (
	ActivationStateUnknown ActivationState = iota
	ActivationStateUninitialized
	ActivationStateActivating
	ActivationStateActive
	ActivationStateDeactivating
	ActivationStateInactive
)

func (s ActivationState) String() string {
	switch s {
	case ActivationStateUninitialized:
		return "uninitialized"
	case ActivationStateActivating:
		return "activating"
	case ActivationStateActive:
		return "active"
	case ActivationStateDeactivating:
		return "deactivating"
	case ActivationStateInactive:
		return "inactive"
	}
	return "unknown"
}

// ParseActivationState parses the state names used by the RPC API.
func ParseActivationState(s string) (ActivationState, error) {
	switch s {
	case "activating":
		return ActivationStateActivating, nil
	case "active":
		return ActivationStateActive, nil
	case "deactivating":
		return ActivationStateDeactivating, nil
	case "inactive":
		return ActivationStateInactive, nil
	case "uninitialized":
		return ActivationStateUninitialized, nil
	}
	return ActivationStateUnknown, errors.Errorf("unknown activation state %q", s)
}

// EstimateActivation returns the state and effective stake of a delegation at
// epoch, assuming warmup and cooldown complete within a single epoch. It is
// only an approximation of what the cluster reports, which accounts for the
// stake history rate limit.
func (d Delegation) EstimateActivation(epoch uint64) (state ActivationState, active uint64) {
	switch {
	case d.ActivationEpoch == d.DeactivationEpoch:
		return ActivationStateInactive, 0
	case d.DeactivationEpoch != NoEpoch && epoch > d.DeactivationEpoch:
		return ActivationStateInactive, 0
	case d.DeactivationEpoch != NoEpoch && epoch == d.DeactivationEpoch:
		return ActivationStateDeactivating, d.Stake
	case epoch <= d.ActivationEpoch:
		return ActivationStateActivating, 0
	default:
		return ActivationStateActive, d.Stake
	}
}
