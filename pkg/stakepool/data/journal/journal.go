package journal

import (
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/pointer"
)

type Status uint8

const (
	StatusUnknown     Status = iota
	StatusPending            // Submitted, confirmation not yet observed
	StatusConfirmed          // Reached the configured commitment without error
	StatusRejected           // Refused by preflight or failed on the ledger
	StatusTimeout            // Confirmation not observed in time, may still have landed
	StatusUnconfirmed        // Send failed or was abandoned after signing, may still have landed
)

type Step string

const (
	StepCreatePool    Step = "create-pool"
	StepAddValidators Step = "add-validators"
	StepRefresh       Step = "refresh"
	StepMerge         Step = "merge"
	StepDelegate      Step = "delegate"
	StepUnstake       Step = "unstake"
	StepPayCreditors  Step = "pay-creditors"
	StepDeposit       Step = "deposit"
	StepWithdraw      Step = "withdraw"
	StepCredit        Step = "credit"
	StepCancelCredit  Step = "cancel-credit"
	StepReserveTopUp  Step = "reserve-top-up"
)

type Record struct {
	Id uint64

	CycleId   string
	Step      Step
	Signature string

	Instructions uint32

	Status      Status
	ProgramCode *uint32
	Error       *string

	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

func (r *Record) Validate() error {
	if len(r.CycleId) == 0 {
		return errors.New("cycle id is required")
	}

	if len(r.Step) == 0 {
		return errors.New("step is required")
	}

	if len(r.Signature) == 0 {
		return errors.New("signature is required")
	}

	if r.Instructions == 0 {
		return errors.New("instruction count is required")
	}

	switch r.Status {
	case StatusUnknown:
		return errors.New("status is required")
	case StatusConfirmed:
		if r.ConfirmedAt == nil || r.ConfirmedAt.IsZero() {
			return errors.New("confirmation timestamp is required")
		}
	default:
		if r.ConfirmedAt != nil {
			return errors.New("confirmation timestamp cannot be set")
		}
	}

	if r.ProgramCode != nil && r.Status != StatusRejected {
		return errors.New("program code can only be set on rejected submissions")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		CycleId:   r.CycleId,
		Step:      r.Step,
		Signature: r.Signature,

		Instructions: r.Instructions,

		Status:      r.Status,
		ProgramCode: pointer.Copy(r.ProgramCode),
		Error:       pointer.Copy(r.Error),

		CreatedAt:   r.CreatedAt,
		ConfirmedAt: pointer.Copy(r.ConfirmedAt),
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.CycleId = r.CycleId
	dst.Step = r.Step
	dst.Signature = r.Signature

	dst.Instructions = r.Instructions

	dst.Status = r.Status
	dst.ProgramCode = pointer.Copy(r.ProgramCode)
	dst.Error = pointer.Copy(r.Error)

	dst.CreatedAt = r.CreatedAt
	dst.ConfirmedAt = pointer.Copy(r.ConfirmedAt)
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	case StatusTimeout:
		return "timeout"
	case StatusUnconfirmed:
		return "unconfirmed"
	}
	return "unknown"
}
