package planner

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrEmptyRoster          = errors.New("roster is empty")
	ErrBelowMinimum         = errors.New("amount is below the minimum delegation")
	ErrUnallocatedRemainder = errors.New("funds remain unallocated")
)

// PlanningError reports why no plan could be produced and how much of the
// requested amount could not be placed.
type PlanningError struct {
	Reason      error
	Unallocated uint64
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("%v (%d lamports unallocated)", e.Reason, e.Unallocated)
}

func (e *PlanningError) Unwrap() error {
	return e.Reason
}
