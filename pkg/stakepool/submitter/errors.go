package submitter

import (
	"fmt"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
)

// SubmissionRejected is returned when the ledger refuses a transaction, either
// during preflight or after it landed. ProgramCode is the program's custom
// error code exactly as reported.
type SubmissionRejected struct {
	Signature      solana.Signature
	Err            error
	ProgramCode    uint32
	HasProgramCode bool
}

func newSubmissionRejected(sig solana.Signature, txErr *solana.TransactionError) *SubmissionRejected {
	rejected := &SubmissionRejected{
		Signature: sig,
		Err:       txErr,
	}
	rejected.ProgramCode, rejected.HasProgramCode = txErr.CustomErrorCode()
	return rejected
}

func (e *SubmissionRejected) Error() string {
	if !e.HasProgramCode {
		return fmt.Sprintf("transaction %s rejected: %v", e.Signature, e.Err)
	}

	code, _ := stakepool.GetErrorCode(e.ProgramCode)
	return fmt.Sprintf("transaction %s rejected with program error %d (%s): %v", e.Signature, e.ProgramCode, code, e.Err)
}

func (e *SubmissionRejected) Unwrap() error {
	return e.Err
}

// ConfirmationTimeout is returned when a submitted transaction was not seen at
// the requested commitment in time. The transaction may still land.
type ConfirmationTimeout struct {
	Signature solana.Signature
}

func (e *ConfirmationTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for confirmation of %s", e.Signature)
}

// SubmissionUnconfirmed is returned when a signed transaction was handed to
// the ledger but its outcome could not be observed: the submit call itself
// failed, or the caller gave up before confirmation. The transaction may
// have landed.
type SubmissionUnconfirmed struct {
	Signature solana.Signature
	Err       error
}

func (e *SubmissionUnconfirmed) Error() string {
	return fmt.Sprintf("outcome of %s unknown: %v", e.Signature, e.Err)
}

func (e *SubmissionUnconfirmed) Unwrap() error {
	return e.Err
}
