package state

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

var ErrPoolNotFound = errors.New("pool not found")

// DecodeError is returned when an account's bytes do not match the layout this
// client expects. It is never worth retrying, since it indicates a client and
// program layout mismatch.
type DecodeError struct {
	Record  string
	Account ed25519.PublicKey
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s account %s: %v", e.Record, base58.Encode(e.Account), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
