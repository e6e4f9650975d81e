package stakepool

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	CreditListHeaderSize = (1 + // version
		2) // count

	CreditorSize = (32 + // target
		32 + // cancel_authority
		8) // amount

	// CreditListAccountSize is the allocation for a full credit queue.
	CreditListAccountSize = CreditListHeaderSize + MaxCreditors*CreditorSize
)

// Creditor is a queued payout. A negative Amount cancels a prior pending
// amount.
type Creditor struct {
	Target          ed25519.PublicKey
	CancelAuthority ed25519.PublicKey
	Amount          int64
}

// CreditListAccount is the pool's credit queue, in payout order.
type CreditListAccount struct {
	Version   uint8
	Creditors []Creditor
}

func (obj *CreditListAccount) Marshal() []byte {
	data := make([]byte, CreditListHeaderSize+len(obj.Creditors)*CreditorSize)

	var offset int
	putUint8(data, obj.Version, &offset)
	putUint16(data, uint16(len(obj.Creditors)), &offset)
	for _, creditor := range obj.Creditors {
		putKey(data, creditor.Target, &offset)
		putKey(data, creditor.CancelAuthority, &offset)
		putInt64(data, creditor.Amount, &offset)
	}

	return data
}

func (obj *CreditListAccount) Unmarshal(data []byte) error {
	if len(data) < CreditListHeaderSize {
		return errors.Wrapf(ErrInvalidAccountData, "credit list is %d bytes", len(data))
	}

	var offset int
	var count uint16
	getUint8(data, &obj.Version, &offset)
	getUint16(data, &count, &offset)

	if len(data) < CreditListHeaderSize+int(count)*CreditorSize {
		return errors.Wrapf(ErrInvalidAccountData, "credit list holds %d entries in %d bytes", count, len(data))
	}

	obj.Creditors = make([]Creditor, count)
	for i := range obj.Creditors {
		creditor := &obj.Creditors[i]
		getKey(data, &creditor.Target, &offset)
		getKey(data, &creditor.CancelAuthority, &offset)
		getInt64(data, &creditor.Amount, &offset)
	}

	return nil
}

func (obj *CreditListAccount) String() string {
	entries := make([]string, len(obj.Creditors))
	for i, creditor := range obj.Creditors {
		entries[i] = fmt.Sprintf(
			"Creditor{target=%s,cancel_authority=%s,amount=%d}",
			base58.Encode(creditor.Target),
			base58.Encode(creditor.CancelAuthority),
			creditor.Amount,
		)
	}
	return fmt.Sprintf("CreditList{version=%d,creditors=[%s]}", obj.Version, strings.Join(entries, ","))
}
