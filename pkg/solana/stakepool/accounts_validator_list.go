package stakepool

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	ValidatorListHeaderSize = (1 + // version
		2) // count

	ValidatorEntrySize = (32 + // validator
		8 + // balance
		8 + // last_update_epoch
		4) // stake_count

	// ValidatorListAccountSize is the allocation for a full roster.
	ValidatorListAccountSize = ValidatorListHeaderSize + MaxValidators*ValidatorEntrySize
)

// ValidatorEntry is one roster element. Slots [0, StakeCount) may be in use,
// though any of them can be empty on the ledger.
type ValidatorEntry struct {
	Validator       ed25519.PublicKey
	Balance         uint64
	LastUpdateEpoch uint64
	StakeCount      uint32
}

// ValidatorListAccount is the pool's roster, in stored order.
type ValidatorListAccount struct {
	Version    uint8
	Validators []ValidatorEntry
}

// Marshal encodes the roster compactly, with no trailing capacity.
func (obj *ValidatorListAccount) Marshal() []byte {
	data := make([]byte, ValidatorListHeaderSize+len(obj.Validators)*ValidatorEntrySize)

	var offset int
	putUint8(data, obj.Version, &offset)
	putUint16(data, uint16(len(obj.Validators)), &offset)
	for _, entry := range obj.Validators {
		putKey(data, entry.Validator, &offset)
		putUint64(data, entry.Balance, &offset)
		putUint64(data, entry.LastUpdateEpoch, &offset)
		putUint32(data, entry.StakeCount, &offset)
	}

	return data
}

func (obj *ValidatorListAccount) Unmarshal(data []byte) error {
	if len(data) < ValidatorListHeaderSize {
		return errors.Wrapf(ErrInvalidAccountData, "validator list is %d bytes", len(data))
	}

	var offset int
	var count uint16
	getUint8(data, &obj.Version, &offset)
	getUint16(data, &count, &offset)

	if len(data) < ValidatorListHeaderSize+int(count)*ValidatorEntrySize {
		return errors.Wrapf(ErrInvalidAccountData, "validator list holds %d entries in %d bytes", count, len(data))
	}

	obj.Validators = make([]ValidatorEntry, count)
	for i := range obj.Validators {
		entry := &obj.Validators[i]
		getKey(data, &entry.Validator, &offset)
		getUint64(data, &entry.Balance, &offset)
		getUint64(data, &entry.LastUpdateEpoch, &offset)
		getUint32(data, &entry.StakeCount, &offset)
	}

	return nil
}

// Find returns the roster index of validator, or -1.
func (obj *ValidatorListAccount) Find(validator ed25519.PublicKey) int {
	for i, entry := range obj.Validators {
		if entry.Validator.Equal(validator) {
			return i
		}
	}
	return -1
}

func (obj *ValidatorListAccount) String() string {
	entries := make([]string, len(obj.Validators))
	for i, entry := range obj.Validators {
		entries[i] = entry.String()
	}
	return fmt.Sprintf("ValidatorList{version=%d,validators=[%s]}", obj.Version, strings.Join(entries, ","))
}

func (obj ValidatorEntry) String() string {
	return fmt.Sprintf(
		"ValidatorEntry{validator=%s,balance=%d,last_update_epoch=%d,stake_count=%d}",
		base58.Encode(obj.Validator),
		obj.Balance,
		obj.LastUpdateEpoch,
		obj.StakeCount,
	)
}
