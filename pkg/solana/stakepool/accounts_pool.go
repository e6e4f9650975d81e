package stakepool

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	PoolAccountSize = (1 + // version
		32 + // owner
		2 + // padding
		32 + // validator_stake_list
		32 + // credit_list
		32 + // pool_mint
		32 + // owner_fee_account
		32 + // credit_reserve
		32 + // token_program_id
		5 + // padding
		8 + // stake_total
		8 + // pool_total
		8 + // last_epoch_update
		8 + // fee_denominator
		8) // fee_numerator
)

// PoolAccount is the pool's metadata record. A zero Version means the account
// was allocated but never initialized.
type PoolAccount struct {
	Version         uint8
	Owner           ed25519.PublicKey
	ValidatorList   ed25519.PublicKey
	CreditList      ed25519.PublicKey
	PoolMint        ed25519.PublicKey
	OwnerFeeAccount ed25519.PublicKey
	CreditReserve   ed25519.PublicKey
	TokenProgram    ed25519.PublicKey
	StakeTotal      uint64
	PoolTotal       uint64
	LastEpochUpdate uint64
	FeeDenominator  uint64
	FeeNumerator    uint64
}

func (obj *PoolAccount) Marshal() []byte {
	data := make([]byte, PoolAccountSize)

	var offset int
	putUint8(data, obj.Version, &offset)
	putKey(data, obj.Owner, &offset)
	offset += 2 // padding
	putKey(data, obj.ValidatorList, &offset)
	putKey(data, obj.CreditList, &offset)
	putKey(data, obj.PoolMint, &offset)
	putKey(data, obj.OwnerFeeAccount, &offset)
	putKey(data, obj.CreditReserve, &offset)
	putKey(data, obj.TokenProgram, &offset)
	offset += 5 // padding
	putUint64(data, obj.StakeTotal, &offset)
	putUint64(data, obj.PoolTotal, &offset)
	putUint64(data, obj.LastEpochUpdate, &offset)
	putUint64(data, obj.FeeDenominator, &offset)
	putUint64(data, obj.FeeNumerator, &offset)

	return data
}

func (obj *PoolAccount) Unmarshal(data []byte) error {
	if len(data) < PoolAccountSize {
		return errors.Wrapf(ErrInvalidAccountData, "pool account is %d bytes, expected %d", len(data), PoolAccountSize)
	}

	var offset int
	getUint8(data, &obj.Version, &offset)
	getKey(data, &obj.Owner, &offset)
	offset += 2 // padding
	getKey(data, &obj.ValidatorList, &offset)
	getKey(data, &obj.CreditList, &offset)
	getKey(data, &obj.PoolMint, &offset)
	getKey(data, &obj.OwnerFeeAccount, &offset)
	getKey(data, &obj.CreditReserve, &offset)
	getKey(data, &obj.TokenProgram, &offset)
	offset += 5 // padding
	getUint64(data, &obj.StakeTotal, &offset)
	getUint64(data, &obj.PoolTotal, &offset)
	getUint64(data, &obj.LastEpochUpdate, &offset)
	getUint64(data, &obj.FeeDenominator, &offset)
	getUint64(data, &obj.FeeNumerator, &offset)

	return nil
}

func (obj *PoolAccount) String() string {
	return fmt.Sprintf(
		"Pool{version=%d,owner=%s,validator_list=%s,credit_list=%s,pool_mint=%s,owner_fee_account=%s,credit_reserve=%s,token_program=%s,stake_total=%d,pool_total=%d,last_epoch_update=%d,fee=%d/%d}",
		obj.Version,
		base58.Encode(obj.Owner),
		base58.Encode(obj.ValidatorList),
		base58.Encode(obj.CreditList),
		base58.Encode(obj.PoolMint),
		base58.Encode(obj.OwnerFeeAccount),
		base58.Encode(obj.CreditReserve),
		base58.Encode(obj.TokenProgram),
		obj.StakeTotal,
		obj.PoolTotal,
		obj.LastEpochUpdate,
		obj.FeeNumerator,
		obj.FeeDenominator,
	)
}
