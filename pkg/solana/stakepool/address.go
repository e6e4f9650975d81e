package stakepool

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

// AuthorityTag names one of the pool's program derived authorities.
type AuthorityTag string

const (
	AuthorityDeposit  AuthorityTag = "deposit"
	AuthorityWithdraw AuthorityTag = "withdraw"
	AuthorityReserve  AuthorityTag = "reserve"
	AuthorityTemp     AuthorityTag = "temp"
)

type GetAuthorityAddressArgs struct {
	Program   ed25519.PublicKey
	Pool      ed25519.PublicKey
	Authority AuthorityTag
}

// GetAuthorityAddress derives the pool's authority address for a role.
func GetAuthorityAddress(args *GetAuthorityAddressArgs) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		args.Program,
		args.Pool,
		[]byte(args.Authority),
	)
}

type GetStakeAddressArgs struct {
	Program   ed25519.PublicKey
	Validator ed25519.PublicKey
	Pool      ed25519.PublicKey
	Index     uint32
}

// GetStakeAddress derives the address of a validator's stake slot.
func GetStakeAddress(args *GetStakeAddressArgs) (ed25519.PublicKey, uint8, error) {
	index := make([]byte, 4)
	binary.LittleEndian.PutUint32(index, args.Index)

	return solana.FindProgramAddressAndBump(
		args.Program,
		args.Validator,
		args.Pool,
		index,
	)
}

// Authorities holds every derived authority of a pool.
type Authorities struct {
	Deposit  ed25519.PublicKey
	Withdraw ed25519.PublicKey
	Reserve  ed25519.PublicKey
	Temp     ed25519.PublicKey
}

// GetAuthorities derives all of the pool's authority addresses.
func GetAuthorities(program, pool ed25519.PublicKey) (*Authorities, error) {
	var res Authorities
	for _, target := range []struct {
		tag AuthorityTag
		dst *ed25519.PublicKey
	}{
		{AuthorityDeposit, &res.Deposit},
		{AuthorityWithdraw, &res.Withdraw},
		{AuthorityReserve, &res.Reserve},
		{AuthorityTemp, &res.Temp},
	} {
		address, _, err := GetAuthorityAddress(&GetAuthorityAddressArgs{
			Program:   program,
			Pool:      pool,
			Authority: target.tag,
		})
		if err != nil {
			return nil, err
		}
		*target.dst = address
	}
	return &res, nil
}
