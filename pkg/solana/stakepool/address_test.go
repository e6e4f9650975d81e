package stakepool

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

func TestGetAuthorityAddress(t *testing.T) {
	program, pool := generateKey(t), generateKey(t)

	seen := make(map[string]AuthorityTag)
	for _, tag := range []AuthorityTag{AuthorityDeposit, AuthorityWithdraw, AuthorityReserve, AuthorityTemp} {
		args := &GetAuthorityAddressArgs{Program: program, Pool: pool, Authority: tag}

		address, bump, err := GetAuthorityAddress(args)
		require.NoError(t, err)

		expected, err := solana.CreateProgramAddress(program, pool, []byte(tag), []byte{bump})
		require.NoError(t, err)
		assert.Equal(t, expected, address)

		again, againBump, err := GetAuthorityAddress(args)
		require.NoError(t, err)
		assert.Equal(t, address, again)
		assert.Equal(t, bump, againBump)

		encoded := base58.Encode(address)
		_, collides := seen[encoded]
		assert.False(t, collides, tag)
		seen[encoded] = tag
	}
}

func TestGetStakeAddress(t *testing.T) {
	program, pool, validator := generateKey(t), generateKey(t), generateKey(t)

	seen := make(map[string]uint32)
	for index := uint32(0); index < DefaultSlotCapacity; index++ {
		address, bump, err := GetStakeAddress(&GetStakeAddressArgs{
			Program:   program,
			Validator: validator,
			Pool:      pool,
			Index:     index,
		})
		require.NoError(t, err)

		seed := make([]byte, 4)
		binary.LittleEndian.PutUint32(seed, index)
		expected, err := solana.CreateProgramAddress(program, validator, pool, seed, []byte{bump})
		require.NoError(t, err)
		assert.Equal(t, expected, address)

		encoded := base58.Encode(address)
		_, collides := seen[encoded]
		assert.False(t, collides, index)
		seen[encoded] = index
	}

	other, _, err := GetStakeAddress(&GetStakeAddressArgs{
		Program:   program,
		Validator: generateKey(t),
		Pool:      pool,
	})
	require.NoError(t, err)
	_, collides := seen[base58.Encode(other)]
	assert.False(t, collides)
}

func TestGetAuthorities(t *testing.T) {
	program, pool := generateKey(t), generateKey(t)

	authorities, err := GetAuthorities(program, pool)
	require.NoError(t, err)

	for tag, actual := range map[AuthorityTag]ed25519.PublicKey{
		AuthorityDeposit:  authorities.Deposit,
		AuthorityWithdraw: authorities.Withdraw,
		AuthorityReserve:  authorities.Reserve,
		AuthorityTemp:     authorities.Temp,
	} {
		expected, _, err := GetAuthorityAddress(&GetAuthorityAddressArgs{Program: program, Pool: pool, Authority: tag})
		require.NoError(t, err)
		assert.Equal(t, expected, actual, tag)
	}
}

func generateKey(t *testing.T) ed25519.PublicKey {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub
}
