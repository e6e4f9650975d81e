package stakepool

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMath_EmptyPool(t *testing.T) {
	pool := &PoolAccount{FeeNumerator: 3, FeeDenominator: 100}

	shares, err := pool.SharesForDeposit(1_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000, shares)

	fee, err := pool.FeeShares(shares)
	require.NoError(t, err)
	assert.EqualValues(t, 30, fee)

	_, err = pool.LamportsForShares(10)
	assert.ErrorIs(t, err, ErrCalculationFailure)
}

func TestPoolMath_Proportional(t *testing.T) {
	pool := &PoolAccount{StakeTotal: 3_000, PoolTotal: 2_000}

	shares, err := pool.SharesForDeposit(300)
	require.NoError(t, err)
	assert.EqualValues(t, 200, shares)

	shares, err = pool.SharesForWithdrawal(301)
	require.NoError(t, err)
	assert.EqualValues(t, 200, shares)

	lamports, err := pool.LamportsForShares(200)
	require.NoError(t, err)
	assert.EqualValues(t, 300, lamports)

	fee, err := pool.FeeShares(200)
	require.NoError(t, err)
	assert.Zero(t, fee)
}

func TestPoolMath_WideIntermediate(t *testing.T) {
	pool := &PoolAccount{StakeTotal: math.MaxUint64, PoolTotal: math.MaxUint64 / 2}

	shares, err := pool.SharesForDeposit(math.MaxUint64)
	require.NoError(t, err)
	assert.EqualValues(t, uint64(math.MaxUint64/2), shares)

	pool = &PoolAccount{StakeTotal: 1, PoolTotal: 2}
	_, err = pool.SharesForDeposit(math.MaxUint64)
	assert.ErrorIs(t, err, ErrCalculationFailure)
}
