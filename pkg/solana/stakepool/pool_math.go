package stakepool

import (
	"math/bits"

	"github.com/pkg/errors"
)

// ErrCalculationFailure mirrors the program's CalculationFailure: a zero
// divisor or a result that does not fit in 64 bits.
var ErrCalculationFailure = errors.New("calculation failure")

// SharesForDeposit returns the pool tokens minted for a deposit of amount
// lamports. An empty pool mints shares one to one.
func (obj *PoolAccount) SharesForDeposit(amount uint64) (uint64, error) {
	if obj.StakeTotal == 0 {
		return amount, nil
	}
	return mulDiv(amount, obj.PoolTotal, obj.StakeTotal)
}

// SharesForWithdrawal returns the pool tokens burned to withdraw amount
// lamports.
func (obj *PoolAccount) SharesForWithdrawal(amount uint64) (uint64, error) {
	return mulDiv(amount, obj.PoolTotal, obj.StakeTotal)
}

// LamportsForShares returns the lamports backing shares pool tokens.
func (obj *PoolAccount) LamportsForShares(shares uint64) (uint64, error) {
	return mulDiv(shares, obj.StakeTotal, obj.PoolTotal)
}

// FeeShares returns the owner's cut of shares.
func (obj *PoolAccount) FeeShares(shares uint64) (uint64, error) {
	if obj.FeeDenominator == 0 {
		return 0, nil
	}
	return mulDiv(shares, obj.FeeNumerator, obj.FeeDenominator)
}

// mulDiv computes a*b/c with a 128 bit intermediate.
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrCalculationFailure
	}

	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrCalculationFailure
	}

	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}
