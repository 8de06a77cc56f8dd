package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTruncates(t *testing.T) {
	v, err := New(big.NewInt(1), big.NewInt(2))
	assert.NoError(t, err)
	assert.InDelta(t, 0.5, v.Float64(), 1e-12)
}

func TestNewRejectsZeroDenominator(t *testing.T) {
	_, err := New(big.NewInt(1), big.NewInt(0))
	assert.Error(t, err)
}

func TestSaturatingSub(t *testing.T) {
	a := FromFloat64(1)
	b := FromFloat64(2)
	assert.True(t, a.Sub(b).IsZero())

	c := FromFloat64(3)
	d := FromFloat64(1)
	assert.InDelta(t, 2.0, c.Sub(d).Float64(), 1e-9)
}

func TestAddCommutes(t *testing.T) {
	a := FromFloat64(1.25)
	b := FromFloat64(2.75)
	assert.InDelta(t, a.Add(b).Float64(), b.Add(a).Float64(), 1e-12)
}

func TestFromSqrtPriceX96NonInverse(t *testing.T) {
	// sqrtPriceX96 for price=1.0 is exactly 2^96.
	one := new(big.Int).Lsh(big.NewInt(1), 96)
	v, err := FromSqrtPriceX96(one, false)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, v.Float64(), 1e-9)
}

func TestFromSqrtPriceX96Inverse(t *testing.T) {
	one := new(big.Int).Lsh(big.NewInt(1), 96)
	v, err := FromSqrtPriceX96(one, true)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, v.Float64(), 1e-9)
}

func TestMulDivTruncates(t *testing.T) {
	a := FromFloat64(1)
	assert.InDelta(t, 0.2, a.MulDiv(2, 10).Float64(), 1e-12)
	assert.InDelta(t, 0.475, FromFloat64(9.5).MulDiv(1, 20).Float64(), 1e-12)
}

func TestSqrt(t *testing.T) {
	assert.InDelta(t, 2.0, FromFloat64(4).Sqrt().Float64(), 1e-12)
	assert.InDelta(t, 5.766281297, FromFloat64(33.25).Sqrt().Float64(), 1e-6)
	assert.True(t, Zero().Sqrt().IsZero())
}

func TestSignedMulDivKeepsSign(t *testing.T) {
	v := FromFloat64Signed(-1).MulDiv(2, 10)
	assert.True(t, v.IsNegative())
	assert.InDelta(t, -0.2, v.Float64(), 1e-12)
}

func TestSignedSubGoesNegative(t *testing.T) {
	a := FromFloat64Signed(5)
	b := FromFloat64Signed(6)
	got := a.Sub(b)
	assert.True(t, got.IsNegative())
	assert.InDelta(t, -1.0, got.Float64(), 1e-9)
}

func TestSignedAddCancelsToZero(t *testing.T) {
	a := FromFloat64Signed(-3)
	b := FromFloat64Signed(3)
	assert.True(t, a.Add(b).IsZero())
}
