// Package fixedpoint implements the deterministic 32.96 fixed-point price
// representation used throughout the pricing and indicator pipeline.
package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"
)

// fractionBits is the width of the fractional part of a Q32.96 value.
const fractionBits = 96

// Q3296 is an unsigned 32.96 fixed-point number: 32 integer bits, 96
// fractional bits, stored as a 256-bit integer so intermediate products never
// overflow before truncation back to the representable range.
type Q3296 struct {
	raw *uint256.Int
}

// Zero is the additive identity.
func Zero() Q3296 {
	return Q3296{raw: uint256.NewInt(0)}
}

// FromRaw wraps an already-scaled Q32.96 integer (numerator over 2^96).
func FromRaw(raw *uint256.Int) Q3296 {
	return Q3296{raw: new(uint256.Int).Set(raw)}
}

// New computes (numerator * 2^96) / denominator, truncated, from two
// arbitrary-precision non-negative integers. denominator must be non-zero.
func New(numerator, denominator *big.Int) (Q3296, error) {
	if denominator.Sign() == 0 {
		return Q3296{}, errDivideByZero
	}
	scaled := new(big.Int).Lsh(numerator, fractionBits)
	scaled.Quo(scaled, denominator)
	raw, overflow := uint256.FromBig(scaled)
	if overflow {
		return Q3296{}, errOverflow
	}
	return Q3296{raw: raw}, nil
}

// FromSqrtPriceX96 converts a Uniswap-v3-style Q64.96 square-root price into
// a Q32.96 price. When inverse is false the result is (sqrtPriceX96/2^96)^2
// expressed in Q32.96; when true it is the reciprocal price.
func FromSqrtPriceX96(sqrtPriceX96 *big.Int, inverse bool) (Q3296, error) {
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	if !inverse {
		// raw = sq / 2^96 (since value = sq/2^192 and raw = value * 2^96)
		raw := new(big.Int).Rsh(sq, fractionBits)
		u, overflow := uint256.FromBig(raw)
		if overflow {
			return Q3296{}, errOverflow
		}
		return Q3296{raw: u}, nil
	}
	if sq.Sign() == 0 {
		return Q3296{}, errDivideByZero
	}
	// raw = 2^(192+96) / sq
	numerator := new(big.Int).Lsh(big.NewInt(1), fractionBits*3)
	raw := new(big.Int).Quo(numerator, sq)
	u, overflow := uint256.FromBig(raw)
	if overflow {
		return Q3296{}, errOverflow
	}
	return Q3296{raw: u}, nil
}

// Add returns a+b.
func (a Q3296) Add(b Q3296) Q3296 {
	return Q3296{raw: new(uint256.Int).Add(a.raw, b.raw)}
}

// Sub returns a saturating difference: if b > a the result is zero rather
// than wrapping.
func (a Q3296) Sub(b Q3296) Q3296 {
	if a.raw.Lt(b.raw) {
		return Zero()
	}
	return Q3296{raw: new(uint256.Int).Sub(a.raw, b.raw)}
}

// Mul returns a*b truncated back to Q32.96. The intermediate product can
// exceed 256 bits so it is computed with big.Int rather than uint256.
func (a Q3296) Mul(b Q3296) Q3296 {
	prod := new(big.Int).Mul(a.raw.ToBig(), b.raw.ToBig())
	prod.Rsh(prod, fractionBits)
	raw, _ := uint256.FromBig(prod)
	return Q3296{raw: raw}
}

// MulDiv returns a*num/den truncated, exact in the intermediate product.
// den must be non-zero.
func (a Q3296) MulDiv(num, den uint64) Q3296 {
	v := new(big.Int).Mul(a.raw.ToBig(), new(big.Int).SetUint64(num))
	v.Quo(v, new(big.Int).SetUint64(den))
	raw, _ := uint256.FromBig(v)
	return Q3296{raw: raw}
}

// Sqrt returns the square root truncated to Q32.96.
func (a Q3296) Sqrt() Q3296 {
	v := new(big.Int).Lsh(a.raw.ToBig(), fractionBits)
	v.Sqrt(v)
	raw, _ := uint256.FromBig(v)
	return Q3296{raw: raw}
}

// Cmp compares a to b: -1, 0, 1.
func (a Q3296) Cmp(b Q3296) int {
	return a.raw.Cmp(b.raw)
}

// IsZero reports whether the value is exactly zero.
func (a Q3296) IsZero() bool {
	return a.raw.IsZero()
}

// Float64 renders the value as a float64, for indicator/reporting use
// only, never for consensus-relevant comparisons.
func (a Q3296) Float64() float64 {
	f := new(big.Float).SetInt(a.raw.ToBig())
	denom := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), fractionBits))
	f.Quo(f, denom)
	out, _ := f.Float64()
	return out
}

// FromFloat64 builds a Q3296 from a float64, rounding toward zero. Intended
// for synthetic/test data and indicator seeding, not for on-chain amounts.
func FromFloat64(v float64) Q3296 {
	if v < 0 {
		v = 0
	}
	bf := new(big.Float).SetFloat64(v)
	scale := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), fractionBits))
	bf.Mul(bf, scale)
	i, _ := bf.Int(nil)
	raw, _ := uint256.FromBig(i)
	return Q3296{raw: raw}
}

// Raw exposes the underlying Q32.96 integer for persistence/serialization.
func (a Q3296) Raw() *uint256.Int {
	return new(uint256.Int).Set(a.raw)
}

type fixedPointError string

func (e fixedPointError) Error() string { return string(e) }

const (
	errDivideByZero = fixedPointError("fixedpoint: division by zero")
	errOverflow     = fixedPointError("fixedpoint: value overflows Q32.96 representation")
)
