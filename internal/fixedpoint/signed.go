package fixedpoint

import "math/big"

// SignedQ3296 (Fs in the pricing model) is the signed counterpart of Q3296,
// used only where a quantity can go negative, principally the EMA slope.
type SignedQ3296 struct {
	neg bool
	mag Q3296
}

// ZeroSigned is the additive identity.
func ZeroSigned() SignedQ3296 {
	return SignedQ3296{mag: Zero()}
}

// FromSigned builds a SignedQ3296 from an unsigned magnitude and a sign.
func FromSigned(mag Q3296, negative bool) SignedQ3296 {
	if mag.IsZero() {
		negative = false
	}
	return SignedQ3296{neg: negative, mag: mag}
}

// FromFloat64Signed builds a SignedQ3296 from a float64 of either sign.
func FromFloat64Signed(v float64) SignedQ3296 {
	if v < 0 {
		return SignedQ3296{neg: true, mag: FromFloat64(-v)}
	}
	return SignedQ3296{mag: FromFloat64(v)}
}

// Sub returns a-b, allowing the result to go negative (unlike Q3296.Sub).
func (a SignedQ3296) Sub(b SignedQ3296) SignedQ3296 {
	return a.Add(SignedQ3296{neg: !b.neg, mag: b.mag})
}

// Add returns a+b.
func (a SignedQ3296) Add(b SignedQ3296) SignedQ3296 {
	if a.neg == b.neg {
		return FromSigned(a.mag.Add(b.mag), a.neg)
	}
	if a.mag.Cmp(b.mag) >= 0 {
		return FromSigned(a.mag.Sub(b.mag), a.neg)
	}
	return FromSigned(b.mag.Sub(a.mag), b.neg)
}

// MulDiv scales the magnitude by num/den truncated, preserving sign.
func (a SignedQ3296) MulDiv(num, den uint64) SignedQ3296 {
	return FromSigned(a.mag.MulDiv(num, den), a.neg)
}

// IsNegative reports whether the value is strictly less than zero.
func (a SignedQ3296) IsNegative() bool {
	return a.neg && !a.mag.IsZero()
}

// IsZero reports whether the value is exactly zero.
func (a SignedQ3296) IsZero() bool {
	return a.mag.IsZero()
}

// Cmp compares a to b: -1, 0, 1.
func (a SignedQ3296) Cmp(b SignedQ3296) int {
	diff := a.Sub(b)
	if diff.IsZero() {
		return 0
	}
	if diff.IsNegative() {
		return -1
	}
	return 1
}

// Float64 renders the value as a float64 for reporting/diagnostics.
func (a SignedQ3296) Float64() float64 {
	v := a.mag.Float64()
	if a.neg {
		return -v
	}
	return v
}

// ToUnsigned drops the sign, returning the unsigned magnitude. Callers must
// only use this when the value is known non-negative (e.g. a price).
func (a SignedQ3296) ToUnsigned() Q3296 {
	return a.mag
}

// FromUnsigned lifts a Q3296 into the signed domain as a non-negative value.
func FromUnsigned(v Q3296) SignedQ3296 {
	return SignedQ3296{mag: v}
}

// BigInt renders the signed raw Q32.96 integer, for persistence.
func (a SignedQ3296) BigInt() *big.Int {
	b := a.mag.raw.ToBig()
	if a.neg {
		b.Neg(b)
	}
	return b
}
