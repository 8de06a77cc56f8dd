package barstore

import (
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

// IndicatorsConfig pins the periods and multipliers used by every pair's
// indicator computation; it is fixed process-wide, not per pair.
type IndicatorsConfig struct {
	EMAPeriod        int
	BollingerPeriod  int
	BollingerSigmaMul int
}

// DefaultIndicatorsConfig is EMA(9) and Bollinger(20, 2-sigma).
func DefaultIndicatorsConfig() IndicatorsConfig {
	return IndicatorsConfig{EMAPeriod: 9, BollingerPeriod: 20, BollingerSigmaMul: 2}
}

// EMA is an exponential moving average sample.
type EMA struct {
	Value fixedpoint.Q3296
	Slope fixedpoint.SignedQ3296
}

// Bollinger is a Bollinger-band sample.
type Bollinger struct {
	SMA      fixedpoint.Q3296
	Upper    fixedpoint.Q3296
	Lower    fixedpoint.Q3296
	SMASlope fixedpoint.SignedQ3296
}

// Indicators bundles the per-bucket derived values. Bollinger is nil when
// fewer than BollingerPeriod prior buckets with data exist.
type Indicators struct {
	EMA       EMA
	Bollinger *Bollinger
}

// NextEMA computes ema(k) given the previous bucket's EMA (nil for the very
// first bucket) and the current bucket's close price, entirely in Q32.96:
// ema = prev + (close - prev) * 2/(period+1).
func NextEMA(prev *EMA, close fixedpoint.Q3296, period int) EMA {
	if prev == nil {
		return EMA{Value: close, Slope: fixedpoint.ZeroSigned()}
	}
	delta := fixedpoint.FromUnsigned(close).Sub(fixedpoint.FromUnsigned(prev.Value))
	step := delta.MulDiv(2, uint64(period+1))
	value := fixedpoint.FromUnsigned(prev.Value).Add(step)
	return EMA{Value: value.ToUnsigned(), Slope: step}
}

// ComputeBollinger computes the Bollinger band from the closes of the most
// recent `period` buckets at or before k (closes ordered oldest-first), and
// the previous bucket's SMA (nil if unavailable). Returns nil if fewer than
// period closes are available. All arithmetic stays in Q32.96; the lower
// band saturates at zero through the fixed-point subtraction.
func ComputeBollinger(closes []fixedpoint.Q3296, prevSMA *fixedpoint.Q3296, period int, sigmaMul int) *Bollinger {
	if len(closes) < period {
		return nil
	}
	window := closes[len(closes)-period:]
	sum := fixedpoint.Zero()
	for _, c := range window {
		sum = sum.Add(c)
	}
	sma := sum.MulDiv(1, uint64(period))

	variance := fixedpoint.Zero()
	for _, c := range window {
		d := fixedpoint.FromUnsigned(c).Sub(fixedpoint.FromUnsigned(sma)).ToUnsigned()
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.MulDiv(1, uint64(period))
	sigma := variance.Sqrt()

	band := sigma.MulDiv(uint64(sigmaMul), 1)
	slope := fixedpoint.ZeroSigned()
	if prevSMA != nil {
		slope = fixedpoint.FromUnsigned(sma).Sub(fixedpoint.FromUnsigned(*prevSMA))
	}

	return &Bollinger{
		SMA:      sma,
		Upper:    sma.Add(band),
		Lower:    sma.Sub(band),
		SMASlope: slope,
	}
}
