// Package strategy defines the decision boundary between the bar store and
// the trade controller: ShouldOpen/ShouldClose over a pair's current
// bucket, plus the built-in momentum strategy.
package strategy

import (
	"fmt"

	"github.com/lattice-trading/dexstrat/internal/barstore"
)

// Decision is the outcome of a should_open/should_close call. Only Ok
// authorizes a state transition; a non-nil Reason is diagnostic only and
// never itself dispatches anything.
type Decision struct {
	Ok     bool
	Reason string
}

func ok() Decision { return Decision{Ok: true} }
func err(format string, args ...interface{}) Decision {
	return Decision{Ok: false, Reason: fmt.Sprintf(format, args...)}
}

// ClosedTrade is the minimal history a strategy needs about the most
// recently closed position for a token, to decide whether to reopen.
type ClosedTrade struct {
	CloseBucket barstore.ResolutionTimestamp
}

// Strategy decides opens and closes. bars is the pair's current
// TimePriceBars snapshot; nowBucket is the bucket the current block falls
// into.
type Strategy interface {
	ShouldOpen(bars *barstore.TimePriceBars, nowBucket barstore.ResolutionTimestamp, lastClosed *ClosedTrade) Decision
	ShouldClose(bars *barstore.TimePriceBars, nowBucket barstore.ResolutionTimestamp, openBucket barstore.ResolutionTimestamp) Decision
}

// Momentum is the built-in strategy: it reads the current bucket's tick and
// the latest finalized indicators, never deeper history.
type Momentum struct{}

// ShouldOpen requires a non-negative candle sitting at or above a rising
// EMA, with the Bollinger mean between the EMA and the close.
func (Momentum) ShouldOpen(bars *barstore.TimePriceBars, nowBucket barstore.ResolutionTimestamp, _ *ClosedTrade) Decision {
	bar, ok2 := bars.Bar(nowBucket)
	if !ok2 {
		return err("no bar for bucket %d", nowBucket)
	}
	if bar.Data.Close.Cmp(bar.Data.Open) < 0 {
		return err("bucket %d: close below open", nowBucket)
	}
	indicators := bars.LatestIndicators()
	if indicators == nil {
		return err("bucket %d: indicators unavailable", nowBucket)
	}
	ema := indicators.EMA
	if bar.Data.Close.Cmp(ema.Value) < 0 {
		return err("bucket %d: close below EMA", nowBucket)
	}
	if ema.Slope.IsNegative() {
		return err("bucket %d: EMA slope negative", nowBucket)
	}
	bb := indicators.Bollinger
	if bb == nil {
		return err("bucket %d: bollinger band unavailable", nowBucket)
	}
	if bb.SMA.Cmp(ema.Value) < 0 {
		return err("bucket %d: bollinger mean below EMA", nowBucket)
	}
	if bar.Data.Close.Cmp(bb.SMA) < 0 {
		return err("bucket %d: close below bollinger mean", nowBucket)
	}
	return ok()
}

// ShouldClose requires the close to have fallen to or below the EMA.
func (Momentum) ShouldClose(bars *barstore.TimePriceBars, nowBucket barstore.ResolutionTimestamp, _ barstore.ResolutionTimestamp) Decision {
	bar, ok2 := bars.Bar(nowBucket)
	if !ok2 {
		return err("no bar for bucket %d", nowBucket)
	}
	indicators := bars.LatestIndicators()
	if indicators == nil {
		return err("bucket %d: indicators unavailable", nowBucket)
	}
	if bar.Data.Close.Cmp(indicators.EMA.Value) > 0 {
		return err("bucket %d: close still above EMA", nowBucket)
	}
	return ok()
}
