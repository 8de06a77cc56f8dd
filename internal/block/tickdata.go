// Package block implements the per-block aggregation of raw swap/sync logs
// into pair-level OHLC ticks.
package block

import (
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

// TickData is the OHLC + volume summary for one pair within one block.
type TickData struct {
	Open       fixedpoint.Q3296
	High       fixedpoint.Q3296
	Low        fixedpoint.Q3296
	Close      fixedpoint.Q3296
	WethVolume fixedpoint.Q3296
}

// NewTickData seeds a tick from a single trade's before/after prices.
func NewTickData(priceBefore, priceAfter, volume fixedpoint.Q3296) TickData {
	high := priceBefore
	low := priceBefore
	if priceAfter.Cmp(high) > 0 {
		high = priceAfter
	}
	if priceAfter.Cmp(low) < 0 {
		low = priceAfter
	}
	return TickData{Open: priceBefore, High: high, Low: low, Close: priceAfter, WethVolume: volume}
}

// Add folds a subsequent trade's before/after prices and volume into the
// tick. open is left untouched; high/low extend to cover both the trade's
// before and after prices; close is overwritten; volume accumulates.
func (t TickData) Add(priceBefore, priceAfter, volume fixedpoint.Q3296) TickData {
	out := t
	if priceBefore.Cmp(out.High) > 0 {
		out.High = priceBefore
	}
	if priceAfter.Cmp(out.High) > 0 {
		out.High = priceAfter
	}
	if priceBefore.Cmp(out.Low) < 0 {
		out.Low = priceBefore
	}
	if priceAfter.Cmp(out.Low) < 0 {
		out.Low = priceAfter
	}
	out.Close = priceAfter
	out.WethVolume = out.WethVolume.Add(volume)
	return out
}

// NewTickDataFromTrade constructs the first tick of a block for a pair from
// its first observed trade.
func NewTickDataFromTrade(trade dex.IndexedTrade) (TickData, error) {
	before, err := trade.PriceBefore()
	if err != nil {
		return TickData{}, err
	}
	after, err := trade.PriceAfter()
	if err != nil {
		return TickData{}, err
	}
	return NewTickData(before, after, trade.WethVolume()), nil
}

// AddTrade folds a trade (not the block's first) into the tick.
func (t TickData) AddTrade(trade dex.IndexedTrade) (TickData, error) {
	before, err := trade.PriceBefore()
	if err != nil {
		return TickData{}, err
	}
	after, err := trade.PriceAfter()
	if err != nil {
		return TickData{}, err
	}
	return t.Add(before, after, trade.WethVolume()), nil
}
