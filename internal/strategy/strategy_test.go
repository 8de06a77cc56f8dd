package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

func tick(open, close float64) block.TickData {
	o := fixedpoint.FromFloat64(open)
	c := fixedpoint.FromFloat64(close)
	high, low := o, o
	if c.Cmp(high) > 0 {
		high = c
	}
	if c.Cmp(low) < 0 {
		low = c
	}
	return block.TickData{Open: o, High: high, Low: low, Close: c, WethVolume: fixedpoint.Zero()}
}

// seededBars builds a pair's bars with enough finalized history for both
// indicators, then one pending bucket holding the current candle.
func seededBars(t *testing.T, currentOpen, currentClose float64) (*barstore.TimePriceBars, barstore.ResolutionTimestamp) {
	t.Helper()
	bars := barstore.NewTimePriceBars(barstore.Resolution5Min, 64)

	base := barstore.NewResolutionTimestamp(1_700_000_000, barstore.Resolution5Min)
	bucket := base
	// A V-shaped series: a high plateau, a dip, then a recovery. That
	// leaves the 20-bucket Bollinger mean above the 9-bucket EMA while the
	// EMA slope has already turned positive, which is the regime the
	// momentum entry looks for.
	prices := []float64{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2.5}
	for i, price := range prices {
		require.NoError(t, bars.InsertTick(uint64(100+i), bucket, tick(price, price)))
		bucket = bucket.Next(barstore.Resolution5Min)
	}
	_, err := bars.FinalizeThrough(bucket.Previous(barstore.Resolution5Min))
	require.NoError(t, err)

	require.NoError(t, bars.InsertTick(200, bucket, tick(currentOpen, currentClose)))
	return bars, bucket
}

func TestMomentumOpensOnRisingCandleAboveIndicators(t *testing.T) {
	bars, now := seededBars(t, 2.4, 2.6)
	decision := Momentum{}.ShouldOpen(bars, now, nil)
	assert.True(t, decision.Ok, decision.Reason)
}

func TestMomentumRejectsNegativeCandle(t *testing.T) {
	bars, now := seededBars(t, 3.5, 3.0)
	decision := Momentum{}.ShouldOpen(bars, now, nil)
	assert.False(t, decision.Ok)
	assert.Contains(t, decision.Reason, "close below open")
}

func TestMomentumRejectsCloseBelowEMA(t *testing.T) {
	// A collapsed candle far below the indicator levels.
	bars, now := seededBars(t, 0.5, 0.6)
	decision := Momentum{}.ShouldOpen(bars, now, nil)
	assert.False(t, decision.Ok)
}

func TestMomentumRejectsMissingBucket(t *testing.T) {
	bars, now := seededBars(t, 2.4, 2.6)
	missing := now.Next(barstore.Resolution5Min)
	decision := Momentum{}.ShouldOpen(bars, missing, nil)
	assert.False(t, decision.Ok)
}

func TestMomentumRejectsWithoutBollingerHistory(t *testing.T) {
	bars := barstore.NewTimePriceBars(barstore.Resolution5Min, 64)
	base := barstore.NewResolutionTimestamp(1_700_000_000, barstore.Resolution5Min)
	bucket := base
	// Only 5 buckets of history: EMA exists after finalize, Bollinger does not.
	for i := 0; i < 5; i++ {
		require.NoError(t, bars.InsertTick(uint64(100+i), bucket, tick(1.0, 1.0)))
		bucket = bucket.Next(barstore.Resolution5Min)
	}
	_, err := bars.FinalizeThrough(bucket.Previous(barstore.Resolution5Min))
	require.NoError(t, err)
	require.NoError(t, bars.InsertTick(200, bucket, tick(1.0, 2.0)))

	decision := Momentum{}.ShouldOpen(bars, bucket, nil)
	assert.False(t, decision.Ok)
	assert.Contains(t, decision.Reason, "bollinger")
}

func TestMomentumClosesAtOrBelowEMA(t *testing.T) {
	// A close far under the indicator levels should trigger the exit.
	bars, now := seededBars(t, 0.6, 0.5)
	decision := Momentum{}.ShouldClose(bars, now, now.Previous(barstore.Resolution5Min))
	assert.True(t, decision.Ok, decision.Reason)
}

func TestMomentumHoldsAboveEMA(t *testing.T) {
	bars, now := seededBars(t, 2.4, 2.6)
	decision := Momentum{}.ShouldClose(bars, now, now.Previous(barstore.Resolution5Min))
	assert.False(t, decision.Ok)
	assert.Contains(t, decision.Reason, "still above")
}
