package barstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

func TestResolutionTimestampFloorsToGrid(t *testing.T) {
	assert.Equal(t, ResolutionTimestamp(600), NewResolutionTimestamp(899, Resolution5Min))
	assert.Equal(t, ResolutionTimestamp(900), NewResolutionTimestamp(900, Resolution5Min))
	assert.Equal(t, ResolutionTimestamp(0), NewResolutionTimestamp(299, Resolution5Min))
	assert.Equal(t, ResolutionTimestamp(3600), NewResolutionTimestamp(7199, Resolution1Hour))
	assert.Equal(t, ResolutionTimestamp(14400), NewResolutionTimestamp(14401, Resolution4Hour))
}

func TestParseResolutionSpellings(t *testing.T) {
	for raw, want := range map[string]Resolution{"5m": Resolution5Min, "1h": Resolution1Hour, "4h": Resolution4Hour} {
		got, err := ParseResolution(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseResolution("15m")
	assert.Error(t, err)
}

func TestPendingInsertKeepsTickInvariants(t *testing.T) {
	bar := NewPendingBar()
	require.NoError(t, bar.InsertBlock(10, flatTick(2.0)))
	require.NoError(t, bar.InsertBlock(11, flatTick(5.0)))
	require.NoError(t, bar.InsertBlock(12, flatTick(1.0)))

	assert.True(t, bar.Data.Low.Cmp(bar.Data.Open) <= 0)
	assert.True(t, bar.Data.Low.Cmp(bar.Data.Close) <= 0)
	assert.True(t, bar.Data.High.Cmp(bar.Data.Open) >= 0)
	assert.True(t, bar.Data.High.Cmp(bar.Data.Close) >= 0)
	assert.InDelta(t, 2.0, bar.Data.Open.Float64(), 1e-9)
	assert.InDelta(t, 1.0, bar.Data.Close.Float64(), 1e-9)
	assert.Equal(t, uint64(10), bar.StartBlock)
	assert.Equal(t, uint64(12), bar.EndBlock)
}

func TestPendingOverwriteRecomputesFromScratch(t *testing.T) {
	bar := NewPendingBar()
	require.NoError(t, bar.InsertBlock(10, flatTick(2.0)))
	require.NoError(t, bar.InsertBlock(11, flatTick(9.0)))

	// Replaying block 11 with a lower price must drop the stale high.
	require.NoError(t, bar.InsertBlock(11, flatTick(3.0)))
	assert.InDelta(t, 3.0, bar.Data.High.Float64(), 1e-9)
	assert.InDelta(t, 3.0, bar.Data.Close.Float64(), 1e-9)
	assert.InDelta(t, 2.0, bar.Data.Open.Float64(), 1e-9)
}

func TestFinalizedBarRejectsInsertAndPrune(t *testing.T) {
	bar := NewPendingBar()
	require.NoError(t, bar.InsertBlock(10, flatTick(2.0)))
	finalized, err := bar.AsFinalized(nil)
	require.NoError(t, err)

	require.Error(t, finalized.InsertBlock(11, flatTick(3.0)))
	_, err = finalized.PruneToReorgedBlockNumber(10)
	require.Error(t, err)
}

func TestFinalizeThroughAttachesIndicators(t *testing.T) {
	bars := NewTimePriceBars(Resolution5Min, 64)
	base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
	bucket := base
	for i := 0; i < 3; i++ {
		require.NoError(t, bars.InsertTick(uint64(100+i), bucket, flatTick(float64(i+1))))
		bucket = bucket.Next(Resolution5Min)
	}

	finalized, err := bars.FinalizeThrough(base.Next(Resolution5Min))
	require.NoError(t, err)
	require.Len(t, finalized, 2)

	first, ok := bars.Bar(base)
	require.True(t, ok)
	assert.Equal(t, Finalized, first.State)
	require.NotNil(t, first.Indicators)
	assert.InDelta(t, 1.0, first.Indicators.EMA.Value.Float64(), 1e-9)
	assert.Nil(t, first.Indicators.Bollinger)

	// The third bucket stays pending and indicator-free.
	third, ok := bars.Bar(base.Next(Resolution5Min).Next(Resolution5Min))
	require.True(t, ok)
	assert.Equal(t, Pending, third.State)
	assert.Nil(t, third.Indicators)

	latest := bars.LatestIndicators()
	require.NotNil(t, latest)
	// EMA chained across the two finalized buckets: 1.0 then 1 + 0.2*(2-1).
	assert.InDelta(t, 1.2, latest.EMA.Value.Float64(), 1e-6)
}

func TestFinalizeThroughIsIdempotent(t *testing.T) {
	bars := NewTimePriceBars(Resolution5Min, 64)
	base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
	require.NoError(t, bars.InsertTick(100, base, flatTick(1.0)))

	finalized, err := bars.FinalizeThrough(base)
	require.NoError(t, err)
	assert.Len(t, finalized, 1)

	again, err := bars.FinalizeThrough(base)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPadToCarriesForwardLastClose(t *testing.T) {
	bars := NewTimePriceBars(Resolution5Min, 64)
	base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
	require.NoError(t, bars.InsertTick(100, base, flatTick(4.0)))

	// Jump three buckets ahead: the two between must be padded flat.
	target := base.Next(Resolution5Min).Next(Resolution5Min).Next(Resolution5Min)
	bars.PadTo(target)

	for k := base.Next(Resolution5Min); k < target; k = k.Next(Resolution5Min) {
		bar, ok := bars.Bar(k)
		require.True(t, ok, "missing padded bucket %d", k)
		assert.InDelta(t, 4.0, bar.Data.Open.Float64(), 1e-9)
		assert.InDelta(t, 4.0, bar.Data.Close.Float64(), 1e-9)
		assert.True(t, bar.Data.WethVolume.IsZero())
	}
	_, ok := bars.Bar(target)
	assert.False(t, ok, "the target bucket itself is the caller's to fill")
}

func TestPadToNoOpForAdjacentBucket(t *testing.T) {
	bars := NewTimePriceBars(Resolution5Min, 64)
	base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
	require.NoError(t, bars.InsertTick(100, base, flatTick(4.0)))

	bars.PadTo(base.Next(Resolution5Min))
	assert.Equal(t, 1, bars.Len())
}

func TestReorgSoundness(t *testing.T) {
	// Inserting a reorged block and then replaying its successors must
	// converge to the same bar data as a clean run.
	build := func(replay bool) *TimePriceBar {
		bars := NewTimePriceBars(Resolution5Min, 64)
		base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
		require.NoError(t, bars.InsertTick(100, base, flatTick(1.0)))
		require.NoError(t, bars.InsertTick(101, base, flatTick(2.0)))
		if replay {
			require.NoError(t, bars.InsertTick(102, base, flatTick(9.0)))
			require.NoError(t, bars.PruneToReorgedBlockNumber(102))
		}
		require.NoError(t, bars.InsertTick(102, base, flatTick(3.0)))
		bar, ok := bars.Bar(base)
		require.True(t, ok)
		return bar
	}

	clean := build(false)
	reorged := build(true)
	assert.Equal(t, clean.Data, reorged.Data)
	assert.Equal(t, clean.StartBlock, reorged.StartBlock)
	assert.Equal(t, clean.EndBlock, reorged.EndBlock)
}

func TestPruneRefusesFinalizedRange(t *testing.T) {
	bars := NewTimePriceBars(Resolution5Min, 64)
	base := NewResolutionTimestamp(1_700_000_000, Resolution5Min)
	require.NoError(t, bars.InsertTick(100, base, flatTick(1.0)))
	_, err := bars.FinalizeThrough(base)
	require.NoError(t, err)

	err = bars.PruneToReorgedBlockNumber(100)
	require.Error(t, err)
}

func TestPadFromProducesFlatCandle(t *testing.T) {
	last := block.TickData{
		Open:       fixedpoint.FromFloat64(1),
		High:       fixedpoint.FromFloat64(3),
		Low:        fixedpoint.FromFloat64(1),
		Close:      fixedpoint.FromFloat64(2),
		WethVolume: fixedpoint.FromFloat64(50),
	}
	bar := PadFrom(last)
	assert.InDelta(t, 2.0, bar.Data.Open.Float64(), 1e-9)
	assert.InDelta(t, 2.0, bar.Data.High.Float64(), 1e-9)
	assert.InDelta(t, 2.0, bar.Data.Low.Float64(), 1e-9)
	assert.InDelta(t, 2.0, bar.Data.Close.Float64(), 1e-9)
	assert.True(t, bar.Data.WethVolume.IsZero())
	assert.False(t, bar.IsEmpty())
}
