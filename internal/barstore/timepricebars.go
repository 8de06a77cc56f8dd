package barstore

import (
	"fmt"
	"sort"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

// TimePriceBars is one pair's ordered collection of pending and finalized
// bars, keyed by bucket timestamp.
type TimePriceBars struct {
	Resolution     Resolution
	RetentionCount int
	IndicatorsCfg  IndicatorsConfig

	bars map[ResolutionTimestamp]*TimePriceBar

	LastFinalizedTimestamp        *ResolutionTimestamp
	LastInsertedTimestampWithData *ResolutionTimestamp
}

// NewTimePriceBars constructs an empty per-pair bar collection.
func NewTimePriceBars(resolution Resolution, retentionCount int) *TimePriceBars {
	return &TimePriceBars{
		Resolution:     resolution,
		RetentionCount: retentionCount,
		IndicatorsCfg:  DefaultIndicatorsConfig(),
		bars:           make(map[ResolutionTimestamp]*TimePriceBar),
	}
}

func (t *TimePriceBars) sortedKeys() []ResolutionTimestamp {
	keys := make([]ResolutionTimestamp, 0, len(t.bars))
	for k := range t.bars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Bar returns the bar at bucket k, if any.
func (t *TimePriceBars) Bar(k ResolutionTimestamp) (*TimePriceBar, bool) {
	b, ok := t.bars[k]
	return b, ok
}

// Range returns bars with bucket timestamps in [from, to], ascending.
func (t *TimePriceBars) Range(from, to ResolutionTimestamp) []struct {
	Bucket ResolutionTimestamp
	Bar    *TimePriceBar
} {
	var out []struct {
		Bucket ResolutionTimestamp
		Bar    *TimePriceBar
	}
	for _, k := range t.sortedKeys() {
		if k < from || k > to {
			continue
		}
		out = append(out, struct {
			Bucket ResolutionTimestamp
			Bar    *TimePriceBar
		}{k, t.bars[k]})
	}
	return out
}

// Len reports the number of retained buckets (pending + finalized).
func (t *TimePriceBars) Len() int { return len(t.bars) }

// PadTo copies the last observed tick forward into every bucket strictly
// between the last bucket that received real data and upTo (exclusive of
// upTo itself, which receives the new tick from the caller). No-op if there
// is no prior data or the gap is not at least one full bucket.
func (t *TimePriceBars) PadTo(upTo ResolutionTimestamp) {
	if t.LastInsertedTimestampWithData == nil {
		return
	}
	last := *t.LastInsertedTimestampWithData
	if upTo <= last.Next(t.Resolution) {
		return
	}
	lastBar, ok := t.bars[last]
	if !ok {
		return
	}
	lastTick := lastBar.Data
	for k := last.Next(t.Resolution); k < upTo; k = k.Next(t.Resolution) {
		if _, exists := t.bars[k]; exists {
			continue
		}
		t.bars[k] = PadFrom(lastTick)
	}
}

// InsertTick inserts or folds a block's tick into the bucket k, creating a
// pending bar if needed.
func (t *TimePriceBars) InsertTick(blockNumber uint64, k ResolutionTimestamp, tick block.TickData) error {
	bar, ok := t.bars[k]
	if !ok || bar.State == Finalized {
		bar = NewPendingBar()
		t.bars[k] = bar
	}
	if err := bar.InsertBlock(blockNumber, tick); err != nil {
		return fmt.Errorf("barstore: inserting block %d into bucket %d: %w", blockNumber, k, err)
	}
	if t.LastInsertedTimestampWithData == nil || k > *t.LastInsertedTimestampWithData {
		kk := k
		t.LastInsertedTimestampWithData = &kk
	}
	return nil
}

// FinalizeThrough cascades Pending->Finalized for every bucket in
// (oldFinalized, newFinalized], skipping buckets with no data, and computes
// indicators for each newly finalized bucket from closes-so-far. Returns the
// buckets that were finalized by this call, ascending.
func (t *TimePriceBars) FinalizeThrough(newFinalized ResolutionTimestamp) ([]ResolutionTimestamp, error) {
	if t.LastFinalizedTimestamp != nil && newFinalized <= *t.LastFinalizedTimestamp {
		return nil, nil
	}
	var start ResolutionTimestamp
	if t.LastFinalizedTimestamp != nil {
		start = t.LastFinalizedTimestamp.Next(t.Resolution)
	} else {
		// First finalization for this pair: nothing below the earliest
		// retained bucket can exist, so start the walk there.
		keys := t.sortedKeys()
		if len(keys) == 0 {
			t.LastFinalizedTimestamp = &newFinalized
			return nil, nil
		}
		start = keys[0]
	}
	var finalized []ResolutionTimestamp
	for k := start; k <= newFinalized; k = k.Next(t.Resolution) {
		bar, ok := t.bars[k]
		if !ok || bar.IsEmpty() {
			continue
		}
		if bar.State == Finalized {
			continue
		}
		closes := t.closesUpTo(k, t.IndicatorsCfg.BollingerPeriod)
		var prevEMA *EMA
		var prevSMA *fixedpoint.Q3296
		if prevBar, ok := t.bars[k.Previous(t.Resolution)]; ok && prevBar.Indicators != nil {
			prevEMA = &prevBar.Indicators.EMA
			if prevBar.Indicators.Bollinger != nil {
				s := prevBar.Indicators.Bollinger.SMA
				prevSMA = &s
			}
		}
		ema := NextEMA(prevEMA, bar.Data.Close, t.IndicatorsCfg.EMAPeriod)
		bollinger := ComputeBollinger(closes, prevSMA, t.IndicatorsCfg.BollingerPeriod, t.IndicatorsCfg.BollingerSigmaMul)
		indicators := &Indicators{EMA: ema, Bollinger: bollinger}

		snap, err := bar.AsFinalized(indicators)
		if err != nil {
			return nil, fmt.Errorf("barstore: finalizing bucket %d: %w", k, err)
		}
		t.bars[k] = snap
		finalized = append(finalized, k)
	}
	t.LastFinalizedTimestamp = &newFinalized
	return finalized, nil
}

// closesUpTo gathers up to `limit` closes from buckets at or before k that
// have data (finalized or pending), oldest-first.
func (t *TimePriceBars) closesUpTo(k ResolutionTimestamp, limit int) []fixedpoint.Q3296 {
	keys := t.sortedKeys()
	var closes []fixedpoint.Q3296
	for _, kk := range keys {
		if kk > k {
			break
		}
		bar := t.bars[kk]
		if bar.IsEmpty() {
			continue
		}
		closes = append(closes, bar.Data.Close)
	}
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	return closes
}

// LatestIndicators returns the most recently finalized bucket's indicators,
// or nil if nothing has finalized yet. Pending buckets never carry
// indicators, so this is the indicator state a strategy decision sees.
func (t *TimePriceBars) LatestIndicators() *Indicators {
	if t.LastFinalizedTimestamp == nil {
		return nil
	}
	keys := t.sortedKeys()
	for i := len(keys) - 1; i >= 0; i-- {
		bar := t.bars[keys[i]]
		if bar.State == Finalized && bar.Indicators != nil {
			return bar.Indicators
		}
	}
	return nil
}

// PruneToReorgedBlockNumber walks buckets in reverse, removing block entries
// >= n from Pending bars (dropping buckets that become empty). If a
// Finalized bar with EndBlock >= n is reached, the reorg is invalid (a
// finalized bar must never be reorged) and an error is returned.
func (t *TimePriceBars) PruneToReorgedBlockNumber(n uint64) error {
	keys := t.sortedKeys()
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		bar := t.bars[k]
		if bar.State == Finalized {
			if bar.EndBlock >= n {
				return fmt.Errorf("barstore: finalized bucket %d (end_block=%d) cannot be reorged by block %d", k, bar.EndBlock, n)
			}
			continue
		}
		if bar.EndBlock < n {
			continue
		}
		becameEmpty, err := bar.PruneToReorgedBlockNumber(n)
		if err != nil {
			return err
		}
		if becameEmpty {
			delete(t.bars, k)
		}
	}
	return nil
}

// EvictRetention drops the oldest buckets until at most RetentionCount
// remain.
func (t *TimePriceBars) EvictRetention() {
	keys := t.sortedKeys()
	excess := len(keys) - t.RetentionCount
	for i := 0; i < excess; i++ {
		delete(t.bars, keys[i])
	}
}

// LastInsertedBucket returns the most recent bucket that has received real
// (non-padded) block data.
func (t *TimePriceBars) LastInsertedBucket() (ResolutionTimestamp, bool) {
	if t.LastInsertedTimestampWithData == nil {
		return 0, false
	}
	return *t.LastInsertedTimestampWithData, true
}
