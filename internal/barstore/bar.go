package barstore

import (
	"fmt"
	"sort"

	"github.com/lattice-trading/dexstrat/internal/block"
)

// BarState distinguishes a still-mutable Pending bar from an immutable
// Finalized one.
type BarState int

const (
	Pending BarState = iota
	Finalized
)

// TimePriceBar is one bucket's OHLC+indicator state. Pending bars own an
// ordered block_number->TickData map plus a cached reduction; Finalized
// bars retain only the reduction and are never mutated again except by
// retention eviction.
type TimePriceBar struct {
	State BarState

	// Pending-only fields.
	blocks map[uint64]block.TickData

	// Valid in both states.
	StartBlock uint64
	EndBlock   uint64
	Data       block.TickData
	Indicators *Indicators

	// synthetic marks a bucket produced by padding (no real block
	// contributed to it) rather than direct insertion; such bars still
	// count as "has data" for finalization purposes.
	synthetic bool
}

// NewPendingBar creates an empty pending bar.
func NewPendingBar() *TimePriceBar {
	return &TimePriceBar{State: Pending, blocks: make(map[uint64]block.TickData)}
}

// IsEmpty reports whether a pending bar has no block contributions and was
// not produced by padding.
func (b *TimePriceBar) IsEmpty() bool {
	return b.State == Pending && len(b.blocks) == 0 && !b.synthetic
}

// InsertBlock folds a block's tick data into the pending bar. If the block
// number is new, the tick is reduced into the cached Data incrementally. If
// it overwrites an existing entry (reorg replay), the cached Data is
// recomputed from scratch over all remaining entries with Open pinned to
// the earliest entry's Open. Any write invalidates cached Indicators.
func (b *TimePriceBar) InsertBlock(blockNumber uint64, tick block.TickData) error {
	if b.State != Pending {
		return fmt.Errorf("barstore: cannot insert into a finalized bar")
	}
	_, overwrite := b.blocks[blockNumber]
	b.blocks[blockNumber] = tick
	b.Indicators = nil

	if blockNumber < b.StartBlock || b.StartBlock == 0 && len(b.blocks) == 1 {
		b.StartBlock = blockNumber
	}
	if blockNumber > b.EndBlock {
		b.EndBlock = blockNumber
	}

	if !overwrite && len(b.blocks) > 1 {
		b.Data = b.Data.Add(tick.Open, tick.Close, tick.WethVolume)
		if tick.High.Cmp(b.Data.High) > 0 {
			b.Data.High = tick.High
		}
		if tick.Low.Cmp(b.Data.Low) < 0 {
			b.Data.Low = tick.Low
		}
		b.Data.Close = tick.Close
		return nil
	}

	b.recompute()
	return nil
}

// recompute rebuilds the cached Data by reducing every remaining entry in
// ascending block-number order, with Open fixed to the earliest entry.
func (b *TimePriceBar) recompute() {
	if len(b.blocks) == 0 {
		b.Data = block.TickData{}
		return
	}
	nums := make([]uint64, 0, len(b.blocks))
	for n := range b.blocks {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	first := b.blocks[nums[0]]
	data := first
	for _, n := range nums[1:] {
		tick := b.blocks[n]
		if tick.High.Cmp(data.High) > 0 {
			data.High = tick.High
		}
		if tick.Low.Cmp(data.Low) < 0 {
			data.Low = tick.Low
		}
		data.Close = tick.Close
		data.WethVolume = data.WethVolume.Add(tick.WethVolume)
	}
	data.Open = first.Open
	b.Data = data
	b.StartBlock = nums[0]
	b.EndBlock = nums[len(nums)-1]
}

// PruneToReorgedBlockNumber removes every block entry >= n. Returns true if
// the bar became empty as a result. Must only be called on Pending bars;
// finalized bars reaching this point is a caller bug and returns an error.
func (b *TimePriceBar) PruneToReorgedBlockNumber(n uint64) (becameEmpty bool, err error) {
	if b.State != Pending {
		return false, fmt.Errorf("barstore: cannot reorg-prune a finalized bar (end_block=%d >= %d)", b.EndBlock, n)
	}
	for blockNum := range b.blocks {
		if blockNum >= n {
			delete(b.blocks, blockNum)
		}
	}
	if len(b.blocks) == 0 {
		return true, nil
	}
	b.recompute()
	b.Indicators = nil
	return false, nil
}

// AsFinalized snapshots a non-empty pending bar into an immutable finalized
// one, attaching the computed indicators.
func (b *TimePriceBar) AsFinalized(indicators *Indicators) (*TimePriceBar, error) {
	if b.IsEmpty() {
		return nil, fmt.Errorf("barstore: cannot finalize an empty bar")
	}
	return &TimePriceBar{
		State:      Finalized,
		StartBlock: b.StartBlock,
		EndBlock:   b.EndBlock,
		Data:       b.Data,
		Indicators: indicators,
	}, nil
}

// PadFrom returns a new pending bar carrying forward the last-known tick as
// a flat open=high=low=close candle with zero volume, keeping finalized
// indicator series continuous across buckets with no trades.
func PadFrom(lastClose block.TickData) *TimePriceBar {
	flat := block.TickData{
		Open:       lastClose.Close,
		High:       lastClose.Close,
		Low:        lastClose.Close,
		Close:      lastClose.Close,
		WethVolume: lastClose.WethVolume.Sub(lastClose.WethVolume), // zero, same type
	}
	bar := NewPendingBar()
	bar.Data = flat
	bar.synthetic = true
	return bar
}
