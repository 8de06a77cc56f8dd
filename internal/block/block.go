package block

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

// PairBlockTick accumulates every trade touching one pair within one block.
type PairBlockTick struct {
	Pair   dex.Pair
	Makers []common.Address
	Tick   TickData
}

// Add folds a trade into the pair tick. notFirst distinguishes the pair's
// first trade in the block (which seeds open/high/low/close) from
// subsequent ones (which only extend high/low and overwrite close).
func (p *PairBlockTick) Add(trade dex.IndexedTrade, notFirst bool) error {
	p.Makers = append(p.Makers, trade.Maker())
	if !notFirst {
		tick, err := NewTickDataFromTrade(trade)
		if err != nil {
			return err
		}
		p.Tick = tick
		return nil
	}
	tick, err := p.Tick.AddTrade(trade)
	if err != nil {
		return err
	}
	p.Tick = tick
	return nil
}

// Block is one indexed blockchain block: its identity, timestamp, and the
// per-pair ticks assembled from its logs.
type Block struct {
	Hash      *common.Hash
	Number    uint64
	Timestamp uint64
	PairTicks map[common.Address]*PairBlockTick
}

// NewBlock constructs an empty block shell ready for tick accumulation.
func NewBlock(number, timestamp uint64) *Block {
	return &Block{Number: number, Timestamp: timestamp, PairTicks: make(map[common.Address]*PairBlockTick)}
}

// Insert folds a trade for pair into the block, creating its PairBlockTick
// on first sight. Tick update is order-preserving: open sticks, close
// overwrites, high/low extend.
func (b *Block) Insert(pair dex.Pair, trade dex.IndexedTrade) error {
	existing, ok := b.PairTicks[pair.Address()]
	if !ok {
		existing = &PairBlockTick{Pair: pair}
		b.PairTicks[pair.Address()] = existing
		return existing.Add(trade, false)
	}
	return existing.Add(trade, true)
}
