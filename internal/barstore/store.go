package barstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
)

// Mode selects how the store computes the newly-finalized bucket on each
// insert.
type Mode int

const (
	// Backtest finalizes any bar strictly older than the current bucket.
	Backtest Mode = iota
	// Live finalizes up to the RPC-reported finalized block's bucket.
	Live
)

// FinalizedBlockTimestampFunc resolves the chain's current finalized-block
// timestamp for Live mode. A failed call degrades to "no new finalization"
// but still lets the block be processed.
type FinalizedBlockTimestampFunc func(ctx context.Context) (int64, error)

// Store owns every pair's TimePriceBars under a single reader/writer lock:
// the writer is InsertBlock, the readers are strategy-executor snapshots.
type Store struct {
	mu sync.RWMutex

	resolution     Resolution
	retentionCount int
	mode           Mode
	finalizedFn    FinalizedBlockTimestampFunc

	pairs map[common.Address]*TimePriceBars

	lastInsertedBlockNumber *uint64
	lastPrunedAtBlockNumber *uint64

	// OnFinalized, if set, is invoked outside the lock once per newly
	// finalized bucket, after the insert that triggered the finalize
	// cascade completes. Used by the backtest driver to persist finalized
	// bars as they are produced.
	OnFinalized func(pair common.Address, bucket ResolutionTimestamp, bar *TimePriceBar)
}

// NewStore constructs an empty store. finalizedFn is ignored in Backtest
// mode and may be nil.
func NewStore(resolution Resolution, retentionCount int, mode Mode, finalizedFn FinalizedBlockTimestampFunc) *Store {
	return &Store{
		resolution:     resolution,
		retentionCount: retentionCount,
		mode:           mode,
		finalizedFn:    finalizedFn,
		pairs:          make(map[common.Address]*TimePriceBars),
	}
}

// LastInsertedBlockNumber reports the highest-processed block number, false
// if no block has been inserted yet.
func (s *Store) LastInsertedBlockNumber() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastInsertedBlockNumber == nil {
		return 0, false
	}
	return *s.lastInsertedBlockNumber, true
}

// Snapshot returns the TimePriceBars for pair, for read-only strategy
// consumption. Returns nil if the pair has no bars (yet or ever).
func (s *Store) Snapshot(pair common.Address) *TimePriceBars {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairs[pair]
}

// InsertBlock folds one assembled block into every touched pair's bars:
// finalize cascade, gap padding, tick insertion, retention and staleness
// eviction, with reorg pruning first when the block number goes backwards.
func (s *Store) InsertBlock(ctx context.Context, b *block.Block) error {
	type finalizedBar struct {
		pair   common.Address
		bucket ResolutionTimestamp
		bar    *TimePriceBar
	}
	var newlyFinalized []finalizedBar

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		blockTs := NewResolutionTimestamp(int64(b.Timestamp), s.resolution)

		finalizedTs, haveFinalization := s.computeFinalizedTimestamp(ctx, blockTs)

		if s.lastInsertedBlockNumber != nil && b.Number <= *s.lastInsertedBlockNumber {
			if err := s.handleReorg(b.Number); err != nil {
				return err
			}
		}

		for addr, tick := range b.PairTicks {
			bars, ok := s.pairs[addr]
			if !ok {
				bars = NewTimePriceBars(s.resolution, s.retentionCount)
				s.pairs[addr] = bars
			}

			if haveFinalization && (bars.LastFinalizedTimestamp == nil || finalizedTs > *bars.LastFinalizedTimestamp) {
				buckets, err := bars.FinalizeThrough(finalizedTs)
				if err != nil {
					return fmt.Errorf("barstore: pair %s: %w", addr, err)
				}
				if s.OnFinalized != nil {
					for _, k := range buckets {
						if bar, ok := bars.Bar(k); ok {
							newlyFinalized = append(newlyFinalized, finalizedBar{pair: addr, bucket: k, bar: bar})
						}
					}
				}
			}

			bars.PadTo(blockTs)

			if err := bars.InsertTick(b.Number, blockTs, tick.Tick); err != nil {
				return fmt.Errorf("barstore: pair %s: %w", addr, err)
			}

			bars.EvictRetention()
		}

		s.staleEvict(b.Number, blockTs)

		s.lastInsertedBlockNumber = &b.Number
		return nil
	}()
	if err != nil {
		return err
	}

	for _, f := range newlyFinalized {
		s.OnFinalized(f.pair, f.bucket, f.bar)
	}
	return nil
}

func (s *Store) computeFinalizedTimestamp(ctx context.Context, blockTs ResolutionTimestamp) (ResolutionTimestamp, bool) {
	if s.mode == Backtest {
		return blockTs.Previous(s.resolution), true
	}
	if s.finalizedFn == nil {
		return 0, false
	}
	ts, err := s.finalizedFn(ctx)
	if err != nil {
		return 0, false
	}
	bucket := NewResolutionTimestamp(ts, s.resolution)
	return bucket.Previous(s.resolution), true
}

func (s *Store) handleReorg(blockNumber uint64) error {
	var dropPairs []common.Address
	for addr, bars := range s.pairs {
		if err := bars.PruneToReorgedBlockNumber(blockNumber); err != nil {
			return fmt.Errorf("barstore: reorg to block %d: %w", blockNumber, err)
		}
		if bars.Len() == 0 {
			dropPairs = append(dropPairs, addr)
		}
	}
	for _, addr := range dropPairs {
		delete(s.pairs, addr)
	}
	return nil
}

func (s *Store) staleEvict(blockNumber uint64, blockTs ResolutionTimestamp) {
	window := uint64(s.resolution.Offset() / dex.AverageBlockTimeSeconds)
	if s.lastPrunedAtBlockNumber != nil && blockNumber <= *s.lastPrunedAtBlockNumber+window {
		return
	}
	var dropPairs []common.Address
	for addr, bars := range s.pairs {
		lastBucket, ok := bars.LastInsertedBucket()
		if !ok {
			continue
		}
		firstRetained := retainedFloor(bars, blockTs)
		if lastBucket < firstRetained {
			dropPairs = append(dropPairs, addr)
		}
	}
	for _, addr := range dropPairs {
		delete(s.pairs, addr)
	}
	s.lastPrunedAtBlockNumber = &blockNumber
}

// retainedFloor is the oldest bucket still within the retention window as of
// the current block's bucket, used by staleness eviction.
func retainedFloor(bars *TimePriceBars, current ResolutionTimestamp) ResolutionTimestamp {
	return current - ResolutionTimestamp(int64(bars.RetentionCount-1)*bars.Resolution.Offset())
}
