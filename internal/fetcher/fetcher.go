// Package fetcher implements the block-range fetcher: a concurrent
// fan-out over chunks of the requested block range, preferring a local
// cache over the RPC and reassembling out-of-order chunk results into a
// strictly block-number-ascending stream for downstream consumers.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
)

// ChunkSize is the span of blocks pulled per worker iteration.
const ChunkSize = 100

// WorkerPoolSize is the fixed number of concurrent chunk-fetch workers.
const WorkerPoolSize = 50

// BufferCapacity is the bounded channel capacity workers push completed
// chunks into.
const BufferCapacity = 360

// Source distinguishes where a BlockChunk's data came from.
type Source int

const (
	SourceCache Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceCache {
		return "cache"
	}
	return "remote"
}

// BlockChunk is the fetcher's unit of delivery.
type BlockChunk struct {
	From, To uint64
	Data     []*block.Block
	Source   Source
}

// BlockCache is the local cache collaborator: a range read and a
// chunk-at-a-time persist. The concrete implementation, backed by the SQL
// store, lives in internal/db.
type BlockCache interface {
	RangeBlocks(ctx context.Context, from, to uint64) ([]*block.Block, error)
	PersistBlocks(ctx context.Context, blocks []*block.Block) error
}

// LogSource is the subset of ethclient.Client the fetcher needs for the
// remote path, narrowed to ease testing with a fake.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// HeaderSource resolves a single block's header, used only to seed the
// per-chunk timestamp estimate.
type HeaderSource interface {
	GetBlockHeader(ctx context.Context, blockNumber uint64) (*types.Header, error)
}

// Fetcher pulls ranges of indexed blocks, preferring the local cache.
type Fetcher struct {
	Logs     LogSource
	Headers  HeaderSource
	Cache    BlockCache // nil disables the cache-first path
	Resolver block.PairResolver
}

// Fetch retrieves blocks [from, to] inclusive, preferring the cache: if it
// returns exactly to-from+1 contiguous blocks, those are used as-is;
// otherwise the full range is fetched remotely.
func (f *Fetcher) Fetch(ctx context.Context, from, to uint64) (*BlockChunk, error) {
	if from > to {
		return nil, fmt.Errorf("fetcher: invalid range [%d,%d]", from, to)
	}
	want := to - from + 1

	if f.Cache != nil {
		cached, err := f.Cache.RangeBlocks(ctx, from, to)
		if err == nil && isExactContiguous(cached, from, to, want) {
			return &BlockChunk{From: from, To: to, Data: cached, Source: SourceCache}, nil
		}
	}
	return f.fetchRemote(ctx, from, to)
}

func isExactContiguous(blocks []*block.Block, from, to, want uint64) bool {
	if uint64(len(blocks)) != want {
		return false
	}
	sorted := make([]*block.Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for i, b := range sorted {
		if b.Number != from+uint64(i) {
			return false
		}
	}
	return sorted[0].Number == from && sorted[len(sorted)-1].Number == to
}

// fetchRemote issues one eth_getLogs query over the whole range plus one
// header fetch for `from`, concurrently, then assembles every block in
// [from, to] with an estimated timestamp.
func (f *Fetcher) fetchRemote(ctx context.Context, from, to uint64) (*BlockChunk, error) {
	var logs []types.Log
	var fromHeader *types.Header

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := f.Logs.FilterLogs(gctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{block.EventTopics},
		})
		if err != nil {
			// A failed get_logs degrades to an empty log list: the block
			// range is still produced, just with empty pair ticks.
			log.Printf("fetcher: get_logs [%d,%d] failed, degrading to empty: %v", from, to, err)
			logs = nil
			return nil
		}
		logs = got
		return nil
	})
	g.Go(func() error {
		hdr, err := f.Headers.GetBlockHeader(gctx, from)
		if err != nil {
			return fmt.Errorf("fetcher: header fetch for block %d failed: %w", from, err)
		}
		fromHeader = hdr
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byBlock := make(map[uint64][]types.Log)
	for _, lg := range logs {
		byBlock[lg.BlockNumber] = append(byBlock[lg.BlockNumber], lg)
	}

	if err := f.prefetchPairs(ctx, logs); err != nil {
		return nil, fmt.Errorf("fetcher: prefetching pair metadata for [%d,%d]: %w", from, to, err)
	}

	blocks := make([]*block.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		defaultTs := fromHeader.Time + (n-from)*dex.AverageBlockTimeSeconds
		blk, err := block.Assemble(ctx, block.AssembleInput{
			BlockNumber:      n,
			DefaultTimestamp: defaultTs,
			Logs:             byBlock[n],
		}, f.Resolver)
		if err != nil {
			return nil, fmt.Errorf("fetcher: assembling block %d: %w", n, err)
		}
		blocks = append(blocks, blk)
	}

	return &BlockChunk{From: from, To: to, Data: blocks, Source: SourceRemote}, nil
}

// prefetchPairs resolves every candidate pool address across the whole
// chunk's logs in one pass, warming the resolver's cache so each block's own
// Assemble call is a cache hit rather than a fresh multicall.
func (f *Fetcher) prefetchPairs(ctx context.Context, logs []types.Log) error {
	v2Addrs, v3Addrs := block.CandidatePools(logs)
	if len(v2Addrs) == 0 && len(v3Addrs) == 0 {
		return nil
	}
	if len(v2Addrs) > 0 {
		if _, err := f.Resolver.ResolveConstantProduct(ctx, v2Addrs); err != nil {
			return err
		}
	}
	if len(v3Addrs) > 0 {
		if _, err := f.Resolver.ResolveConcentrated(ctx, v3Addrs); err != nil {
			return err
		}
	}
	return nil
}

// chunkRange is one [From, To] slice of the overall requested range.
type chunkRange struct {
	From, To uint64
}

// chunkIterator yields successive ChunkSize-wide ranges covering [from, to],
// guarded by a mutex so a fixed worker pool can pull from it concurrently.
type chunkIterator struct {
	mu   sync.Mutex
	next uint64
	to   uint64
}

func newChunkIterator(from, to uint64) *chunkIterator {
	return &chunkIterator{next: from, to: to}
}

func (it *chunkIterator) take() (chunkRange, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.next > it.to {
		return chunkRange{}, false
	}
	end := it.next + ChunkSize - 1
	if end > it.to {
		end = it.to
	}
	r := chunkRange{From: it.next, To: end}
	it.next = end + 1
	return r, true
}

// Deliver is called, strictly in ascending block-number order, once per
// assembled block.
type Deliver func(ctx context.Context, b *block.Block) error

// Run drives the full fetch pipeline: a fixed worker pool
// pulls chunks from a shared iterator, fetches each one (cache-first), and
// pushes results into a bounded channel; a single consumer reorders chunks
// by starting block number and delivers their blocks in order. RPC-sourced
// chunks are persisted to the cache before being released to deliver.
func (f *Fetcher) Run(ctx context.Context, from, to uint64, deliver Deliver) error {
	if from > to {
		return fmt.Errorf("fetcher: invalid range [%d,%d]", from, to)
	}

	it := newChunkIterator(from, to)
	results := make(chan *BlockChunk, BufferCapacity)

	// The consumer runs on ctx rather than gctx: g.Wait cancels gctx as soon
	// as the workers return, which would race the draining of chunks still
	// buffered in results. A consumer failure cancels ctx, and with it gctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	workers := WorkerPoolSize
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				r, ok := it.take()
				if !ok {
					return nil
				}
				chunk, err := f.Fetch(gctx, r.From, r.To)
				if err != nil {
					return fmt.Errorf("fetcher: chunk [%d,%d]: %w", r.From, r.To, err)
				}
				if chunk.Source == SourceRemote && f.Cache != nil {
					if err := f.Cache.PersistBlocks(gctx, chunk.Data); err != nil {
						return fmt.Errorf("fetcher: persisting chunk [%d,%d]: %w", r.From, r.To, err)
					}
				}
				select {
				case results <- chunk:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	consumerErr := make(chan error, 1)
	go func() {
		err := reorderAndDeliver(ctx, results, from, deliver)
		if err != nil {
			cancel()
		}
		consumerErr <- err
	}()

	workerErr := g.Wait()
	close(results)
	if cErr := <-consumerErr; cErr != nil {
		return cErr
	}
	return workerErr
}

// reorderAndDeliver holds out-of-order chunks in a head-waits buffer keyed
// on starting block number, releasing contiguous runs as soon as the next
// expected head arrives.
func reorderAndDeliver(ctx context.Context, results <-chan *BlockChunk, firstExpected uint64, deliver Deliver) error {
	pending := make(map[uint64]*BlockChunk)
	next := firstExpected

	release := func() error {
		for {
			chunk, ok := pending[next]
			if !ok {
				return nil
			}
			for _, b := range chunk.Data {
				if err := deliver(ctx, b); err != nil {
					return fmt.Errorf("fetcher: delivering block %d: %w", b.Number, err)
				}
			}
			delete(pending, next)
			next = chunk.To + 1
		}
	}

	for {
		select {
		case chunk, ok := <-results:
			if !ok {
				return release()
			}
			pending[chunk.From] = chunk
			if err := release(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
