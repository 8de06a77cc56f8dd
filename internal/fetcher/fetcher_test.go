package fetcher

import (
	"context"
	"fmt"
	"sync"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
)

type fakeCache struct {
	mu      sync.Mutex
	blocks  map[uint64]*block.Block
	persist int
}

func newFakeCache() *fakeCache {
	return &fakeCache{blocks: make(map[uint64]*block.Block)}
}

func (c *fakeCache) RangeBlocks(_ context.Context, from, to uint64) ([]*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*block.Block
	for n := from; n <= to; n++ {
		if b, ok := c.blocks[n]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *fakeCache) PersistBlocks(_ context.Context, blocks []*block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range blocks {
		c.blocks[b.Number] = b
	}
	c.persist++
	return nil
}

// failingLogSource fails the test if the remote path is ever taken.
type failingLogSource struct{ t *testing.T }

func (s failingLogSource) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	s.t.Fatal("unexpected eth_getLogs call for a fully cached range")
	return nil, nil
}

type staticLogSource struct {
	logs []types.Log
	err  error
}

func (s staticLogSource) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return s.logs, s.err
}

type staticHeaderSource struct {
	time uint64
	err  error
}

func (s staticHeaderSource) GetBlockHeader(_ context.Context, n uint64) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Header{Time: s.time}, nil
}

type emptyResolver struct{}

func (emptyResolver) ResolveConstantProduct(context.Context, []common.Address) (map[common.Address]*dex.ConstantProductPair, error) {
	return map[common.Address]*dex.ConstantProductPair{}, nil
}

func (emptyResolver) ResolveConcentrated(context.Context, []common.Address) (map[common.Address]*dex.ConcentratedPair, error) {
	return map[common.Address]*dex.ConcentratedPair{}, nil
}

func TestFetchCachedRange(t *testing.T) {
	cache := newFakeCache()
	for n := uint64(1); n <= 20; n++ {
		cache.blocks[n] = block.NewBlock(n, n*10)
	}
	f := &Fetcher{Logs: failingLogSource{t}, Headers: staticHeaderSource{}, Cache: cache, Resolver: emptyResolver{}}

	chunk, err := f.Fetch(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, chunk.Source)
	assert.Len(t, chunk.Data, 20)
}

func TestFetchRemoteOnPartialCache(t *testing.T) {
	cache := newFakeCache()
	for n := uint64(1); n <= 10; n++ {
		cache.blocks[n] = block.NewBlock(n, n*10)
	}
	f := &Fetcher{
		Logs:     staticLogSource{},
		Headers:  staticHeaderSource{time: 1_000_000},
		Cache:    cache,
		Resolver: emptyResolver{},
	}

	chunk, err := f.Fetch(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, chunk.Source)
	require.Len(t, chunk.Data, 20)

	// Timestamps are interpolated from the range's first header.
	assert.Equal(t, uint64(1_000_000), chunk.Data[0].Timestamp)
	assert.Equal(t, uint64(1_000_000+19*dex.AverageBlockTimeSeconds), chunk.Data[19].Timestamp)
}

func TestFetchRemoteDegradesFailedLogsToEmpty(t *testing.T) {
	f := &Fetcher{
		Logs:     staticLogSource{err: fmt.Errorf("rpc down")},
		Headers:  staticHeaderSource{time: 500},
		Resolver: emptyResolver{},
	}
	chunk, err := f.Fetch(context.Background(), 5, 7)
	require.NoError(t, err)
	require.Len(t, chunk.Data, 3)
	for _, b := range chunk.Data {
		assert.Empty(t, b.PairTicks)
	}
}

func TestFetchRemoteFailsOnHeaderError(t *testing.T) {
	f := &Fetcher{
		Logs:     staticLogSource{},
		Headers:  staticHeaderSource{err: fmt.Errorf("no header")},
		Resolver: emptyResolver{},
	}
	_, err := f.Fetch(context.Background(), 5, 7)
	assert.Error(t, err)
}

func TestRunDeliversInOrderAndPersists(t *testing.T) {
	cache := newFakeCache()
	f := &Fetcher{
		Logs:     staticLogSource{},
		Headers:  staticHeaderSource{time: 1000},
		Cache:    cache,
		Resolver: emptyResolver{},
	}

	var mu sync.Mutex
	var delivered []uint64
	deliver := func(_ context.Context, b *block.Block) error {
		mu.Lock()
		delivered = append(delivered, b.Number)
		mu.Unlock()
		return nil
	}

	// Span several chunks so multiple workers race.
	require.NoError(t, f.Run(context.Background(), 1, 350, deliver))

	require.Len(t, delivered, 350)
	for i, n := range delivered {
		assert.Equal(t, uint64(i+1), n)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, cache.blocks, 350)
}

func TestChunkIteratorCoversRangeExactly(t *testing.T) {
	it := newChunkIterator(10, 250)
	var total uint64
	prevEnd := uint64(9)
	for {
		r, ok := it.take()
		if !ok {
			break
		}
		assert.Equal(t, prevEnd+1, r.From)
		assert.LessOrEqual(t, r.To-r.From+1, uint64(ChunkSize))
		total += r.To - r.From + 1
		prevEnd = r.To
	}
	assert.Equal(t, uint64(241), total)
	assert.Equal(t, uint64(250), prevEnd)
}
