// Package pairmeta resolves pool addresses into typed dex.Pair values:
// a deduplicating, bounded-LRU cache backed by batched multicall
// reads, validating that one side is always the configured quote token and
// that concentrated pools originate from the configured factory.
package pairmeta

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/rpcutil"
)

// CacheSize is the bounded LRU capacity.
const CacheSize = 2500

const pairABIJSON = `[
	{"inputs":[],"name":"token0","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token1","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"fee","outputs":[{"type":"uint24"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"factory","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"}
]`

// Resolver implements block.PairResolver.
type Resolver struct {
	mc      *rpcutil.Multicall3Client
	abi     abi.ABI
	quote   common.Address
	factory common.Address

	cache *lru.Cache[common.Address, dex.Pair]
	sf    singleflight.Group
}

// New constructs a Resolver. quote is the designated quote token (WETH);
// factory is the expected concentrated-pool factory address used to reject
// pools from unknown deployments.
func New(mc *rpcutil.Multicall3Client, quote, factory common.Address) (*Resolver, error) {
	parsed, err := abi.JSON(stringsReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("pairmeta: parsing pair abi: %w", err)
	}
	cache, err := lru.New[common.Address, dex.Pair](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("pairmeta: constructing cache: %w", err)
	}
	return &Resolver{mc: mc, abi: parsed, quote: quote, factory: factory, cache: cache}, nil
}

// Lookup returns a previously resolved pair straight from the cache, for
// callers (the strategy executor's request factory) that already know an
// address was touched by a recent block and just need its typed Pair.
func (r *Resolver) Lookup(addr common.Address) (dex.Pair, bool) {
	return r.cache.Get(addr)
}

// ResolveConstantProduct resolves pool addresses as Uniswap-v2-style pairs.
func (r *Resolver) ResolveConstantProduct(ctx context.Context, addresses []common.Address) (map[common.Address]*dex.ConstantProductPair, error) {
	out := make(map[common.Address]*dex.ConstantProductPair, len(addresses))
	var misses []common.Address
	for _, addr := range addresses {
		if cached, ok := r.cache.Get(addr); ok {
			if cp, ok := cached.(*dex.ConstantProductPair); ok {
				out[addr] = cp
			}
			continue
		}
		misses = append(misses, addr)
	}
	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := r.resolveMissesDeduped(ctx, misses, r.resolveConstantProductBatch)
	if err != nil {
		return nil, err
	}
	for addr, pair := range resolved {
		if cp, ok := pair.(*dex.ConstantProductPair); ok {
			out[addr] = cp
		}
	}
	return out, nil
}

// ResolveConcentrated resolves pool addresses as Uniswap-v3-style pairs.
func (r *Resolver) ResolveConcentrated(ctx context.Context, addresses []common.Address) (map[common.Address]*dex.ConcentratedPair, error) {
	out := make(map[common.Address]*dex.ConcentratedPair, len(addresses))
	var misses []common.Address
	for _, addr := range addresses {
		if cached, ok := r.cache.Get(addr); ok {
			if cc, ok := cached.(*dex.ConcentratedPair); ok {
				out[addr] = cc
			}
			continue
		}
		misses = append(misses, addr)
	}
	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := r.resolveMissesDeduped(ctx, misses, r.resolveConcentratedBatch)
	if err != nil {
		return nil, err
	}
	for addr, pair := range resolved {
		if cc, ok := pair.(*dex.ConcentratedPair); ok {
			out[addr] = cc
		}
	}
	return out, nil
}

// resolveMissesDeduped dedupes concurrent misses for the same address onto
// a single in-flight batch call via singleflight, then fans the shared
// result back out to every caller.
func (r *Resolver) resolveMissesDeduped(ctx context.Context, addrs []common.Address, batch func(context.Context, []common.Address) (map[common.Address]dex.Pair, error)) (map[common.Address]dex.Pair, error) {
	key := batchKey(addrs)
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		resolved, err := batch(ctx, addrs)
		if err != nil {
			return nil, err
		}
		for addr, pair := range resolved {
			r.cache.Add(addr, pair)
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[common.Address]dex.Pair), nil
}

func (r *Resolver) resolveConstantProductBatch(ctx context.Context, addrs []common.Address) (map[common.Address]dex.Pair, error) {
	calls := make([]rpcutil.Call3, 0, len(addrs)*2)
	for _, addr := range addrs {
		t0, _ := r.abi.Pack("token0")
		t1, _ := r.abi.Pack("token1")
		calls = append(calls,
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: t0},
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: t1},
		)
	}
	results, err := r.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pairmeta: aggregating constant-product metadata: %w", err)
	}

	out := make(map[common.Address]dex.Pair, len(addrs))
	for i, addr := range addrs {
		t0res, t1res := results[i*2], results[i*2+1]
		if !t0res.Success || !t1res.Success {
			continue // drop unresolved pool
		}
		token0 := decodeAddress(t0res.ReturnData)
		token1 := decodeAddress(t1res.ReturnData)
		pair, err := dex.NewConstantProductPair(addr, token0, token1, r.quote)
		if err != nil {
			continue // invariant violated (no quote side): drop
		}
		out[addr] = pair
	}
	return out, nil
}

func (r *Resolver) resolveConcentratedBatch(ctx context.Context, addrs []common.Address) (map[common.Address]dex.Pair, error) {
	calls := make([]rpcutil.Call3, 0, len(addrs)*4)
	for _, addr := range addrs {
		t0, _ := r.abi.Pack("token0")
		t1, _ := r.abi.Pack("token1")
		fee, _ := r.abi.Pack("fee")
		factory, _ := r.abi.Pack("factory")
		calls = append(calls,
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: t0},
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: t1},
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: fee},
			rpcutil.Call3{Target: addr, AllowFailure: true, CallData: factory},
		)
	}
	results, err := r.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pairmeta: aggregating concentrated metadata: %w", err)
	}

	out := make(map[common.Address]dex.Pair, len(addrs))
	for i, addr := range addrs {
		t0res := results[i*4]
		t1res := results[i*4+1]
		feeRes := results[i*4+2]
		factoryRes := results[i*4+3]
		if !t0res.Success || !t1res.Success || !feeRes.Success || !factoryRes.Success {
			continue
		}
		factory := decodeAddress(factoryRes.ReturnData)
		if factory != r.factory {
			continue // not from the configured factory: drop
		}
		token0 := decodeAddress(t0res.ReturnData)
		token1 := decodeAddress(t1res.ReturnData)
		feeBps := new(big.Int).SetBytes(feeRes.ReturnData).Uint64()
		pair, err := dex.NewConcentratedPair(addr, token0, token1, r.quote, uint32(feeBps))
		if err != nil {
			continue
		}
		out[addr] = pair
	}
	return out, nil
}

func decodeAddress(data []byte) common.Address {
	if len(data) < 32 {
		return common.Address{}
	}
	return common.BytesToAddress(data[12:32])
}

func batchKey(addrs []common.Address) string {
	s := make([]byte, 0, len(addrs)*20)
	for _, a := range addrs {
		s = append(s, a.Bytes()...)
	}
	return string(s)
}
