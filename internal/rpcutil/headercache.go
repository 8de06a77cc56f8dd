package rpcutil

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
)

// headerCacheFloor and headerCacheCeiling size the header cache: it is a
// plain LRU capped at the ceiling, evicting the least recently used header
// on each insert beyond that many entries.
const headerCacheFloor = 100
const headerCacheCeiling = headerCacheFloor + 50

// HeaderCache is a small bounded cache of block headers, used by the fetcher
// to read the header timestamp that seeds each chunk's per-block estimate.
type HeaderCache struct {
	eth   *ethclient.Client
	cache *lru.Cache[uint64, *types.Header]
}

// NewHeaderCache constructs a cache capped at headerCacheCeiling entries.
func NewHeaderCache(eth *ethclient.Client) (*HeaderCache, error) {
	c, err := lru.New[uint64, *types.Header](headerCacheCeiling)
	if err != nil {
		return nil, fmt.Errorf("rpcutil: constructing header cache: %w", err)
	}
	return &HeaderCache{eth: eth, cache: c}, nil
}

// GetBlockHeader returns the header for blockNumber, fetching and caching it
// on miss.
func (h *HeaderCache) GetBlockHeader(ctx context.Context, blockNumber uint64) (*types.Header, error) {
	if hdr, ok := h.cache.Get(blockNumber); ok {
		return hdr, nil
	}
	hdr, err := h.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("rpcutil: fetching header %d: %w", blockNumber, err)
	}
	h.cache.Add(blockNumber, hdr)
	return hdr, nil
}

// MedianBlockGasPrice pulls the execution block's median transaction
// effective gas price, used for backtest gas-fee accounting.
func MedianBlockGasPrice(ctx context.Context, eth *ethclient.Client, blockNumber uint64) (*big.Int, error) {
	blk, err := eth.BlockByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("rpcutil: fetching block %d: %w", blockNumber, err)
	}
	txs := blk.Transactions()
	if len(txs) == 0 {
		return nil, fmt.Errorf("rpcutil: block %d has no transactions to sample gas price from", blockNumber)
	}

	prices := make([]*big.Int, 0, len(txs))
	baseFee := blk.BaseFee()
	for _, tx := range txs {
		prices = append(prices, effectiveGasPrice(tx, baseFee))
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Cmp(prices[j]) < 0 })
	return prices[len(prices)/2], nil
}

func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if tx.Type() != types.DynamicFeeTxType || baseFee == nil {
		return tx.GasPrice()
	}
	tip := tx.GasTipCap()
	feeCap := tx.GasFeeCap()
	effective := new(big.Int).Add(baseFee, tip)
	if effective.Cmp(feeCap) > 0 {
		return feeCap
	}
	return effective
}
