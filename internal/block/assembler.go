package block

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

// Event topic0 signatures the assembler recognizes.
var (
	TopicSyncV2 = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	TopicSwapV2 = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	TopicSwapV3 = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

// EventTopics is the union of topics the fetcher filters eth_getLogs on.
var EventTopics = []common.Hash{TopicSyncV2, TopicSwapV2, TopicSwapV3}

// PairResolver resolves pool addresses into their typed Pair, batching
// resolution across many addresses via multicall. Unresolved pools
// are simply absent from the returned map and are dropped by the
// assembler, not treated as fatal. The two variants are resolved through
// separate entry points because their self-describing on-chain calls
// differ (token0/token1 vs token0/token1/fee/factory/liquidity).
type PairResolver interface {
	ResolveConstantProduct(ctx context.Context, addresses []common.Address) (map[common.Address]*dex.ConstantProductPair, error)
	ResolveConcentrated(ctx context.Context, addresses []common.Address) (map[common.Address]*dex.ConcentratedPair, error)
}

var (
	uint112Pair, _ = abi.NewType("uint112", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	int256Type, _  = abi.NewType("int256", "", nil)
	uint160Type, _ = abi.NewType("uint160", "", nil)
	uint128Type, _ = abi.NewType("uint128", "", nil)
	int24Type, _   = abi.NewType("int24", "", nil)

	syncV2Args = abi.Arguments{{Type: uint112Pair}, {Type: uint112Pair}}
	swapV2Args = abi.Arguments{{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}}
	swapV3Args = abi.Arguments{{Type: int256Type}, {Type: int256Type}, {Type: uint160Type}, {Type: uint128Type}, {Type: int24Type}}
)

// AssembleInput is the raw material for one block's assembly.
type AssembleInput struct {
	BlockNumber     uint64
	DefaultTimestamp uint64
	Logs            []types.Log
}

// CandidatePools scans logs for Swap events matching either AMM variant and
// returns the distinct pool addresses seen for each, without resolving or
// parsing trades. Used by the fetcher to flatten pool-address resolution
// across an entire chunk into one multicall batch.
func CandidatePools(logs []types.Log) (v2Addrs, v3Addrs []common.Address) {
	v2Set := map[common.Address]struct{}{}
	v3Set := map[common.Address]struct{}{}
	for i, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case TopicSwapV2:
			if i == 0 || len(logs[i-1].Topics) == 0 || logs[i-1].Topics[0] != TopicSyncV2 {
				continue
			}
			sync := logs[i-1]
			if sync.Address != lg.Address || sync.BlockHash != lg.BlockHash || sync.Index+1 != lg.Index {
				continue
			}
			v2Set[lg.Address] = struct{}{}
		case TopicSwapV3:
			v3Set[lg.Address] = struct{}{}
		}
	}
	return sortedAddresses(v2Set), sortedAddresses(v3Set)
}

// Assemble builds a Block from a contiguous run of raw logs belonging to a
// single block number, resolving pool addresses via resolver.
func Assemble(ctx context.Context, in AssembleInput, resolver PairResolver) (*Block, error) {
	blockHash, blockTs := deriveIdentity(in.Logs, in.DefaultTimestamp)

	type parsedTrade struct {
		poolAddr common.Address
		trade    func(p dex.Pair) (dex.IndexedTrade, error)
	}

	var parsed []parsedTrade
	v2PoolSet := map[common.Address]struct{}{}
	v3PoolSet := map[common.Address]struct{}{}

	for i, lg := range in.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case TopicSwapV2:
			if i == 0 || len(in.Logs[i-1].Topics) == 0 || in.Logs[i-1].Topics[0] != TopicSyncV2 {
				continue
			}
			sync := in.Logs[i-1]
			if sync.Address != lg.Address || sync.BlockHash != lg.BlockHash || sync.Index+1 != lg.Index {
				continue
			}
			reserves, err := syncV2Args.Unpack(sync.Data)
			if err != nil {
				continue // decoding failure: drop this trade
			}
			swapArgs, err := swapV2Args.Unpack(lg.Data)
			if err != nil {
				continue
			}
			if len(lg.Topics) < 3 {
				continue
			}
			maker := common.HexToAddress(lg.Topics[2].Hex())
			poolAddr := lg.Address
			v2PoolSet[poolAddr] = struct{}{}
			amount0In := swapArgs[0].(*big.Int)
			amount1In := swapArgs[1].(*big.Int)
			amount0Out := swapArgs[2].(*big.Int)
			amount1Out := swapArgs[3].(*big.Int)
			reserve0 := reserves[0].(*big.Int)
			reserve1 := reserves[1].(*big.Int)
			parsed = append(parsed, parsedTrade{poolAddr: poolAddr, trade: func(p dex.Pair) (dex.IndexedTrade, error) {
				cp, ok := p.(*dex.ConstantProductPair)
				if !ok {
					return nil, fmt.Errorf("block: pool %s resolved to non-constant-product pair", poolAddr)
				}
				return dex.NewConstantProductTrade(cp, maker, amount0In, amount1In, amount0Out, amount1Out, reserve0, reserve1), nil
			}})

		case TopicSwapV3:
			args, err := swapV3Args.Unpack(lg.Data)
			if err != nil {
				continue
			}
			if len(lg.Topics) < 3 {
				continue
			}
			maker := common.HexToAddress(lg.Topics[2].Hex())
			poolAddr := lg.Address
			v3PoolSet[poolAddr] = struct{}{}
			amount0 := args[0].(*big.Int)
			amount1 := args[1].(*big.Int)
			sqrtPriceX96 := args[2].(*big.Int)
			liquidity := args[3].(*big.Int)
			parsed = append(parsed, parsedTrade{poolAddr: poolAddr, trade: func(p dex.Pair) (dex.IndexedTrade, error) {
				cc, ok := p.(*dex.ConcentratedPair)
				if !ok {
					return nil, fmt.Errorf("block: pool %s resolved to non-concentrated pair", poolAddr)
				}
				return dex.NewConcentratedTrade(cc, maker, amount0, amount1, sqrtPriceX96, liquidity), nil
			}})
		}
	}

	v2Addrs := sortedAddresses(v2PoolSet)
	v3Addrs := sortedAddresses(v3PoolSet)

	v2Pairs, err := resolver.ResolveConstantProduct(ctx, v2Addrs)
	if err != nil {
		return nil, fmt.Errorf("block: resolving constant-product pool metadata: %w", err)
	}
	v3Pairs, err := resolver.ResolveConcentrated(ctx, v3Addrs)
	if err != nil {
		return nil, fmt.Errorf("block: resolving concentrated pool metadata: %w", err)
	}

	pairs := make(map[common.Address]dex.Pair, len(v2Pairs)+len(v3Pairs))
	for addr, p := range v2Pairs {
		pairs[addr] = p
	}
	for addr, p := range v3Pairs {
		pairs[addr] = p
	}

	b := NewBlock(in.BlockNumber, blockTs)
	if blockHash != (common.Hash{}) {
		b.Hash = &blockHash
	}

	for _, pt := range parsed {
		pair, ok := pairs[pt.poolAddr]
		if !ok || pair == nil {
			continue // unresolved pool: dropped
		}
		trade, err := pt.trade(pair)
		if err != nil {
			continue
		}
		if err := b.Insert(pair, trade); err != nil {
			continue
		}
	}
	return b, nil
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	addrs := make([]common.Address, 0, len(set))
	for a := range set {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })
	return addrs
}

func deriveIdentity(logs []types.Log, fallbackTs uint64) (common.Hash, uint64) {
	for _, lg := range logs {
		if lg.BlockHash != (common.Hash{}) {
			// types.Log has no timestamp field; callers supply the
			// estimated/authoritative timestamp separately. We only
			// recover the hash here.
			return lg.BlockHash, fallbackTs
		}
	}
	return common.Hash{}, fallbackTs
}
