package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/config"
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/pairmeta"
	"github.com/lattice-trading/dexstrat/internal/rpcutil"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

// zeroMinOut accepts whatever the router quotes: neither the live nor the
// simulated path computes a slippage-protected minimum elsewhere in this
// pipeline, so requiring one here would be a guard this codebase doesn't
// otherwise enforce.
var zeroMinOut = big.NewInt(0)

// runnerRequestFactory builds OpenRequest/CloseRequest values bound to the
// configured run mode: it looks the touched pair up in the resolver's cache
// (already warmed by the fetcher's per-chunk prefetch) and type-switches
// once on the AMM variant, exactly the way the rest of the pipeline treats
// dex.Pair.
type runnerRequestFactory struct {
	cfg      *config.Config
	strategy *config.StrategyConfig
	eth      *ethclient.Client
	signer   *tradecontroller.Signer
	resolver *pairmeta.Resolver
	reserves *tradecontroller.ReserveReader
	quoter   *tradecontroller.ConcentratedQuoter
	bars     *barstore.Store
}

func newRequestFactory(
	cfg *config.Config,
	strategyCfg *config.StrategyConfig,
	eth *ethclient.Client,
	mc *rpcutil.Multicall3Client,
	resolver *pairmeta.Resolver,
	bars *barstore.Store,
) *runnerRequestFactory {
	quoter, err := tradecontroller.NewConcentratedQuoter(mc, strategyCfg.V3QuoterAddress)
	if err != nil {
		// The quoter ABI is a fixed literal; a parse failure here means the
		// binary itself is broken, not a runtime condition to recover from.
		panic(err)
	}
	return &runnerRequestFactory{
		cfg:      cfg,
		strategy: strategyCfg,
		eth:      eth,
		signer:   tradecontroller.NewSigner(eth, cfg.WalletPrivateKey, chainID(eth)),
		resolver: resolver,
		reserves: &tradecontroller.ReserveReader{Eth: eth},
		quoter:   quoter,
		bars:     bars,
	}
}

// Token maps a pool address to the non-quote token the trade controller
// keys its per-token state by.
func (f *runnerRequestFactory) Token(pair common.Address) (common.Address, error) {
	p, err := f.lookupPair(pair)
	if err != nil {
		return common.Address{}, err
	}
	return p.BaseToken(), nil
}

// chainID is read once at startup via eth_chainId, as go-ethereum signing
// helpers require it up front rather than resolving it per transaction.
func chainID(eth *ethclient.Client) *big.Int {
	id, err := eth.ChainID(context.Background())
	if err != nil {
		return big.NewInt(0)
	}
	return id
}

func (f *runnerRequestFactory) lookupPair(addr common.Address) (dex.Pair, error) {
	pair, ok := f.resolver.Lookup(addr)
	if !ok {
		return nil, fmt.Errorf("strategyrunner: no cached pair metadata for %s", addr)
	}
	return pair, nil
}

// sizeConstantProduct computes the quote-token input for opening a position
// against a constant-product pool's current reserves.
func sizeConstantProduct(pair *dex.ConstantProductPair, reserve0, reserve1 *big.Int) *big.Int {
	if pair.QuoteIsToken0() {
		return tradecontroller.TradeSize(reserve0)
	}
	return tradecontroller.TradeSize(reserve1)
}

// baseAmountOut recovers the base-token amount a prior open trade delivered,
// used to size the matching close.
func baseAmountOut(pair dex.Pair, trade dex.IndexedTrade) *big.Int {
	switch t := trade.(type) {
	case *dex.ConstantProductTrade:
		if pair.QuoteIsToken0() {
			return new(big.Int).Set(t.Amount1Out)
		}
		return new(big.Int).Set(t.Amount0Out)
	case *dex.ConcentratedTrade:
		if pair.QuoteIsToken0() {
			return new(big.Int).Abs(t.Amount1)
		}
		return new(big.Int).Abs(t.Amount0)
	default:
		return big.NewInt(0)
	}
}

func (f *runnerRequestFactory) OpenRequest(pair common.Address) (tradecontroller.OpenRequest, error) {
	p, err := f.lookupPair(pair)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	switch variant := p.(type) {
	case *dex.ConstantProductPair:
		r0, r1, err := f.reserves.Reserves(ctx, variant.Address())
		if err != nil {
			return nil, err
		}
		amountIn := sizeConstantProduct(variant, r0, r1)
		if f.cfg.Mode == config.ModeLive {
			return &tradecontroller.LiveConstantProductOpen{
				Signer: f.signer, Pair: variant, RouterAddress: f.strategy.V2RouterAddress,
				AmountInWei: amountIn, AmountOutMin: zeroMinOut,
			}, nil
		}
		hdr, err := f.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &tradecontroller.BacktestConstantProductOpen{
			Reserves: f.reserves, Pair: variant, Maker: f.signer.From, Eth: f.eth, NowBlock: hdr.Number.Uint64(),
		}, nil

	case *dex.ConcentratedPair:
		amountIn := dex.MaxTradeSizeWei
		if f.cfg.Mode == config.ModeLive {
			return &tradecontroller.LiveConcentratedOpen{
				Signer: f.signer, Pair: variant, RouterAddress: f.strategy.V3RouterAddress,
				AmountInWei: amountIn, AmountOutMin: zeroMinOut,
			}, nil
		}
		hdr, err := f.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &tradecontroller.BacktestConcentratedOpen{
			Quoter: f.quoter, Pair: variant, Maker: f.signer.From, Eth: f.eth, AmountInWei: amountIn, NowBlock: hdr.Number.Uint64(),
		}, nil

	default:
		return nil, fmt.Errorf("strategyrunner: unknown pair variant for %s", pair)
	}
}

func (f *runnerRequestFactory) CloseRequest(pair common.Address, openMeta tradecontroller.TradeMetadata) (tradecontroller.CloseRequest, error) {
	p, err := f.lookupPair(pair)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	amountIn := baseAmountOut(p, openMeta.IndexedTrade)

	switch variant := p.(type) {
	case *dex.ConstantProductPair:
		if f.cfg.Mode == config.ModeLive {
			return &tradecontroller.LiveConstantProductClose{
				Signer: f.signer, Pair: variant, RouterAddress: f.strategy.V2RouterAddress,
				AmountInWei: amountIn, AmountOutMin: zeroMinOut,
				OpenTradeRecord: openMeta.IndexedTrade, OpenTxHash: openMeta.TxHash,
			}, nil
		}
		hdr, err := f.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &tradecontroller.BacktestConstantProductClose{
			Reserves: f.reserves, Pair: variant, Maker: f.signer.From, Eth: f.eth, NowBlock: hdr.Number.Uint64(),
			OpenTradeRecord: openMeta.IndexedTrade, OpenTxHash: openMeta.TxHash,
		}, nil

	case *dex.ConcentratedPair:
		if f.cfg.Mode == config.ModeLive {
			return &tradecontroller.LiveConcentratedClose{
				Signer: f.signer, Pair: variant, RouterAddress: f.strategy.V3RouterAddress,
				AmountInWei: amountIn, AmountOutMin: zeroMinOut,
				OpenTradeRecord: openMeta.IndexedTrade, OpenTxHash: openMeta.TxHash,
			}, nil
		}
		hdr, err := f.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &tradecontroller.BacktestConcentratedClose{
			Quoter: f.quoter, Pair: variant, Maker: f.signer.From, Eth: f.eth, AmountInWei: amountIn, NowBlock: hdr.Number.Uint64(),
			OpenTradeRecord: openMeta.IndexedTrade, OpenTxHash: openMeta.TxHash,
		}, nil

	default:
		return nil, fmt.Errorf("strategyrunner: unknown pair variant for %s", pair)
	}
}
