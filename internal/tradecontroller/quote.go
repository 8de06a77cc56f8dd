package tradecontroller

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/rpcutil"
)

const poolLiquidityABIJSON = `[{"inputs":[],"name":"liquidity","outputs":[{"type":"uint128"}],"stateMutability":"view","type":"function"}]`

const quoterABIJSON = `[{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"quoteExactInputSingle","outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

// ConcentratedQuoter reads a concentrated pool's current liquidity and
// calls the on-chain quoter's quoteExactInputSingle through the aggregated
// multicall, so both reads land in a single RPC round trip.
type ConcentratedQuoter struct {
	mc           *rpcutil.Multicall3Client
	poolABI      abi.ABI
	quoterABI    abi.ABI
	quoterTarget common.Address
}

// NewConcentratedQuoter constructs a quoter bound to the given quoter
// contract address.
func NewConcentratedQuoter(mc *rpcutil.Multicall3Client, quoterTarget common.Address) (*ConcentratedQuoter, error) {
	poolABI, err := abi.JSON(strings.NewReader(poolLiquidityABIJSON))
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: parsing pool liquidity abi: %w", err)
	}
	quoterABI, err := abi.JSON(strings.NewReader(quoterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: parsing quoter abi: %w", err)
	}
	return &ConcentratedQuoter{mc: mc, poolABI: poolABI, quoterABI: quoterABI, quoterTarget: quoterTarget}, nil
}

// ConcentratedQuote is the result of a quoted concentrated-pool swap.
type ConcentratedQuote struct {
	Liquidity        *big.Int
	AmountOut        *big.Int
	SqrtPriceX96After *big.Int
}

// Quote reads liquidity and quotes amountIn of tokenIn for tokenOut in a
// single aggregated multicall.
func (q *ConcentratedQuoter) Quote(ctx context.Context, pair *dex.ConcentratedPair, tokenIn, tokenOut common.Address, amountIn *big.Int) (*ConcentratedQuote, error) {
	liquidityCall, err := q.poolABI.Pack("liquidity")
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing liquidity call: %w", err)
	}

	type quoteParams struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}
	quoteCall, err := q.quoterABI.Pack("quoteExactInputSingle", quoteParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(pair.FeeBps())),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: packing quoteExactInputSingle call: %w", err)
	}

	results, err := q.mc.Aggregate(ctx, []rpcutil.Call3{
		{Target: pair.Address(), AllowFailure: false, CallData: liquidityCall},
		{Target: q.quoterTarget, AllowFailure: false, CallData: quoteCall},
	})
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: aggregating concentrated quote: %w", err)
	}
	if len(results) != 2 || !results[0].Success || !results[1].Success {
		return nil, fmt.Errorf("tradecontroller: concentrated quote call failed for pool %s", pair.Address())
	}

	liquidityOut, err := q.poolABI.Unpack("liquidity", results[0].ReturnData)
	if err != nil || len(liquidityOut) != 1 {
		return nil, fmt.Errorf("tradecontroller: decoding liquidity: %w", err)
	}
	quoteOut, err := q.quoterABI.Unpack("quoteExactInputSingle", results[1].ReturnData)
	if err != nil || len(quoteOut) != 4 {
		return nil, fmt.Errorf("tradecontroller: decoding quoteExactInputSingle: %w", err)
	}

	return &ConcentratedQuote{
		Liquidity:         liquidityOut[0].(*big.Int),
		AmountOut:         quoteOut[0].(*big.Int),
		SqrtPriceX96After: quoteOut[1].(*big.Int),
	}, nil
}

// SimulateConcentrated builds the ConcentratedTrade a swap of amountIn of
// the quote token (quoteToBase=true for opening) or the base token (closing)
// would produce, assigning signed amount0/amount1 by which side is WETH.
func SimulateConcentrated(ctx context.Context, q *ConcentratedQuoter, pair *dex.ConcentratedPair, maker common.Address, amountIn *big.Int, quoteToBase bool) (*dex.ConcentratedTrade, error) {
	tokenIn, tokenOut := pair.QuoteToken(), pair.BaseToken()
	if !quoteToBase {
		tokenIn, tokenOut = pair.BaseToken(), pair.QuoteToken()
	}
	quote, err := q.Quote(ctx, pair, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	amount0, amount1 := signedAmounts(pair, tokenIn == pair.Token0(), amountIn, quote.AmountOut)
	return dex.NewConcentratedTrade(pair, maker, amount0, amount1, quote.SqrtPriceX96After, quote.Liquidity), nil
}

// signedAmounts assigns signed pool-perspective amounts: the pool receives
// amountIn on the in-side (positive) and pays out amountOut on the out-side
// (negative).
func signedAmounts(pair *dex.ConcentratedPair, inIsToken0 bool, amountIn, amountOut *big.Int) (amount0, amount1 *big.Int) {
	negOut := new(big.Int).Neg(amountOut)
	if inIsToken0 {
		return new(big.Int).Set(amountIn), negOut
	}
	return negOut, new(big.Int).Set(amountIn)
}
