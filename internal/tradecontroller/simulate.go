package tradecontroller

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/rpcutil"
)

// bps is the denominator for basis-point fractions.
const bps = 10_000

// v2FeeNumerator/v2FeeDenominator encode Uniswap-v2's 0.3% swap fee in the
// constant-product output formula.
const v2FeeNumerator = 997
const v2FeeDenominator = 1000

// TradeSize returns the simulated input amount for a constant-product trade
// against a pool holding wethReserve quote-token reserves: the smaller of
// the fixed MaxTradeSizeWei ceiling and a fixed price-impact cap of
// PriceImpactCapBps of the reserve.
func TradeSize(wethReserve *big.Int) *big.Int {
	capped := new(big.Int).Mul(wethReserve, big.NewInt(dex.PriceImpactCapBps))
	capped.Quo(capped, big.NewInt(bps))
	if capped.Cmp(dex.MaxTradeSizeWei) > 0 {
		return new(big.Int).Set(dex.MaxTradeSizeWei)
	}
	return capped
}

// ConstantProductOut computes the Uniswap-v2 output amount for an input of
// amountIn against reserves (reserveIn, reserveOut).
func ConstantProductOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(v2FeeNumerator))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(v2FeeDenominator))
	denominator.Add(denominator, amountInWithFee)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return numerator.Quo(numerator, denominator)
}

// ConstantProductSimResult is the outcome of simulating one constant-product
// swap, ready to become an IndexedTrade and the post-trade reserves state a
// caller should carry forward into a subsequent close simulation.
type ConstantProductSimResult struct {
	Trade           *dex.ConstantProductTrade
	NewReserve0     *big.Int
	NewReserve1     *big.Int
	AmountInWei     *big.Int
	AmountOutWei    *big.Int
}

// SimulateConstantProduct simulates a swap of the quote token into the base
// token (quoteToBase=true, i.e. opening a position) or the reverse (closing
// one), sized per TradeSize against the reserve of the token being sold: the
// quote-token reserve when opening, the base-token reserve when closing.
func SimulateConstantProduct(pair *dex.ConstantProductPair, maker common.Address, reserve0, reserve1 *big.Int, quoteToBase bool) (*ConstantProductSimResult, error) {
	reserveQuote, reserveBase := reserve0, reserve1
	quote0 := pair.QuoteIsToken0()
	if !quote0 {
		reserveQuote, reserveBase = reserve1, reserve0
	}

	var amountIn, amountOut *big.Int
	var newReserveQuote, newReserveBase *big.Int
	if quoteToBase {
		amountIn = TradeSize(reserveQuote)
		amountOut = ConstantProductOut(amountIn, reserveQuote, reserveBase)
		newReserveQuote = new(big.Int).Add(reserveQuote, amountIn)
		newReserveBase = new(big.Int).Sub(reserveBase, amountOut)
	} else {
		amountIn = TradeSize(reserveBase)
		amountOut = ConstantProductOut(amountIn, reserveBase, reserveQuote)
		newReserveBase = new(big.Int).Add(reserveBase, amountIn)
		newReserveQuote = new(big.Int).Sub(reserveQuote, amountOut)
	}

	zero := big.NewInt(0)
	var amount0In, amount1In, amount0Out, amount1Out *big.Int
	var newReserve0, newReserve1 *big.Int
	if quote0 {
		newReserve0, newReserve1 = newReserveQuote, newReserveBase
	} else {
		newReserve0, newReserve1 = newReserveBase, newReserveQuote
	}
	switch {
	case quoteToBase && quote0:
		amount0In, amount1In, amount0Out, amount1Out = amountIn, zero, zero, amountOut
	case quoteToBase && !quote0:
		amount0In, amount1In, amount0Out, amount1Out = zero, amountIn, amountOut, zero
	case !quoteToBase && quote0:
		amount0In, amount1In, amount0Out, amount1Out = zero, amountIn, amountOut, zero
	default:
		amount0In, amount1In, amount0Out, amount1Out = amountIn, zero, zero, amountOut
	}

	trade := dex.NewConstantProductTrade(pair, maker, amount0In, amount1In, amount0Out, amount1Out, newReserve0, newReserve1)
	return &ConstantProductSimResult{
		Trade:        trade,
		NewReserve0:  newReserve0,
		NewReserve1:  newReserve1,
		AmountInWei:  amountIn,
		AmountOutWei: amountOut,
	}, nil
}

// GasFee pulls the execution block's median transaction gas price and
// multiplies it by the pair's fixed gas-unit estimate.
func GasFee(ctx context.Context, eth *ethclient.Client, blockNumber uint64, gasUnits uint64) (*big.Int, error) {
	medianPrice, err := rpcutil.MedianBlockGasPrice(ctx, eth, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("tradecontroller: gas fee lookup for block %d: %w", blockNumber, err)
	}
	return new(big.Int).Mul(medianPrice, new(big.Int).SetUint64(gasUnits)), nil
}
