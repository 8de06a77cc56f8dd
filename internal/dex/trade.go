package dex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

// IndexedTrade is a normalized swap event: pair, maker, signed amounts, and
// the price it produced. Variants mirror the Pair variants.
type IndexedTrade interface {
	Pair() Pair
	Maker() common.Address
	// PriceAfter is the pool price (quote per base) immediately following
	// this trade.
	PriceAfter() (fixedpoint.Q3296, error)
	// PriceBefore reconstructs the pool price immediately preceding this
	// trade, by undoing its net effect.
	PriceBefore() (fixedpoint.Q3296, error)
	// WethVolume is the gross quote-token volume (in plus out) this trade
	// represents.
	WethVolume() fixedpoint.Q3296
}

// ConstantProductTrade is a Uniswap-v2-style Swap+Sync pair: amounts are the
// gross in/out per side, reserves are the post-trade reserves read from the
// paired Sync event.
type ConstantProductTrade struct {
	pair *ConstantProductPair
	maker common.Address

	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	Reserve0   *big.Int
	Reserve1   *big.Int
}

// NewConstantProductTrade constructs a trade from parsed Swap+Sync fields.
func NewConstantProductTrade(pair *ConstantProductPair, maker common.Address, amount0In, amount1In, amount0Out, amount1Out, reserve0, reserve1 *big.Int) *ConstantProductTrade {
	return &ConstantProductTrade{
		pair: pair, maker: maker,
		Amount0In: amount0In, Amount1In: amount1In,
		Amount0Out: amount0Out, Amount1Out: amount1Out,
		Reserve0: reserve0, Reserve1: reserve1,
	}
}

func (t *ConstantProductTrade) Pair() Pair { return t.pair }
func (t *ConstantProductTrade) Maker() common.Address { return t.maker }

func (t *ConstantProductTrade) quoteBaseReserves() (quote, base *big.Int) {
	if t.pair.QuoteIsToken0() {
		return t.Reserve0, t.Reserve1
	}
	return t.Reserve1, t.Reserve0
}

func (t *ConstantProductTrade) PriceAfter() (fixedpoint.Q3296, error) {
	quote, base := t.quoteBaseReserves()
	return fixedpoint.New(quote, base)
}

func (t *ConstantProductTrade) PriceBefore() (fixedpoint.Q3296, error) {
	// Undo the net amounts applied to each side to recover the reserves
	// that stood immediately before this trade.
	r0 := new(big.Int).Sub(t.Reserve0, t.Amount0In)
	r0.Add(r0, t.Amount0Out)
	r1 := new(big.Int).Sub(t.Reserve1, t.Amount1In)
	r1.Add(r1, t.Amount1Out)
	var quote, base *big.Int
	if t.pair.QuoteIsToken0() {
		quote, base = r0, r1
	} else {
		quote, base = r1, r0
	}
	return fixedpoint.New(quote, base)
}

func (t *ConstantProductTrade) WethVolume() fixedpoint.Q3296 {
	var quoteIn, quoteOut *big.Int
	if t.pair.QuoteIsToken0() {
		quoteIn, quoteOut = t.Amount0In, t.Amount0Out
	} else {
		quoteIn, quoteOut = t.Amount1In, t.Amount1Out
	}
	gross := new(big.Int).Add(quoteIn, quoteOut)
	v, _ := fixedpoint.New(gross, big.NewInt(1))
	return v
}

// ConcentratedTrade is a Uniswap-v3-style Swap event carrying signed amounts
// and the resulting sqrtPriceX96/liquidity directly.
type ConcentratedTrade struct {
	pair  *ConcentratedPair
	maker common.Address

	Amount0       *big.Int // signed: negative means the pool paid this side out
	Amount1       *big.Int
	SqrtPriceX96  *big.Int
	Liquidity     *big.Int
}

// NewConcentratedTrade constructs a trade from a parsed Swap event.
func NewConcentratedTrade(pair *ConcentratedPair, maker common.Address, amount0, amount1, sqrtPriceX96, liquidity *big.Int) *ConcentratedTrade {
	return &ConcentratedTrade{pair: pair, maker: maker, Amount0: amount0, Amount1: amount1, SqrtPriceX96: sqrtPriceX96, Liquidity: liquidity}
}

func (t *ConcentratedTrade) Pair() Pair { return t.pair }
func (t *ConcentratedTrade) Maker() common.Address { return t.maker }

// PriceAfter squares sqrtPriceX96, which gives token1 per token0, and takes
// the reciprocal when token0 is the quote so the result is quote per base.
func (t *ConcentratedTrade) PriceAfter() (fixedpoint.Q3296, error) {
	return fixedpoint.FromSqrtPriceX96(t.SqrtPriceX96, t.pair.QuoteIsToken0())
}

func (t *ConcentratedTrade) PriceBefore() (fixedpoint.Q3296, error) {
	if t.Liquidity == nil || t.Liquidity.Sign() == 0 {
		return fixedpoint.FromSqrtPriceX96(t.SqrtPriceX96, t.pair.QuoteIsToken0())
	}
	// The nonzero side determines which direction sqrtPrice moved: the
	// amount the pool received is positive, the amount it paid is
	// negative. Shift sqrtPriceX96 by amount*2^96/liquidity in the
	// opposite direction to recover the pre-trade price.
	nonzero := t.Amount0
	if nonzero.Sign() == 0 {
		nonzero = t.Amount1
	}
	delta := new(big.Int).Lsh(new(big.Int).Abs(nonzero), 96)
	delta.Quo(delta, t.Liquidity)

	prior := new(big.Int).Set(t.SqrtPriceX96)
	if nonzero.Sign() > 0 {
		prior.Add(prior, delta)
	} else {
		prior.Sub(prior, delta)
		if prior.Sign() < 0 {
			prior.SetInt64(0)
		}
	}
	return fixedpoint.FromSqrtPriceX96(prior, t.pair.QuoteIsToken0())
}

func (t *ConcentratedTrade) WethVolume() fixedpoint.Q3296 {
	var quoteAmount *big.Int
	if t.pair.QuoteIsToken0() {
		quoteAmount = t.Amount0
	} else {
		quoteAmount = t.Amount1
	}
	gross := new(big.Int).Abs(quoteAmount)
	v, _ := fixedpoint.New(gross, big.NewInt(1))
	return v
}
