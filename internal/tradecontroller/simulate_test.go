package tradecontroller

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

func TestTradeSizeCapsAtPriceImpact(t *testing.T) {
	// 50bp of a small reserve stays under the hard ceiling.
	reserve := big.NewInt(1_000_000)
	got := TradeSize(reserve)
	assert.Equal(t, big.NewInt(5_000), got)
}

func TestTradeSizeCapsAtMax(t *testing.T) {
	// A huge reserve hits the fixed wei ceiling instead.
	reserve := new(big.Int).Mul(dex.MaxTradeSizeWei, big.NewInt(10_000))
	got := TradeSize(reserve)
	assert.Equal(t, dex.MaxTradeSizeWei, got)
}

func TestConstantProductOutMatchesFormula(t *testing.T) {
	// amount_out = (997*in*reserveOut) / (1000*reserveIn + 997*in)
	in := big.NewInt(1_000)
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(2_000_000)
	got := ConstantProductOut(in, reserveIn, reserveOut)
	assert.Equal(t, big.NewInt(1992), got)
}

func TestSimulateConstantProductOpenMovesReserves(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	tok := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pairAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	pair, err := dex.NewConstantProductPair(pairAddr, weth, tok, weth)
	require.NoError(t, err)

	r0 := big.NewInt(1_000_000) // quote side
	r1 := big.NewInt(2_000_000)
	result, err := SimulateConstantProduct(pair, common.Address{}, r0, r1, true)
	require.NoError(t, err)

	// Quote reserve grows by the input, base reserve shrinks by the output.
	assert.Equal(t, new(big.Int).Add(r0, result.AmountInWei), result.NewReserve0)
	assert.Equal(t, new(big.Int).Sub(r1, result.AmountOutWei), result.NewReserve1)

	// The trade's post-trade reserves match the simulated reserves, so its
	// before-price round-trips to the pre-trade reserve ratio.
	before, err := result.Trade.PriceBefore()
	require.NoError(t, err)
	after, err := result.Trade.PriceAfter()
	require.NoError(t, err)
	// Buying the base token with quote raises the quote-per-base price.
	assert.True(t, after.Cmp(before) > 0)
}

func TestSimulateConstantProductCloseIsSymmetric(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	tok := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pairAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	pair, err := dex.NewConstantProductPair(pairAddr, tok, weth, weth)
	require.NoError(t, err)

	// Quote is token1 here.
	r0 := big.NewInt(2_000_000)
	r1 := big.NewInt(1_000_000)
	result, err := SimulateConstantProduct(pair, common.Address{}, r0, r1, false)
	require.NoError(t, err)

	// Selling the base token: base reserve grows, quote reserve shrinks.
	assert.True(t, result.NewReserve0.Cmp(r0) > 0)
	assert.True(t, result.NewReserve1.Cmp(r1) < 0)
}
