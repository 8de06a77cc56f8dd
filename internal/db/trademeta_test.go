package db

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

func testPair(t *testing.T) *dex.ConstantProductPair {
	t.Helper()
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	tok := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pair, err := dex.NewConstantProductPair(common.HexToAddress("0x2222222222222222222222222222222222222222"), weth, tok, weth)
	require.NoError(t, err)
	return pair
}

func TestEncodeTradeMetadataShape(t *testing.T) {
	pair := testPair(t)
	trade := dex.NewConstantProductTrade(pair, common.HexToAddress("0x3333333333333333333333333333333333333333"),
		big.NewInt(1000), big.NewInt(0), big.NewInt(0), big.NewInt(1900),
		big.NewInt(1_001_000), big.NewInt(1_998_100))

	meta := tradecontroller.TradeMetadata{
		BlockNumber:    42,
		BlockTimestamp: 1_700_000_000,
		Op:             tradecontroller.OpOpen,
		TokenAddress:   pair.BaseToken(),
		GasFee:         big.NewInt(260_000_000),
		IndexedTrade:   trade,
	}

	raw, err := EncodeTradeMetadata(meta)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "open", doc["op"])
	assert.Equal(t, float64(42), doc["block_number"])

	tradeDoc, ok := doc["trade"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "v2", tradeDoc["kind"])
	assert.Equal(t, "3e8", tradeDoc["amount0_in"])
}

func TestBlockRecordRoundTrip(t *testing.T) {
	pair := testPair(t)
	blk := block.NewBlock(77, 1_700_000_123)
	price := fixedpoint.FromFloat64(1.25)
	blk.PairTicks[pair.Address()] = &block.PairBlockTick{
		Pair:   pair,
		Makers: []common.Address{common.HexToAddress("0x3333333333333333333333333333333333333333")},
		Tick:   block.TickData{Open: price, High: price, Low: price, Close: price, WethVolume: fixedpoint.Zero()},
	}

	rec, err := encodeBlock(blk)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), rec.Number)

	decoded, err := decodeBlock(rec)
	require.NoError(t, err)
	assert.Equal(t, blk.Number, decoded.Number)
	assert.Equal(t, blk.Timestamp, decoded.Timestamp)

	pt, ok := decoded.PairTicks[pair.Address()]
	require.True(t, ok)
	assert.Equal(t, 0, pt.Tick.Close.Cmp(price))
	assert.Len(t, pt.Makers, 1)
	assert.Equal(t, pair.Token0(), pt.Pair.Token0())
	assert.True(t, pt.Pair.QuoteIsToken0())
}

func TestEncodeBarIncludesIndicators(t *testing.T) {
	bar := barstore.NewPendingBar()
	require.NoError(t, bar.InsertBlock(10, block.TickData{
		Open:       fixedpoint.FromFloat64(1),
		High:       fixedpoint.FromFloat64(2),
		Low:        fixedpoint.FromFloat64(1),
		Close:      fixedpoint.FromFloat64(2),
		WethVolume: fixedpoint.Zero(),
	}))
	finalized, err := bar.AsFinalized(&barstore.Indicators{
		EMA: barstore.EMA{Value: fixedpoint.FromFloat64(1.5), Slope: fixedpoint.ZeroSigned()},
	})
	require.NoError(t, err)

	raw, err := EncodeBar(finalized)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, float64(10), doc["start_block"])
	_, hasIndicators := doc["indicators"]
	assert.True(t, hasIndicators)
}
