package db

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

// tradeMetadataJSON is the wire shape a closed backtest trade is persisted
// through (`backtest_closed_trades.open_trade_metadata` /
// `.close_trade_metadata`): the same big.Int-as-hex convention as
// blockJSON, since tradecontroller.TradeMetadata carries the same
// consensus-sensitive values.
type tradeMetadataJSON struct {
	TxHash         string `json:"tx_hash,omitempty"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp uint64 `json:"block_timestamp"`
	Op             string `json:"op"`
	OpenTxHash     string `json:"open_tx_hash,omitempty"`
	TokenAddress   string `json:"token_address"`
	GasFeeWei      string `json:"gas_fee_wei"`
	Trade          tradeJSON `json:"trade"`
}

type tradeJSON struct {
	Kind         string `json:"kind"` // "v2" or "v3"
	Maker        string `json:"maker"`
	Amount0In    string `json:"amount0_in,omitempty"`
	Amount1In    string `json:"amount1_in,omitempty"`
	Amount0Out   string `json:"amount0_out,omitempty"`
	Amount1Out   string `json:"amount1_out,omitempty"`
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
	Amount0      string `json:"amount0,omitempty"`
	Amount1      string `json:"amount1,omitempty"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
}

func hexOrEmpty(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.Text(16)
}

func encodeTrade(trade dex.IndexedTrade) tradeJSON {
	switch t := trade.(type) {
	case *dex.ConstantProductTrade:
		return tradeJSON{
			Kind: "v2", Maker: t.Maker().Hex(),
			Amount0In: hexOrEmpty(t.Amount0In), Amount1In: hexOrEmpty(t.Amount1In),
			Amount0Out: hexOrEmpty(t.Amount0Out), Amount1Out: hexOrEmpty(t.Amount1Out),
			Reserve0: hexOrEmpty(t.Reserve0), Reserve1: hexOrEmpty(t.Reserve1),
		}
	case *dex.ConcentratedTrade:
		return tradeJSON{
			Kind: "v3", Maker: t.Maker().Hex(),
			Amount0: hexOrEmpty(t.Amount0), Amount1: hexOrEmpty(t.Amount1),
			SqrtPriceX96: hexOrEmpty(t.SqrtPriceX96), Liquidity: hexOrEmpty(t.Liquidity),
		}
	default:
		return tradeJSON{}
	}
}

// EncodeTradeMetadata serializes one confirmed open or close for storage in
// backtest_closed_trades.
func EncodeTradeMetadata(meta tradecontroller.TradeMetadata) ([]byte, error) {
	op := "open"
	if meta.Op == tradecontroller.OpClose {
		op = "close"
	}
	doc := tradeMetadataJSON{
		TxHash:         meta.TxHash.Hex(),
		BlockNumber:    meta.BlockNumber,
		BlockTimestamp: meta.BlockTimestamp,
		Op:             op,
		OpenTxHash:     meta.OpenTx.Hex(),
		TokenAddress:   meta.TokenAddress.Hex(),
		GasFeeWei:      hexOrEmpty(meta.GasFee),
	}
	if meta.IndexedTrade != nil {
		doc.Trade = encodeTrade(meta.IndexedTrade)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("db: encoding trade metadata: %w", err)
	}
	return raw, nil
}
