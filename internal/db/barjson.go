package db

import (
	"encoding/json"
	"fmt"

	"github.com/lattice-trading/dexstrat/internal/barstore"
)

// barJSON is the wire shape a finalized bar is persisted through
// (`backtest_time_price_bars.data`).
type barJSON struct {
	StartBlock uint64        `json:"start_block"`
	EndBlock   uint64        `json:"end_block"`
	Tick       tickDataJSON  `json:"tick"`
	Indicators *indicatorsJSON `json:"indicators,omitempty"`
}

type indicatorsJSON struct {
	EMAValue  string         `json:"ema_value"`
	EMASlope  string         `json:"ema_slope"`
	Bollinger *bollingerJSON `json:"bollinger,omitempty"`
}

type bollingerJSON struct {
	SMA      string `json:"sma"`
	Upper    string `json:"upper"`
	Lower    string `json:"lower"`
	SMASlope string `json:"sma_slope"`
}

// EncodeBar serializes one finalized bar for storage.
func EncodeBar(bar *barstore.TimePriceBar) ([]byte, error) {
	doc := barJSON{
		StartBlock: bar.StartBlock,
		EndBlock:   bar.EndBlock,
		Tick: tickDataJSON{
			Open:       bar.Data.Open.Raw().Hex(),
			High:       bar.Data.High.Raw().Hex(),
			Low:        bar.Data.Low.Raw().Hex(),
			Close:      bar.Data.Close.Raw().Hex(),
			WethVolume: bar.Data.WethVolume.Raw().Hex(),
		},
	}
	if bar.Indicators != nil {
		ind := &indicatorsJSON{
			EMAValue: bar.Indicators.EMA.Value.Raw().Hex(),
			EMASlope: bar.Indicators.EMA.Slope.BigInt().Text(16),
		}
		if bb := bar.Indicators.Bollinger; bb != nil {
			ind.Bollinger = &bollingerJSON{
				SMA:      bb.SMA.Raw().Hex(),
				Upper:    bb.Upper.Raw().Hex(),
				Lower:    bb.Lower.Raw().Hex(),
				SMASlope: bb.SMASlope.BigInt().Text(16),
			}
		}
		doc.Indicators = ind
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("db: encoding bar: %w", err)
	}
	return raw, nil
}
