package tradecontroller

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

const getReservesABIJSON = `[{"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}]`

var getReservesABI = mustABI(getReservesABIJSON)

// ReserveReader reads a constant-product pool's current reserves (the
// on-chain getReserves view), used by the backtest/test dispatch path to
// simulate a trade against live reserves without sending one.
type ReserveReader struct {
	Eth *ethclient.Client
}

func (r *ReserveReader) Reserves(ctx context.Context, pool common.Address) (reserve0, reserve1 *big.Int, err error) {
	data, err := getReservesABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("tradecontroller: packing getReserves: %w", err)
	}
	out, err := r.Eth.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("tradecontroller: reading reserves for %s: %w", pool, err)
	}
	unpacked, err := getReservesABI.Unpack("getReserves", out)
	if err != nil || len(unpacked) != 3 {
		return nil, nil, fmt.Errorf("tradecontroller: decoding reserves for %s: %w", pool, err)
	}
	return unpacked[0].(*big.Int), unpacked[1].(*big.Int), nil
}

// blockTimestamp looks up a block's header timestamp, defaulting to zero on
// error rather than failing the whole simulation over an observability
// detail.
func blockTimestamp(ctx context.Context, eth *ethclient.Client, blockNumber uint64) uint64 {
	head, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0
	}
	return head.Time
}

// BacktestConstantProductOpen/Close simulate a constant-product swap against
// live reserves without sending a transaction, for the Backtest/Test
// dispatch path.
type BacktestConstantProductOpen struct {
	Reserves *ReserveReader
	Pair     *dex.ConstantProductPair
	Maker    common.Address
	Eth      *ethclient.Client
	NowBlock uint64
}

func (r *BacktestConstantProductOpen) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *BacktestConstantProductOpen) Trace(context.Context) error { return nil }
func (r *BacktestConstantProductOpen) Send(context.Context) (PendingTx, error) {
	return nil, fmt.Errorf("tradecontroller: Send called on a backtest request")
}

func (r *BacktestConstantProductOpen) Simulate(ctx context.Context) (TradeMetadata, error) {
	r0, r1, err := r.Reserves.Reserves(ctx, r.Pair.Address())
	if err != nil {
		return TradeMetadata{}, err
	}
	result, err := SimulateConstantProduct(r.Pair, r.Maker, r0, r1, true)
	if err != nil {
		return TradeMetadata{}, err
	}
	gasFee, err := GasFee(ctx, r.Eth, r.NowBlock, r.Pair.GasEstimateUnits())
	if err != nil {
		return TradeMetadata{}, err
	}
	return TradeMetadata{
		BlockNumber:    r.NowBlock,
		BlockTimestamp: blockTimestamp(ctx, r.Eth, r.NowBlock),
		Op:             OpOpen,
		TokenAddress:   r.TokenAddress(),
		GasFee:         gasFee,
		IndexedTrade:   result.Trade,
	}, nil
}

type BacktestConstantProductClose struct {
	Reserves        *ReserveReader
	Pair            *dex.ConstantProductPair
	Maker           common.Address
	Eth             *ethclient.Client
	NowBlock        uint64
	OpenTradeRecord dex.IndexedTrade
	OpenTxHash      common.Hash
}

func (r *BacktestConstantProductClose) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *BacktestConstantProductClose) OpenTrade() dex.IndexedTrade { return r.OpenTradeRecord }
func (r *BacktestConstantProductClose) OpenTx() common.Hash { return r.OpenTxHash }
func (r *BacktestConstantProductClose) Trace(context.Context) error { return nil }
func (r *BacktestConstantProductClose) Send(context.Context) (PendingTx, error) {
	return nil, fmt.Errorf("tradecontroller: Send called on a backtest request")
}

func (r *BacktestConstantProductClose) Simulate(ctx context.Context) (TradeMetadata, error) {
	r0, r1, err := r.Reserves.Reserves(ctx, r.Pair.Address())
	if err != nil {
		return TradeMetadata{}, err
	}
	result, err := SimulateConstantProduct(r.Pair, r.Maker, r0, r1, false)
	if err != nil {
		return TradeMetadata{}, err
	}
	gasFee, err := GasFee(ctx, r.Eth, r.NowBlock, r.Pair.GasEstimateUnits())
	if err != nil {
		return TradeMetadata{}, err
	}
	return TradeMetadata{
		BlockNumber:    r.NowBlock,
		BlockTimestamp: blockTimestamp(ctx, r.Eth, r.NowBlock),
		Op:             OpClose,
		OpenTrade:      r.OpenTradeRecord,
		OpenTx:         r.OpenTxHash,
		TokenAddress:   r.TokenAddress(),
		GasFee:         gasFee,
		IndexedTrade:   result.Trade,
	}, nil
}

// BacktestConcentratedOpen/Close mirror the constant-product pair above but
// quote through ConcentratedQuoter rather than raw reserves.
type BacktestConcentratedOpen struct {
	Quoter      *ConcentratedQuoter
	Pair        *dex.ConcentratedPair
	Maker       common.Address
	Eth         *ethclient.Client
	AmountInWei *big.Int
	NowBlock    uint64
}

func (r *BacktestConcentratedOpen) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *BacktestConcentratedOpen) Trace(context.Context) error { return nil }
func (r *BacktestConcentratedOpen) Send(context.Context) (PendingTx, error) {
	return nil, fmt.Errorf("tradecontroller: Send called on a backtest request")
}

func (r *BacktestConcentratedOpen) Simulate(ctx context.Context) (TradeMetadata, error) {
	trade, err := SimulateConcentrated(ctx, r.Quoter, r.Pair, r.Maker, r.AmountInWei, true)
	if err != nil {
		return TradeMetadata{}, err
	}
	gasFee, err := GasFee(ctx, r.Eth, r.NowBlock, r.Pair.GasEstimateUnits())
	if err != nil {
		return TradeMetadata{}, err
	}
	return TradeMetadata{
		BlockNumber: r.NowBlock, BlockTimestamp: blockTimestamp(ctx, r.Eth, r.NowBlock), Op: OpOpen,
		TokenAddress: r.TokenAddress(), GasFee: gasFee, IndexedTrade: trade,
	}, nil
}

type BacktestConcentratedClose struct {
	Quoter          *ConcentratedQuoter
	Pair            *dex.ConcentratedPair
	Maker           common.Address
	Eth             *ethclient.Client
	AmountInWei     *big.Int
	NowBlock        uint64
	OpenTradeRecord dex.IndexedTrade
	OpenTxHash      common.Hash
}

func (r *BacktestConcentratedClose) TokenAddress() common.Address { return r.Pair.BaseToken() }
func (r *BacktestConcentratedClose) OpenTrade() dex.IndexedTrade { return r.OpenTradeRecord }
func (r *BacktestConcentratedClose) OpenTx() common.Hash { return r.OpenTxHash }
func (r *BacktestConcentratedClose) Trace(context.Context) error { return nil }
func (r *BacktestConcentratedClose) Send(context.Context) (PendingTx, error) {
	return nil, fmt.Errorf("tradecontroller: Send called on a backtest request")
}

func (r *BacktestConcentratedClose) Simulate(ctx context.Context) (TradeMetadata, error) {
	trade, err := SimulateConcentrated(ctx, r.Quoter, r.Pair, r.Maker, r.AmountInWei, false)
	if err != nil {
		return TradeMetadata{}, err
	}
	gasFee, err := GasFee(ctx, r.Eth, r.NowBlock, r.Pair.GasEstimateUnits())
	if err != nil {
		return TradeMetadata{}, err
	}
	return TradeMetadata{
		BlockNumber: r.NowBlock, BlockTimestamp: blockTimestamp(ctx, r.Eth, r.NowBlock), Op: OpClose,
		OpenTrade: r.OpenTradeRecord, OpenTx: r.OpenTxHash,
		TokenAddress: r.TokenAddress(), GasFee: gasFee, IndexedTrade: trade,
	}, nil
}
