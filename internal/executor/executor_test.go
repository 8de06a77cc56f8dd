package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
	"github.com/lattice-trading/dexstrat/internal/strategy"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

type stubStrategy struct {
	openOk  bool
	closeOk bool
}

func (s stubStrategy) ShouldOpen(*barstore.TimePriceBars, barstore.ResolutionTimestamp, *strategy.ClosedTrade) strategy.Decision {
	return strategy.Decision{Ok: s.openOk, Reason: "stubbed"}
}

func (s stubStrategy) ShouldClose(*barstore.TimePriceBars, barstore.ResolutionTimestamp, barstore.ResolutionTimestamp) strategy.Decision {
	return strategy.Decision{Ok: s.closeOk, Reason: "stubbed"}
}

type stubOpenRequest struct {
	token common.Address
	meta  tradecontroller.TradeMetadata
	gate  *sync.Mutex
}

func (r stubOpenRequest) TokenAddress() common.Address { return r.token }
func (r stubOpenRequest) Trace(context.Context) error { return nil }
func (r stubOpenRequest) Simulate(context.Context) (tradecontroller.TradeMetadata, error) {
	if r.gate != nil {
		r.gate.Lock()
		r.gate.Unlock()
	}
	return r.meta, nil
}
func (r stubOpenRequest) Send(context.Context) (tradecontroller.PendingTx, error) {
	return nil, fmt.Errorf("not live")
}

type stubCloseRequest struct {
	stubOpenRequest
	openTrade dex.IndexedTrade
	openTx    common.Hash
}

func (r stubCloseRequest) OpenTrade() dex.IndexedTrade { return r.openTrade }
func (r stubCloseRequest) OpenTx() common.Hash { return r.openTx }

// stubFactory maps every pair to a single token and records dispatches.
type stubFactory struct {
	mu     sync.Mutex
	token  common.Address
	gate   *sync.Mutex
	opens  int
	closes int
}

func (f *stubFactory) Token(common.Address) (common.Address, error) { return f.token, nil }

func (f *stubFactory) OpenRequest(common.Address) (tradecontroller.OpenRequest, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return stubOpenRequest{token: f.token, meta: tradecontroller.TradeMetadata{BlockNumber: 1, TokenAddress: f.token}, gate: f.gate}, nil
}

func (f *stubFactory) CloseRequest(_ common.Address, openMeta tradecontroller.TradeMetadata) (tradecontroller.CloseRequest, error) {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return stubCloseRequest{
		stubOpenRequest: stubOpenRequest{token: f.token, meta: tradecontroller.TradeMetadata{BlockNumber: 2, Op: tradecontroller.OpClose, TokenAddress: f.token}},
		openTrade:       openMeta.IndexedTrade,
		openTx:          openMeta.TxHash,
	}, nil
}

func testBlock(pair common.Address, number, ts uint64) *block.Block {
	price := fixedpoint.FromFloat64(1.5)
	b := block.NewBlock(number, ts)
	b.PairTicks[pair] = &block.PairBlockTick{
		Tick: block.TickData{Open: price, High: price, Low: price, Close: price, WethVolume: fixedpoint.Zero()},
	}
	return b
}

func waitForState(t *testing.T, c *tradecontroller.Controller, token common.Address, want tradecontroller.ActiveState) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, _ := c.Active(token)
		return state == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProcessBlockDispatchesOpen(t *testing.T) {
	pair := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	controller := tradecontroller.New(tradecontroller.Test)
	factory := &stubFactory{token: token}
	exec := &Executor{
		Store:      barstore.NewStore(barstore.Resolution5Min, 10, barstore.Backtest, nil),
		Resolution: barstore.Resolution5Min,
		Strategy:   stubStrategy{openOk: true},
		Controller: controller,
		Requests:   factory,
	}

	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 100, 1_700_000_000)))
	assert.Equal(t, 1, factory.opens)
	waitForState(t, controller, token, tradecontroller.StateOpen)
}

func TestProcessBlockOpenThenClose(t *testing.T) {
	pair := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	token := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	controller := tradecontroller.New(tradecontroller.Test)
	factory := &stubFactory{token: token}
	exec := &Executor{
		Store:      barstore.NewStore(barstore.Resolution5Min, 10, barstore.Backtest, nil),
		Resolution: barstore.Resolution5Min,
		Strategy:   stubStrategy{openOk: true, closeOk: true},
		Controller: controller,
		Requests:   factory,
	}

	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 100, 1_700_000_000)))
	waitForState(t, controller, token, tradecontroller.StateOpen)

	// With the position open and closeOk set, the next block closes it.
	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 101, 1_700_000_002)))
	assert.Equal(t, 1, factory.closes)
	waitForState(t, controller, token, tradecontroller.StateNone)

	history := controller.ClosedHistory(token)
	require.Len(t, history, 1)
}

func TestProcessBlockSkipsWhilePending(t *testing.T) {
	pair := common.HexToAddress("0x5656565656565656565656565656565656565656")
	token := common.HexToAddress("0x7878787878787878787878787878787878787878")

	var gate sync.Mutex
	gate.Lock()
	controller := tradecontroller.New(tradecontroller.Test)
	factory := &stubFactory{token: token, gate: &gate}
	exec := &Executor{
		Store:      barstore.NewStore(barstore.Resolution5Min, 10, barstore.Backtest, nil),
		Resolution: barstore.Resolution5Min,
		Strategy:   stubStrategy{openOk: true, closeOk: true},
		Controller: controller,
		Requests:   factory,
	}

	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 100, 1_700_000_000)))
	state, _ := controller.Active(token)
	require.Equal(t, tradecontroller.StatePendingOpen, state)

	// The gated open is still pending: the next block must not dispatch.
	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 101, 1_700_000_002)))
	assert.Equal(t, 1, factory.opens)
	assert.Zero(t, factory.closes)

	gate.Unlock()
	waitForState(t, controller, token, tradecontroller.StateOpen)
}

func TestProcessBlockNoDispatchOnErrDecision(t *testing.T) {
	pair := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	token := common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

	controller := tradecontroller.New(tradecontroller.Test)
	factory := &stubFactory{token: token}
	exec := &Executor{
		Store:      barstore.NewStore(barstore.Resolution5Min, 10, barstore.Backtest, nil),
		Resolution: barstore.Resolution5Min,
		Strategy:   stubStrategy{},
		Controller: controller,
		Requests:   factory,
	}

	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 100, 1_700_000_000)))
	assert.Zero(t, factory.opens)

	state, _ := controller.Active(token)
	assert.Equal(t, tradecontroller.StateNone, state)
}

func TestProcessBlockReportsDecisions(t *testing.T) {
	pair := common.HexToAddress("0x1212121212121212121212121212121212121212")
	token := common.HexToAddress("0x3434343434343434343434343434343434343434")

	controller := tradecontroller.New(tradecontroller.Test)
	reports := make(chan Report, 1)
	exec := &Executor{
		Store:      barstore.NewStore(barstore.Resolution5Min, 10, barstore.Backtest, nil),
		Resolution: barstore.Resolution5Min,
		Strategy:   stubStrategy{openOk: true},
		Controller: controller,
		Requests:   &stubFactory{token: token},
		Report:     reports,
	}

	require.NoError(t, exec.ProcessBlock(context.Background(), testBlock(pair, 42, 1_700_000_000)))
	rep := <-reports
	assert.Equal(t, uint64(42), rep.BlockNumber)
	assert.Equal(t, []common.Address{pair}, rep.Opened)
	assert.Empty(t, rep.Closed)
}
