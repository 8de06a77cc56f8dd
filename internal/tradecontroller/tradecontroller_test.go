package tradecontroller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

type mockOpenRequest struct {
	token common.Address
	meta  TradeMetadata
	err   error

	// gate, when non-nil, is held by Simulate until released, letting a
	// test observe the PendingOpen window.
	gate *sync.Mutex

	traceErr error
}

func (m *mockOpenRequest) TokenAddress() common.Address { return m.token }
func (m *mockOpenRequest) Trace(context.Context) error { return m.traceErr }
func (m *mockOpenRequest) Send(context.Context) (PendingTx, error) {
	return nil, fmt.Errorf("not a live request")
}

func (m *mockOpenRequest) Simulate(context.Context) (TradeMetadata, error) {
	if m.gate != nil {
		m.gate.Lock()
		m.gate.Unlock()
	}
	return m.meta, m.err
}

type mockCloseRequest struct {
	mockOpenRequest
	openTrade dex.IndexedTrade
	openTx    common.Hash
}

func (m *mockCloseRequest) OpenTrade() dex.IndexedTrade { return m.openTrade }
func (m *mockCloseRequest) OpenTx() common.Hash { return m.openTx }

func waitForState(t *testing.T, c *Controller, token common.Address, want ActiveState) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, _ := c.Active(token)
		return state == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpenThenClose(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := New(Test)

	var gate sync.Mutex
	gate.Lock()
	open := &mockOpenRequest{
		token: token,
		meta:  TradeMetadata{BlockNumber: 100, Op: OpOpen, TokenAddress: token},
		gate:  &gate,
	}
	require.NoError(t, c.OpenPosition(context.Background(), open))

	// While the simulation is gated the token must sit in PendingOpen.
	state, _ := c.Active(token)
	assert.Equal(t, StatePendingOpen, state)

	gate.Unlock()
	waitForState(t, c, token, StateOpen)

	_, openMeta := c.Active(token)
	require.NotNil(t, openMeta)
	assert.Equal(t, uint64(100), openMeta.BlockNumber)

	var closeGate sync.Mutex
	closeGate.Lock()
	closeReq := &mockCloseRequest{
		mockOpenRequest: mockOpenRequest{
			token: token,
			meta:  TradeMetadata{BlockNumber: 110, Op: OpClose, TokenAddress: token},
			gate:  &closeGate,
		},
	}
	require.NoError(t, c.ClosePosition(context.Background(), closeReq))

	state, _ = c.Active(token)
	assert.Equal(t, StatePendingClose, state)

	closeGate.Unlock()
	waitForState(t, c, token, StateNone)

	history := c.ClosedHistory(token)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(100), history[0].Open.BlockNumber)
	assert.Equal(t, uint64(110), history[0].Close.BlockNumber)
}

func TestOpenFailureRollsBackToNone(t *testing.T) {
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	c := New(Test)

	open := &mockOpenRequest{token: token, err: fmt.Errorf("simulated failure")}
	require.NoError(t, c.OpenPosition(context.Background(), open))

	waitForState(t, c, token, StateNone)
	assert.Empty(t, c.ClosedHistory(token))
}

func TestTraceFailureRollsBackSynchronously(t *testing.T) {
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	c := New(Test)

	open := &mockOpenRequest{token: token, traceErr: fmt.Errorf("trace revert")}
	err := c.OpenPosition(context.Background(), open)
	require.Error(t, err)

	state, _ := c.Active(token)
	assert.Equal(t, StateNone, state)
}

func TestOpenWhileActiveRejected(t *testing.T) {
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	c := New(Test)

	var gate sync.Mutex
	gate.Lock()
	defer gate.Unlock()
	first := &mockOpenRequest{token: token, gate: &gate}
	require.NoError(t, c.OpenPosition(context.Background(), first))

	second := &mockOpenRequest{token: token}
	err := c.OpenPosition(context.Background(), second)
	require.Error(t, err)

	// The rejection must not disturb the in-flight open.
	state, _ := c.Active(token)
	assert.Equal(t, StatePendingOpen, state)
}

func TestCloseWithoutOpenRejected(t *testing.T) {
	token := common.HexToAddress("0x5555555555555555555555555555555555555555")
	c := New(Test)

	closeReq := &mockCloseRequest{mockOpenRequest: mockOpenRequest{token: token}}
	err := c.ClosePosition(context.Background(), closeReq)
	require.Error(t, err)

	state, _ := c.Active(token)
	assert.Equal(t, StateNone, state)
}

func TestCloseFailureRestoresOpen(t *testing.T) {
	token := common.HexToAddress("0x6666666666666666666666666666666666666666")
	c := New(Test)

	open := &mockOpenRequest{token: token, meta: TradeMetadata{BlockNumber: 7, Op: OpOpen}}
	require.NoError(t, c.OpenPosition(context.Background(), open))
	waitForState(t, c, token, StateOpen)

	closeReq := &mockCloseRequest{
		mockOpenRequest: mockOpenRequest{token: token, err: fmt.Errorf("close failed")},
	}
	require.NoError(t, c.ClosePosition(context.Background(), closeReq))
	waitForState(t, c, token, StateOpen)

	_, meta := c.Active(token)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(7), meta.BlockNumber)
}

func TestBacktestConfirmsInline(t *testing.T) {
	token := common.HexToAddress("0x7777777777777777777777777777777777777777")
	c := New(Backtest)

	open := &mockOpenRequest{token: token, meta: TradeMetadata{BlockNumber: 9, Op: OpOpen, TokenAddress: token}}
	require.NoError(t, c.OpenPosition(context.Background(), open))

	// No pending window in backtest mode: the state is Open the moment
	// OpenPosition returns.
	state, _ := c.Active(token)
	assert.Equal(t, StateOpen, state)

	closeReq := &mockCloseRequest{
		mockOpenRequest: mockOpenRequest{token: token, meta: TradeMetadata{BlockNumber: 12, Op: OpClose, TokenAddress: token}},
	}
	require.NoError(t, c.ClosePosition(context.Background(), closeReq))

	state, _ = c.Active(token)
	assert.Equal(t, StateNone, state)
	history := c.ClosedHistory(token)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(9), history[0].Open.BlockNumber)
	assert.Equal(t, uint64(12), history[0].Close.BlockNumber)
}

func TestPendingHandleReturnsWhenIdle(t *testing.T) {
	c := New(Test)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.PendingHandle(ctx))
}
