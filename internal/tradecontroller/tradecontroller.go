// Package tradecontroller implements the per-token active-trade state
// machine and its simulation/send/confirm orchestration: None ->
// PendingOpen -> Open -> PendingClose -> None, with rollback to None or Open
// on failure.
package tradecontroller

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lattice-trading/dexstrat/internal/dex"
)

// ActiveState is the per-token position state.
type ActiveState int

const (
	StateNone ActiveState = iota
	StatePendingOpen
	StateOpen
	StatePendingClose
)

func (s ActiveState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePendingOpen:
		return "pending_open"
	case StateOpen:
		return "open"
	case StatePendingClose:
		return "pending_close"
	default:
		return "unknown"
	}
}

// Operation distinguishes an open TradeMetadata from a close one.
type Operation int

const (
	OpOpen Operation = iota
	OpClose
)

// TradeMetadata is immutable after construction.
type TradeMetadata struct {
	TxHash         common.Hash
	BlockNumber    uint64
	BlockTimestamp uint64
	Op             Operation
	// OpenTrade/OpenTx are set only when Op == OpClose: the trade and
	// transaction hash of the position being closed.
	OpenTrade    dex.IndexedTrade
	OpenTx       common.Hash
	TokenAddress common.Address
	GasFee       *big.Int
	IndexedTrade dex.IndexedTrade
}

// ClosedTrade pairs a completed open with its matching close.
type ClosedTrade struct {
	Open  TradeMetadata
	Close TradeMetadata
}

// Mode selects how OpenPosition/ClosePosition dispatch a confirmed trade:
// simulated (backtest/test) or sent on-chain (live).
type Mode int

const (
	// Backtest simulates and confirms inline, so block replay stays
	// deterministic. Test also simulates but confirms in a spawned task,
	// keeping the Pending states observable.
	Backtest Mode = iota
	Test
	Live
)

// OpenRequest is the per-token request to open a position.
type OpenRequest interface {
	TokenAddress() common.Address
	// Trace performs defensive, non-mutating validation. The constant-product
	// variant is a no-op.
	Trace(ctx context.Context) error
	// Simulate runs the backtest/test path and returns the resulting trade
	// metadata as if it had been confirmed on-chain.
	Simulate(ctx context.Context) (TradeMetadata, error)
	// Send builds and submits a live transaction, returning a handle to
	// await its receipt.
	Send(ctx context.Context) (PendingTx, error)
}

// CloseRequest mirrors OpenRequest, keyed off the position being closed.
type CloseRequest interface {
	TokenAddress() common.Address
	OpenTrade() dex.IndexedTrade
	OpenTx() common.Hash
	Trace(ctx context.Context) error
	Simulate(ctx context.Context) (TradeMetadata, error)
	Send(ctx context.Context) (PendingTx, error)
}

// PendingTx is a handle to an in-flight live transaction.
type PendingTx interface {
	// Wait blocks, with its own internal timeout, until the receipt is
	// available and parsed into TradeMetadata.
	Wait(ctx context.Context) (TradeMetadata, error)
}

type tokenState struct {
	active   ActiveState
	openMeta *TradeMetadata
	closed   []ClosedTrade
}

// Controller owns every token's active-trade state under a single
// reader/writer lock: writers are the state transitions below, readers
// are the strategy executor's per-block snapshot and persistence dumps.
type Controller struct {
	mu     sync.RWMutex
	tokens map[common.Address]*tokenState
	mode   Mode

	// OnClosed, if set, is invoked after a close is confirmed and recorded,
	// outside the lock. Used by callers that persist closed round-trips
	// without needing to poll ClosedHistory.
	OnClosed func(token common.Address, trade ClosedTrade)
}

// New constructs an empty controller in the given dispatch mode.
func New(mode Mode) *Controller {
	return &Controller{tokens: make(map[common.Address]*tokenState), mode: mode}
}

func (c *Controller) stateFor(token common.Address) *tokenState {
	st, ok := c.tokens[token]
	if !ok {
		st = &tokenState{}
		c.tokens[token] = st
	}
	return st
}

// Active reports a token's current state and, if Open, its metadata.
func (c *Controller) Active(token common.Address) (ActiveState, *TradeMetadata) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.tokens[token]
	if !ok {
		return StateNone, nil
	}
	return st.active, st.openMeta
}

// LastClosed returns the most recent closed trade for token, if any.
func (c *Controller) LastClosed(token common.Address) (ClosedTrade, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.tokens[token]
	if !ok || len(st.closed) == 0 {
		return ClosedTrade{}, false
	}
	return st.closed[len(st.closed)-1], true
}

// ClosedHistory returns every closed trade for token, oldest first.
func (c *Controller) ClosedHistory(token common.Address) []ClosedTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.tokens[token]
	if !ok {
		return nil
	}
	out := make([]ClosedTrade, len(st.closed))
	copy(out, st.closed)
	return out
}

// OpenPosition drives the open side of the state machine: claim PendingOpen,
// validate outside the lock, then confirm a simulated trade inline
// (Backtest), in a spawned task (Test), or send and await the receipt
// (Live). Any failure before confirmation rolls the token back to None.
func (c *Controller) OpenPosition(ctx context.Context, req OpenRequest) error {
	token := req.TokenAddress()

	c.mu.Lock()
	st := c.stateFor(token)
	if st.active != StateNone {
		c.mu.Unlock()
		return fmt.Errorf("tradecontroller: token %s: open requested while active=%s", token, st.active)
	}
	st.active = StatePendingOpen
	c.mu.Unlock()

	if err := req.Trace(ctx); err != nil {
		c.rollbackTo(token, StateNone, nil)
		return fmt.Errorf("tradecontroller: token %s: trace failed: %w", token, err)
	}

	switch c.mode {
	case Backtest:
		// Backtest replay is deterministic only if the trade state at the
		// top of the next block reflects this block's submissions, so the
		// simulate-and-confirm runs inline rather than in a spawned task.
		meta, err := req.Simulate(ctx)
		c.onConfirmedOpen(token, meta, err)
		return nil
	case Test:
		go func() {
			meta, err := req.Simulate(context.WithoutCancel(ctx))
			c.onConfirmedOpen(token, meta, err)
		}()
		return nil
	default:
		pending, err := req.Send(ctx)
		if err != nil {
			c.rollbackTo(token, StateNone, nil)
			return fmt.Errorf("tradecontroller: token %s: send failed: %w", token, err)
		}
		go func() {
			// The receipt wait outlives the caller's (per-block) context;
			// only its values carry over, not its cancellation.
			meta, err := pending.Wait(context.WithoutCancel(ctx))
			c.onConfirmedOpen(token, meta, err)
		}()
		return nil
	}
}

func (c *Controller) onConfirmedOpen(token common.Address, meta TradeMetadata, err error) {
	if err != nil {
		log.Printf("tradecontroller: token %s: open confirmation failed: %v", token, err)
		c.rollbackTo(token, StateNone, nil)
		return
	}
	c.mu.Lock()
	st := c.stateFor(token)
	st.active = StateOpen
	m := meta
	st.openMeta = &m
	c.mu.Unlock()
}

// ClosePosition mirrors OpenPosition: the prior Open(openMeta) is
// swapped for PendingClose; success records (open, close) and clears the
// active state, failure restores Open(openMeta).
func (c *Controller) ClosePosition(ctx context.Context, req CloseRequest) error {
	token := req.TokenAddress()

	c.mu.Lock()
	st := c.stateFor(token)
	if st.active != StateOpen || st.openMeta == nil {
		c.mu.Unlock()
		return fmt.Errorf("tradecontroller: token %s: close requested while active=%s", token, st.active)
	}
	openMeta := *st.openMeta
	st.active = StatePendingClose
	c.mu.Unlock()

	if err := req.Trace(ctx); err != nil {
		c.rollbackTo(token, StateOpen, &openMeta)
		return fmt.Errorf("tradecontroller: token %s: trace failed: %w", token, err)
	}

	switch c.mode {
	case Backtest:
		meta, err := req.Simulate(ctx)
		c.onConfirmedClose(token, openMeta, meta, err)
		return nil
	case Test:
		go func() {
			meta, err := req.Simulate(context.WithoutCancel(ctx))
			c.onConfirmedClose(token, openMeta, meta, err)
		}()
		return nil
	default:
		pending, err := req.Send(ctx)
		if err != nil {
			c.rollbackTo(token, StateOpen, &openMeta)
			return fmt.Errorf("tradecontroller: token %s: send failed: %w", token, err)
		}
		go func() {
			meta, err := pending.Wait(context.WithoutCancel(ctx))
			c.onConfirmedClose(token, openMeta, meta, err)
		}()
		return nil
	}
}

func (c *Controller) onConfirmedClose(token common.Address, openMeta, closeMeta TradeMetadata, err error) {
	if err != nil {
		log.Printf("tradecontroller: token %s: close confirmation failed: %v", token, err)
		c.rollbackTo(token, StateOpen, &openMeta)
		return
	}
	c.mu.Lock()
	st := c.stateFor(token)
	st.active = StateNone
	st.openMeta = nil
	trade := ClosedTrade{Open: openMeta, Close: closeMeta}
	st.closed = append(st.closed, trade)
	c.mu.Unlock()

	if c.OnClosed != nil {
		c.OnClosed(token, trade)
	}
}

func (c *Controller) rollbackTo(token common.Address, state ActiveState, meta *TradeMetadata) {
	c.mu.Lock()
	st := c.stateFor(token)
	st.active = state
	st.openMeta = meta
	c.mu.Unlock()
}

// pollInterval is the pending-state poll cadence.
const pollInterval = dex.AverageBlockTimeSeconds * time.Second

// PendingHandle blocks until no token anywhere is PendingOpen/PendingClose,
// polling once per average block interval.
func (c *Controller) PendingHandle(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !c.anyPending() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) anyPending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, st := range c.tokens {
		if st.active == StatePendingOpen || st.active == StatePendingClose {
			return true
		}
	}
	return false
}
