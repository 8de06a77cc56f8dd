// Package executor wires the block stream to the bar store, strategy, and
// trade controller: for each delivered block it snapshots every
// touched pair's bars under the store's own lock, asks the strategy for a
// decision, and dispatches open/close requests to the controller, holding a
// bounded number of in-flight dispatches per block and joining them all
// before the next block is processed.
package executor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/strategy"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

// MaxConcurrentDispatch bounds how many open/close dispatches one block may
// have in flight at once.
const MaxConcurrentDispatch = 16

// RequestFactory builds the controller requests for one pair, binding it to
// whichever concrete AMM variant and live/backtest wiring the caller has
// configured. Token maps a pair address to its non-quote token, which is
// what the trade controller keys its state by.
type RequestFactory interface {
	Token(pair common.Address) (common.Address, error)
	OpenRequest(pair common.Address) (tradecontroller.OpenRequest, error)
	CloseRequest(pair common.Address, openMeta tradecontroller.TradeMetadata) (tradecontroller.CloseRequest, error)
}

// Report is the optional per-block observability snapshot: it carries no
// control-flow significance, only a record of what the executor decided
// for a block.
type Report struct {
	BlockNumber uint64
	Opened      []common.Address
	Closed      []common.Address
}

// Executor is the per-block strategy-execution loop.
type Executor struct {
	Store      *barstore.Store
	Resolution barstore.Resolution
	Strategy   strategy.Strategy
	Controller *tradecontroller.Controller
	Requests   RequestFactory

	// Report, if non-nil, receives one Report per processed block. Sends are
	// non-blocking: a full channel drops the report rather than stalling
	// block processing.
	Report chan<- Report
}

// ProcessBlock handles one delivered block: insert into the bar
// store, then evaluate and dispatch every touched pair concurrently (bounded
// by MaxConcurrentDispatch), joining before returning.
func (e *Executor) ProcessBlock(ctx context.Context, b *block.Block) error {
	if err := e.Store.InsertBlock(ctx, b); err != nil {
		return fmt.Errorf("executor: inserting block %d: %w", b.Number, err)
	}

	bucket := barstore.NewResolutionTimestamp(int64(b.Timestamp), e.Resolution)

	var mu sync.Mutex
	var opened, closed []common.Address

	sem := make(chan struct{}, MaxConcurrentDispatch)
	g, gctx := errgroup.WithContext(ctx)

	for addr := range b.PairTicks {
		addr := addr
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			didOpen, didClose, err := e.evaluatePair(gctx, addr, bucket)
			if err != nil {
				return fmt.Errorf("executor: pair %s: %w", addr, err)
			}
			if didOpen || didClose {
				mu.Lock()
				if didOpen {
					opened = append(opened, addr)
				}
				if didClose {
					closed = append(closed, addr)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if e.Report != nil {
		select {
		case e.Report <- Report{BlockNumber: b.Number, Opened: opened, Closed: closed}:
		default:
		}
	}
	return nil
}

// evaluatePair applies the strategy's should_open/should_close decision
// boundary to one pair's current bucket and dispatches the resulting
// open/close request, if any.
func (e *Executor) evaluatePair(ctx context.Context, pair common.Address, bucket barstore.ResolutionTimestamp) (didOpen, didClose bool, err error) {
	bars := e.Store.Snapshot(pair)
	if bars == nil {
		return false, false, nil
	}

	token, err := e.Requests.Token(pair)
	if err != nil {
		return false, false, err
	}

	state, openMeta := e.Controller.Active(token)
	switch state {
	case tradecontroller.StateNone:
		var lastClosed *strategy.ClosedTrade
		if last, ok := e.Controller.LastClosed(token); ok {
			closeBucket := barstore.NewResolutionTimestamp(int64(last.Close.BlockTimestamp), e.Resolution)
			lastClosed = &strategy.ClosedTrade{CloseBucket: closeBucket}
		}
		decision := e.Strategy.ShouldOpen(bars, bucket, lastClosed)
		if !decision.Ok {
			return false, false, nil
		}
		req, err := e.Requests.OpenRequest(pair)
		if err != nil {
			return false, false, err
		}
		if err := e.Controller.OpenPosition(ctx, req); err != nil {
			return false, false, err
		}
		return true, false, nil

	case tradecontroller.StateOpen:
		if openMeta == nil {
			return false, false, nil
		}
		openBucket := barstore.NewResolutionTimestamp(int64(openMeta.BlockTimestamp), e.Resolution)
		decision := e.Strategy.ShouldClose(bars, bucket, openBucket)
		if !decision.Ok {
			return false, false, nil
		}
		req, err := e.Requests.CloseRequest(pair, *openMeta)
		if err != nil {
			return false, false, err
		}
		if err := e.Controller.ClosePosition(ctx, req); err != nil {
			return false, false, err
		}
		return false, true, nil

	default:
		// PendingOpen/PendingClose: a transition is already in flight, so no
		// decision can be made for this pair this block.
		log.Printf("executor: pair %s token %s: trade state %s during strategy decision, skipping", pair, token, state)
		return false, false, nil
	}
}
