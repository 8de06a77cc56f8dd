// Command strategyrunner drives the trading pipeline over the configured
// block range in either live or backtest mode. It takes no positional
// arguments; the run mode, endpoints, and wallet all come from the
// environment (internal/config), with optional strategy parameters from
// strategy.yml.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lattice-trading/dexstrat/internal/barstore"
	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/config"
	"github.com/lattice-trading/dexstrat/internal/db"
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/executor"
	"github.com/lattice-trading/dexstrat/internal/fetcher"
	"github.com/lattice-trading/dexstrat/internal/pairmeta"
	"github.com/lattice-trading/dexstrat/internal/rpcutil"
	"github.com/lattice-trading/dexstrat/internal/strategy"
	"github.com/lattice-trading/dexstrat/internal/tradecontroller"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "strategyrunner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	strategyCfg, err := config.LoadStrategyConfig("strategy.yml")
	if err != nil {
		return err
	}
	logCleanup, err := config.SetupLogging(cfg, "strategyrunner")
	if err != nil {
		return err
	}
	defer logCleanup()

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.RPCURL, err)
	}
	defer client.Close()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mc, err := rpcutil.NewMulticall3Client(client, strategyCfg.MulticallAddress)
	if err != nil {
		return err
	}
	headers, err := rpcutil.NewHeaderCache(client)
	if err != nil {
		return err
	}
	resolver, err := pairmeta.New(mc, cfg.WETHAddress, strategyCfg.V3FactoryAddress)
	if err != nil {
		return err
	}

	fetch := &fetcher.Fetcher{
		Logs:     client,
		Headers:  headers,
		Cache:    store,
		Resolver: resolver,
	}

	barMode := barstore.Live
	var finalizedFn barstore.FinalizedBlockTimestampFunc
	if cfg.Mode == config.ModeBacktest {
		barMode = barstore.Backtest
	} else {
		finalizedFn = func(ctx context.Context) (int64, error) {
			ts, err := rpcutil.FinalizedBlockTimestamp(ctx, client)
			if err != nil {
				return 0, err
			}
			return int64(ts), nil
		}
	}
	bars := barstore.NewStore(strategyCfg.Resolution, strategyCfg.RetentionCount, barMode, finalizedFn)

	var controllerMode tradecontroller.Mode
	if cfg.Mode == config.ModeLive {
		controllerMode = tradecontroller.Live
	} else {
		controllerMode = tradecontroller.Backtest
	}
	controller := tradecontroller.New(controllerMode)

	var backtestID uint
	if cfg.Mode == config.ModeBacktest {
		backtestID, err = store.CreateBacktest(ctx, cfg.StartBlockID.Number, cfg.EndBlockID.Number)
		if err != nil {
			return err
		}
		controller.OnClosed = func(token common.Address, trade tradecontroller.ClosedTrade) {
			openJSON, err := db.EncodeTradeMetadata(trade.Open)
			if err != nil {
				log.Printf("strategyrunner: encoding open trade metadata for %s: %v", token, err)
				return
			}
			closeJSON, err := db.EncodeTradeMetadata(trade.Close)
			if err != nil {
				log.Printf("strategyrunner: encoding close trade metadata for %s: %v", token, err)
				return
			}
			if err := store.RecordClosedTrade(ctx, backtestID, token, trade.Close.BlockTimestamp, openJSON, closeJSON); err != nil {
				log.Printf("strategyrunner: recording closed trade for %s: %v", token, err)
			}
		}
		bars.OnFinalized = func(pair common.Address, bucket barstore.ResolutionTimestamp, bar *barstore.TimePriceBar) {
			data, err := db.EncodeBar(bar)
			if err != nil {
				log.Printf("strategyrunner: encoding bar for %s@%d: %v", pair, bucket, err)
				return
			}
			if err := store.RecordBar(ctx, backtestID, pair, strategyCfg.Resolution.String(), uint64(bucket), data); err != nil {
				log.Printf("strategyrunner: recording bar for %s@%d: %v", pair, bucket, err)
			}
		}
	}

	requests := newRequestFactory(cfg, strategyCfg, client, mc, resolver, bars)

	reportChan := make(chan executor.Report, strategyCfg.ReportBuffer)
	exec := &executor.Executor{
		Store:      bars,
		Resolution: strategyCfg.Resolution,
		Strategy:   strategy.Momentum{},
		Controller: controller,
		Requests:   requests,
		Report:     reportChan,
	}

	deliver := func(ctx context.Context, b *block.Block) error {
		return exec.ProcessBlock(ctx, b)
	}

	runErr := make(chan error, 1)
	go func() {
		defer close(reportChan)
		if cfg.Mode == config.ModeBacktest {
			runErr <- fetch.Run(ctx, cfg.StartBlockID.Number, cfg.EndBlockID.Number, deliver)
			return
		}
		runErr <- tailHead(ctx, client, fetch, deliver)
	}()

	for rep := range reportChan {
		if len(rep.Opened) == 0 && len(rep.Closed) == 0 {
			continue
		}
		log.Printf("block %d: opened=%v closed=%v", rep.BlockNumber, rep.Opened, rep.Closed)
		if err := store.RecordStrategyReport(ctx, rep.BlockNumber, addressStrings(rep.Opened), addressStrings(rep.Closed)); err != nil {
			log.Printf("strategyrunner: recording report for block %d: %v", rep.BlockNumber, err)
		}
	}

	if err := <-runErr; err != nil {
		return fmt.Errorf("running fetcher pipeline: %w", err)
	}
	if err := controller.PendingHandle(ctx); err != nil {
		return fmt.Errorf("awaiting pending trades: %w", err)
	}
	return nil
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

// tailHead follows the chain head in live mode: each iteration runs the
// pipeline over the blocks produced since the previous head sample, then
// re-samples. Termination is by context cancellation only.
func tailHead(ctx context.Context, client *ethclient.Client, fetch *fetcher.Fetcher, deliver fetcher.Deliver) error {
	hdr, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("sampling chain head: %w", err)
	}
	next := hdr.Number.Uint64()

	ticker := time.NewTicker(dex.AverageBlockTimeSeconds * time.Second)
	defer ticker.Stop()
	for {
		hdr, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("sampling chain head: %w", err)
		}
		if head := hdr.Number.Uint64(); head >= next {
			if err := fetch.Run(ctx, next, head, deliver); err != nil {
				return err
			}
			next = head + 1
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
