// Package db implements the persisted schema over GORM/MySQL: the indexed
// `blocks` cache the fetcher reads/writes, and the backtest-result tables
// (`backtests`, `backtest_closed_trades`, `backtest_time_price_bars`,
// `strategy_reports`) the backtest driver and read API serve from.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lattice-trading/dexstrat/internal/block"
	"github.com/lattice-trading/dexstrat/internal/dex"
	"github.com/lattice-trading/dexstrat/internal/fixedpoint"
)

// BlockRecord is the GORM model for one indexed block.
type BlockRecord struct {
	Number    uint64 `gorm:"primaryKey"`
	Timestamp uint64 `gorm:"not null"`
	Hash      string `gorm:"type:varchar(66)"`
	PairTicks string `gorm:"type:json;not null"`
}

func (BlockRecord) TableName() string { return "blocks" }

// BacktestRecord is the GORM model for one backtest run.
type BacktestRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	StartBlockNumber uint64    `gorm:"not null"`
	EndBlockNumber   uint64    `gorm:"not null"`
}

func (BacktestRecord) TableName() string { return "backtests" }

// BacktestClosedTradeRecord is the GORM model for one closed round-trip
// trade produced by a backtest.
type BacktestClosedTradeRecord struct {
	ID                      uint   `gorm:"primaryKey;autoIncrement"`
	BacktestID              uint   `gorm:"index;not null"`
	PairAddress             []byte `gorm:"type:binary(20);not null"`
	CloseTradeBlockTimestamp uint64 `gorm:"not null"`
	OpenTradeMetadata       string `gorm:"type:json;not null"`
	CloseTradeMetadata      string `gorm:"type:json;not null"`
}

func (BacktestClosedTradeRecord) TableName() string { return "backtest_closed_trades" }

// BarRecord persists finalized time-price bars per backtest for the read
// API to serve.
type BarRecord struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	BacktestID          uint   `gorm:"index;not null"`
	PairAddress         []byte `gorm:"type:binary(20);not null"`
	Resolution          string `gorm:"type:varchar(8);not null"`
	ResolutionTimestamp uint64 `gorm:"index;not null"`
	Data                string `gorm:"type:json;not null"`
}

func (BarRecord) TableName() string { return "backtest_time_price_bars" }

// Store is the GORM-backed implementation of both fetcher.BlockCache and the
// backtest-result recording/read surface.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn (a MySQL DSN) and migrates every table this package
// owns.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connecting: %w", err)
	}
	if err := db.AutoMigrate(&BlockRecord{}, &BacktestRecord{}, &BacktestClosedTradeRecord{}, &BarRecord{}, &StrategyReportRecord{}); err != nil {
		return nil, fmt.Errorf("db: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("db: getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// RangeBlocks implements fetcher.BlockCache: a contiguous-or-not read of
// every indexed block in [from, to].
func (s *Store) RangeBlocks(ctx context.Context, from, to uint64) ([]*block.Block, error) {
	var records []BlockRecord
	if err := s.db.WithContext(ctx).Where("number BETWEEN ? AND ?", from, to).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("db: ranging blocks [%d,%d]: %w", from, to, err)
	}
	out := make([]*block.Block, 0, len(records))
	for _, rec := range records {
		blk, err := decodeBlock(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

// PersistBlocks implements fetcher.BlockCache: upsert every block by its
// primary key.
func (s *Store) PersistBlocks(ctx context.Context, blocks []*block.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	records := make([]BlockRecord, 0, len(blocks))
	for _, blk := range blocks {
		rec, err := encodeBlock(blk)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := s.db.WithContext(ctx).Save(&records).Error; err != nil {
		return fmt.Errorf("db: persisting %d blocks: %w", len(records), err)
	}
	return nil
}

// CreateBacktest inserts a new backtest run and returns its generated ID.
func (s *Store) CreateBacktest(ctx context.Context, startBlock, endBlock uint64) (uint, error) {
	rec := BacktestRecord{StartBlockNumber: startBlock, EndBlockNumber: endBlock}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("db: creating backtest: %w", err)
	}
	return rec.ID, nil
}

// RecordClosedTrade appends one closed round-trip trade to a backtest's
// history. openMeta/closeMeta are pre-serialized JSON documents; the wire
// shape belongs to this package (EncodeTradeMetadata), not to the
// trade controller.
func (s *Store) RecordClosedTrade(ctx context.Context, backtestID uint, pairAddress common.Address, closeBlockTimestamp uint64, openMeta, closeMeta []byte) error {
	rec := BacktestClosedTradeRecord{
		BacktestID:               backtestID,
		PairAddress:              pairAddress.Bytes(),
		CloseTradeBlockTimestamp: closeBlockTimestamp,
		OpenTradeMetadata:        string(openMeta),
		CloseTradeMetadata:       string(closeMeta),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("db: recording closed trade: %w", err)
	}
	return nil
}

// RecordBar persists one finalized bar for a backtest/pair/resolution.
func (s *Store) RecordBar(ctx context.Context, backtestID uint, pairAddress common.Address, resolution string, resolutionTimestamp uint64, data []byte) error {
	rec := BarRecord{
		BacktestID:          backtestID,
		PairAddress:         pairAddress.Bytes(),
		Resolution:          resolution,
		ResolutionTimestamp: resolutionTimestamp,
		Data:                string(data),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("db: recording bar: %w", err)
	}
	return nil
}

// ListBacktests returns every backtest run, newest first (cmd/backtestapi
// `GET /backtests`).
func (s *Store) ListBacktests(ctx context.Context) ([]BacktestRecord, error) {
	var records []BacktestRecord
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("db: listing backtests: %w", err)
	}
	return records, nil
}

// GetBacktest fetches one backtest by ID (`GET /backtests/:id`).
func (s *Store) GetBacktest(ctx context.Context, id uint) (*BacktestRecord, error) {
	var rec BacktestRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, fmt.Errorf("db: getting backtest %d: %w", id, err)
	}
	return &rec, nil
}

// ClosedTradesForPair returns every closed trade for one backtest/pair,
// ordered by close timestamp (`GET /backtests/:id/pairs/:addr`).
func (s *Store) ClosedTradesForPair(ctx context.Context, backtestID uint, pairAddress common.Address) ([]BacktestClosedTradeRecord, error) {
	var records []BacktestClosedTradeRecord
	err := s.db.WithContext(ctx).
		Where("backtest_id = ? AND pair_address = ?", backtestID, pairAddress.Bytes()).
		Order("close_trade_block_timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("db: listing closed trades: %w", err)
	}
	return records, nil
}

// BarsForPair returns every persisted bar for one backtest/pair/resolution
// within [startAt, endAt] (`GET /backtests/:id/pairs/:addr`).
func (s *Store) BarsForPair(ctx context.Context, backtestID uint, pairAddress common.Address, resolution string, startAt, endAt uint64) ([]BarRecord, error) {
	var records []BarRecord
	err := s.db.WithContext(ctx).
		Where("backtest_id = ? AND pair_address = ? AND resolution = ? AND resolution_timestamp BETWEEN ? AND ?",
			backtestID, pairAddress.Bytes(), resolution, startAt, endAt).
		Order("resolution_timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("db: listing bars: %w", err)
	}
	return records, nil
}

// blockJSON/pairTickJSON/tickDataJSON are the wire shapes `pair_ticks` is
// encoded/decoded through. dex.Pair and fixedpoint.Q3296 carry no JSON
// form of their own, so persistence owns the serialization here.
type blockJSON struct {
	PairTicks map[string]pairTickJSON `json:"pair_ticks"`
}

type pairTickJSON struct {
	Kind    string   `json:"kind"` // "v2" or "v3"
	Token0  string   `json:"token0"`
	Token1  string   `json:"token1"`
	QuoteIsToken0 bool `json:"quote_is_token0"`
	FeeBps  uint32   `json:"fee_bps,omitempty"`
	Makers  []string `json:"makers"`
	Tick    tickDataJSON `json:"tick"`
}

type tickDataJSON struct {
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	WethVolume string `json:"weth_volume"`
}

func encodeBlock(blk *block.Block) (BlockRecord, error) {
	doc := blockJSON{PairTicks: make(map[string]pairTickJSON, len(blk.PairTicks))}
	for addr, tick := range blk.PairTicks {
		makers := make([]string, len(tick.Makers))
		for i, m := range tick.Makers {
			makers[i] = m.Hex()
		}
		entry := pairTickJSON{
			Token0:        tick.Pair.Token0().Hex(),
			Token1:        tick.Pair.Token1().Hex(),
			QuoteIsToken0: tick.Pair.QuoteIsToken0(),
			Makers:        makers,
			Tick: tickDataJSON{
				Open:       tick.Tick.Open.Raw().Hex(),
				High:       tick.Tick.High.Raw().Hex(),
				Low:        tick.Tick.Low.Raw().Hex(),
				Close:      tick.Tick.Close.Raw().Hex(),
				WethVolume: tick.Tick.WethVolume.Raw().Hex(),
			},
		}
		switch p := tick.Pair.(type) {
		case interface{ FeeBps() uint32 }:
			entry.Kind = "v3"
			entry.FeeBps = p.FeeBps()
		default:
			entry.Kind = "v2"
		}
		doc.PairTicks[addr.Hex()] = entry
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("db: encoding block %d: %w", blk.Number, err)
	}
	var hashStr string
	if blk.Hash != nil {
		hashStr = blk.Hash.Hex()
	}
	return BlockRecord{Number: blk.Number, Timestamp: blk.Timestamp, Hash: hashStr, PairTicks: string(raw)}, nil
}

func decodeBlock(rec BlockRecord) (*block.Block, error) {
	var doc blockJSON
	if err := json.Unmarshal([]byte(rec.PairTicks), &doc); err != nil {
		return nil, fmt.Errorf("db: decoding block %d: %w", rec.Number, err)
	}
	blk := block.NewBlock(rec.Number, rec.Timestamp)
	if rec.Hash != "" {
		h := common.HexToHash(rec.Hash)
		blk.Hash = &h
	}
	for addrHex, entry := range doc.PairTicks {
		addr := common.HexToAddress(addrHex)
		var quoteAddr common.Address
		if entry.QuoteIsToken0 {
			quoteAddr = common.HexToAddress(entry.Token0)
		} else {
			quoteAddr = common.HexToAddress(entry.Token1)
		}
		pair, err := decodePair(addr, entry, quoteAddr)
		if err != nil {
			return nil, err
		}
		tickData, err := decodeTickData(entry.Tick)
		if err != nil {
			return nil, err
		}
		makers := make([]common.Address, len(entry.Makers))
		for i, m := range entry.Makers {
			makers[i] = common.HexToAddress(m)
		}
		blk.PairTicks[addr] = &block.PairBlockTick{Pair: pair, Makers: makers, Tick: tickData}
	}
	return blk, nil
}

func decodePair(addr common.Address, entry pairTickJSON, quote common.Address) (dex.Pair, error) {
	token0 := common.HexToAddress(entry.Token0)
	token1 := common.HexToAddress(entry.Token1)
	if entry.Kind == "v3" {
		pair, err := dex.NewConcentratedPair(addr, token0, token1, quote, entry.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("db: reconstructing concentrated pair %s: %w", addr, err)
		}
		return pair, nil
	}
	pair, err := dex.NewConstantProductPair(addr, token0, token1, quote)
	if err != nil {
		return nil, fmt.Errorf("db: reconstructing constant-product pair %s: %w", addr, err)
	}
	return pair, nil
}

func decodeTickData(doc tickDataJSON) (block.TickData, error) {
	open, err := q3296FromHex(doc.Open)
	if err != nil {
		return block.TickData{}, err
	}
	high, err := q3296FromHex(doc.High)
	if err != nil {
		return block.TickData{}, err
	}
	low, err := q3296FromHex(doc.Low)
	if err != nil {
		return block.TickData{}, err
	}
	closeP, err := q3296FromHex(doc.Close)
	if err != nil {
		return block.TickData{}, err
	}
	vol, err := q3296FromHex(doc.WethVolume)
	if err != nil {
		return block.TickData{}, err
	}
	return block.TickData{Open: open, High: high, Low: low, Close: closeP, WethVolume: vol}, nil
}

func q3296FromHex(s string) (fixedpoint.Q3296, error) {
	raw, err := uint256.FromHex(s)
	if err != nil {
		return fixedpoint.Q3296{}, fmt.Errorf("db: decoding fixed-point value %q: %w", s, err)
	}
	return fixedpoint.FromRaw(raw), nil
}
