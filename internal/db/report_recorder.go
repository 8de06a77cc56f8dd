package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StrategyReportRecord represents the database model for one per-block
// executor report: which pairs were opened and closed while processing that
// block.
type StrategyReportRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	BlockNumber uint64    `gorm:"index;not null"`
	OpenedCount int       `gorm:"not null"`
	ClosedCount int       `gorm:"not null"`
	Opened      string    `gorm:"type:json;not null;comment:pair addresses as JSON array"`
	Closed      string    `gorm:"type:json;not null;comment:pair addresses as JSON array"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (StrategyReportRecord) TableName() string {
	return "strategy_reports"
}

// RecordStrategyReport persists one per-block report.
func (s *Store) RecordStrategyReport(ctx context.Context, blockNumber uint64, opened, closed []string) error {
	openedJSON, err := json.Marshal(opened)
	if err != nil {
		return fmt.Errorf("db: encoding opened pairs: %w", err)
	}
	closedJSON, err := json.Marshal(closed)
	if err != nil {
		return fmt.Errorf("db: encoding closed pairs: %w", err)
	}
	record := StrategyReportRecord{
		BlockNumber: blockNumber,
		OpenedCount: len(opened),
		ClosedCount: len(closed),
		Opened:      string(openedJSON),
		Closed:      string(closedJSON),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("db: recording strategy report: %w", err)
	}
	return nil
}

// LatestStrategyReport retrieves the most recent report from the database
func (s *Store) LatestStrategyReport(ctx context.Context) (*StrategyReportRecord, error) {
	var record StrategyReportRecord
	if err := s.db.WithContext(ctx).Order("block_number DESC").First(&record).Error; err != nil {
		return nil, fmt.Errorf("db: getting latest strategy report: %w", err)
	}
	return &record, nil
}

// StrategyReportsByBlockRange retrieves reports within a block-number range
func (s *Store) StrategyReportsByBlockRange(ctx context.Context, from, to uint64) ([]StrategyReportRecord, error) {
	var records []StrategyReportRecord
	err := s.db.WithContext(ctx).
		Where("block_number BETWEEN ? AND ?", from, to).
		Order("block_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("db: getting strategy reports by block range: %w", err)
	}
	return records, nil
}

// CountStrategyReports returns the total number of reports in the database
func (s *Store) CountStrategyReports(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&StrategyReportRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("db: counting strategy reports: %w", err)
	}
	return count, nil
}
