// Package journal keeps an append-only sqlite record of fills and risk
// events. Losing it costs diagnostics, never capital.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"keel/internal/gateway/exchange"
	"keel/internal/logger"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&FillRecord{}, &RiskEventRecord{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordFill journals one applied execution. Failures are logged, not
// propagated: the trading path never blocks on diagnostics.
func (s *Store) RecordFill(symbol, orderID, clientID string, side exchange.Side, price, qty, fee, pnl decimal.Decimal, details map[string]any) {
	if s == nil || s.db == nil {
		return
	}
	rec := FillRecord{
		Symbol:    strings.ToUpper(symbol),
		OrderID:   orderID,
		ClientID:  clientID,
		Side:      string(side),
		Price:     price.String(),
		Quantity:  qty.String(),
		Fee:       fee.String(),
		PnL:       pnl.String(),
		Details:   encodeDetails(details),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Warnf("journal: record fill failed symbol=%s order=%s err=%v", symbol, orderID, err)
	}
}

// RecordRiskEvent journals a pause, reset or forced exit.
func (s *Store) RecordRiskEvent(symbol, kind, cause, reason string, details map[string]any) {
	if s == nil || s.db == nil {
		return
	}
	rec := RiskEventRecord{
		Symbol:    strings.ToUpper(symbol),
		Kind:      kind,
		Cause:     cause,
		Reason:    reason,
		Details:   encodeDetails(details),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Warnf("journal: record risk event failed symbol=%s kind=%s err=%v", symbol, kind, err)
	}
}

// RecentFills returns the latest fills for a symbol, newest first.
func (s *Store) RecentFills(symbol string, limit int) ([]FillRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []FillRecord
	err := s.db.
		Where("symbol = ?", strings.ToUpper(symbol)).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeDetails(details map[string]any) datatypes.JSON {
	if len(details) == 0 {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
