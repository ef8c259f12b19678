package journal

import (
	"time"

	"gorm.io/datatypes"
)

// FillRecord is one applied execution. The journal is observational; the
// snapshot store remains the authoritative state.
type FillRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Symbol    string `gorm:"index;size:32"`
	OrderID   string `gorm:"index;size:64"`
	ClientID  string `gorm:"size:64"`
	Side      string `gorm:"size:8"`
	Price     string `gorm:"size:64"`
	Quantity  string `gorm:"size:64"`
	Fee       string `gorm:"size:64"`
	PnL       string `gorm:"size:64"`
	Details   datatypes.JSON
	CreatedAt time.Time
}

// RiskEventRecord captures pauses, resets and forced exits for post-hoc
// diagnosis.
type RiskEventRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Symbol    string `gorm:"index;size:32"`
	Kind      string `gorm:"size:32"`
	Cause     string `gorm:"size:32"`
	Reason    string
	Details   datatypes.JSON
	CreatedAt time.Time
}
