package engine

import (
	"time"

	"keel/internal/ledger"

	"github.com/shopspring/decimal"
)

// Status is a point-in-time copy of one engine's observable state, safe to
// serialize without further locking.
type Status struct {
	Symbol   string          `json:"symbol"`
	Running  bool            `json:"running"`
	Interval string          `json:"interval"`
	Strategy string          `json:"strategy"`
	Template string          `json:"template,omitempty"`
	Equity   decimal.Decimal `json:"equity"`
	WinRate  float64         `json:"win_rate"`
	Candles  int             `json:"candles_cached"`
	At       time.Time       `json:"at"`
	Ledger   ledger.Ledger   `json:"ledger"`
}

// Status snapshots the engine under a short lock.
func (e *AssetEngine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	led := *e.led
	if led.PendingBuy != nil {
		po := *led.PendingBuy
		led.PendingBuy = &po
	}
	if led.PendingSell != nil {
		po := *led.PendingSell
		led.PendingSell = &po
	}
	return Status{
		Symbol:   e.asset.Symbol,
		Running:  e.running,
		Interval: e.asset.Interval,
		Strategy: e.asset.Strategy,
		Template: e.asset.Template,
		Equity:   e.led.Equity(),
		WinRate:  e.led.WinRate(),
		Candles:  len(e.candles),
		At:       time.Now().UTC(),
		Ledger:   led,
	}
}
