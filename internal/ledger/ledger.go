// Package ledger holds the authoritative per-asset trading state: capital,
// position, pending orders and risk counters. All monetary fields are exact
// decimals. A Ledger is owned by exactly one asset engine, which serializes
// every mutation; nothing outside that engine writes fields directly.
package ledger

import (
	"strings"
	"time"

	"keel/internal/gateway/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PauseCause tags why an asset is risk-paused. Only CauseDailyLoss clears
// automatically on day rollover.
type PauseCause string

const (
	CauseNone            PauseCause = ""
	CauseDrawdown1h      PauseCause = "drawdown-1h"
	CauseConsecutiveLoss PauseCause = "consecutive-loss"
	CauseDailyLoss       PauseCause = "daily-loss"
	CauseTotalDrawdown   PauseCause = "total-drawdown"
	CauseManual          PauseCause = "manual"
	CauseInvariant       PauseCause = "invariant"
)

// PendingOrder tracks one outstanding order intent. At most one buy and one
// sell may be pending at a time.
type PendingOrder struct {
	ClientID string          `json:"client_id"`
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LastRequest anchors ghost-order detection: the most recent submission's
// parameters plus whether the exchange ever acknowledged it.
type LastRequest struct {
	At        time.Time       `json:"at"`
	Side      exchange.Side   `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	ClientID  string          `json:"client_id"`
	Confirmed bool            `json:"confirmed"`
}

// Ledger is the per-symbol state record. Fields are exported for snapshot
// serialization and status reads; mutate only through the methods below.
type Ledger struct {
	Symbol    string    `json:"symbol"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`

	Capital           decimal.Decimal `json:"capital"`
	InPosition        bool            `json:"in_position"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	EntryCost         decimal.Decimal `json:"entry_cost"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	HighestSinceEntry decimal.Decimal `json:"highest_since_entry"`
	StopLossPrice     decimal.Decimal `json:"stop_loss_price"`

	Day             string          `json:"day"`
	DayStartCapital decimal.Decimal `json:"day_start_capital"`
	TodayPnL        decimal.Decimal `json:"today_pnl"`
	TodayTrades     int             `json:"today_trades"`
	TodayWins       int             `json:"today_wins"`

	TotalTrades int             `json:"total_trades"`
	TotalWins   int             `json:"total_wins"`
	PeakCapital decimal.Decimal `json:"peak_capital"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`

	ConsecutiveLosses int        `json:"consecutive_losses"`
	RiskPaused        bool       `json:"risk_paused"`
	PauseCause        PauseCause `json:"pause_cause"`
	PauseReason       string     `json:"pause_reason"`
	LastTradeAt       time.Time  `json:"last_trade_at"`
	Signal            string     `json:"signal"`

	PendingBuy  *PendingOrder `json:"pending_buy,omitempty"`
	PendingSell *PendingOrder `json:"pending_sell,omitempty"`

	Request         LastRequest     `json:"last_request"`
	LastFillOrderID string          `json:"last_fill_order_id"`
	LastFillPrice   decimal.Decimal `json:"last_fill_price"`
	LastFillQty     decimal.Decimal `json:"last_fill_qty"`
	LastFillFee     decimal.Decimal `json:"last_fill_fee"`
}

// New seeds a fresh zero-state ledger with the configured starting capital.
func New(symbol string, startingCapital decimal.Decimal) *Ledger {
	now := time.Now().UTC()
	return &Ledger{
		Symbol:          strings.ToUpper(strings.TrimSpace(symbol)),
		Capital:         startingCapital,
		DayStartCapital: startingCapital,
		PeakCapital:     startingCapital,
		Day:             now.Format("2006-01-02"),
		UpdatedAt:       now,
		UpdatedBy:       "init",
	}
}

func (l *Ledger) touch(by string) {
	l.UpdatedAt = time.Now().UTC()
	l.UpdatedBy = by
}

// BeginPendingOrder records an order intent and returns the client order ID
// used as the reconciliation match key. It refuses a second intent on the
// same side.
func (l *Ledger) BeginPendingOrder(side exchange.Side, price, qty decimal.Decimal) (string, error) {
	if side == exchange.SideBuy && l.PendingBuy != nil {
		return "", ErrPendingExists
	}
	if side == exchange.SideSell && l.PendingSell != nil {
		return "", ErrPendingExists
	}
	clientID := uuid.NewString()
	po := &PendingOrder{ClientID: clientID, Price: price, Quantity: qty}
	if side == exchange.SideBuy {
		l.PendingBuy = po
	} else {
		l.PendingSell = po
	}
	l.Request = LastRequest{
		At:       time.Now().UTC(),
		Side:     side,
		Price:    price,
		Quantity: qty,
		ClientID: clientID,
	}
	l.touch("begin-order")
	return clientID, nil
}

// ConfirmPendingOrder attaches the exchange-assigned order ID after a
// synchronous acknowledgment.
func (l *Ledger) ConfirmPendingOrder(side exchange.Side, orderID string) {
	po := l.pending(side)
	if po == nil {
		return
	}
	po.OrderID = orderID
	l.Request.Confirmed = true
	l.touch("confirm-order")
}

// Outcome is the terminal resolution of a pending order intent.
type Outcome int

const (
	OutcomeFilled Outcome = iota
	OutcomeCancelled
	OutcomeUnknown
)

// ResolvePendingOrder clears the pending fields for the side. Fill
// accounting happens separately through ApplyFill.
func (l *Ledger) ResolvePendingOrder(side exchange.Side, outcome Outcome) {
	if side == exchange.SideBuy {
		l.PendingBuy = nil
	} else {
		l.PendingSell = nil
	}
	if outcome != OutcomeUnknown {
		l.touch("resolve-order")
	}
}

func (l *Ledger) pending(side exchange.Side) *PendingOrder {
	if side == exchange.SideBuy {
		return l.PendingBuy
	}
	return l.PendingSell
}

// Pause sets the risk-paused flag with its cause tag.
func (l *Ledger) Pause(cause PauseCause, reason string) {
	l.RiskPaused = true
	l.PauseCause = cause
	l.PauseReason = reason
	l.touch("risk-pause")
}

// ResetPause clears any pause regardless of cause. Operator action.
func (l *Ledger) ResetPause() {
	l.RiskPaused = false
	l.PauseCause = CauseNone
	l.PauseReason = ""
	l.ConsecutiveLosses = 0
	l.touch("risk-reset")
}

// WinRate returns lifetime wins over trades; zero when no trades yet.
func (l *Ledger) WinRate() float64 {
	if l.TotalTrades == 0 {
		return 0
	}
	return float64(l.TotalWins) / float64(l.TotalTrades)
}
