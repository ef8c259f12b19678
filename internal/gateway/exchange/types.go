// Package exchange defines the trading-side abstraction over an exchange
// backend. The execution core only sees this contract, so backends can be
// swapped (live Binance, paper simulator, test doubles) without touching
// order or accounting logic.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest describes a single order submission. ClientOrderID is caller
// assigned and is the only key used to re-identify the order after a timeout.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderAck is the synchronous acknowledgment for a submitted order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	SubmittedAt   time.Time
}

// OrderStatus is the resolved exchange-side state of an order.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusFilled
	StatusUnfilled
	// StatusResting: the exchange holds the order and it is still working.
	// An order in this state can fill at any moment; it must be cancelled
	// before its intent may be declared unfilled.
	StatusResting
)

func (s OrderStatus) String() string {
	switch s {
	case StatusFilled:
		return "filled"
	case StatusUnfilled:
		return "unfilled"
	case StatusResting:
		return "resting"
	default:
		return "unknown"
	}
}

// OrderResult carries the resolved status plus fill economics. FillQty and
// FillPrice are set whenever any quantity executed, including partial
// executions on orders that later died (StatusUnfilled) or are still
// working (StatusResting).
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillPrice decimal.Decimal
	FillQty   decimal.Decimal
	Fee       decimal.Decimal
}

// Trader is the order side of the exchange capability.
type Trader interface {
	// SubmitOrder places a limit order. It fails with ErrSubmitTimeout when
	// no acknowledgment arrives in time and ErrSubmitRejected when the
	// exchange explicitly refused the order.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// QueryOrder resolves an order's true state by client order ID. Used
	// after a submit timeout; StatusUnknown means the exchange has no record
	// under that key.
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (OrderResult, error)

	// CancelOrder revokes a resting order by client order ID. Cancelling an
	// order the exchange does not know is not an error; a follow-up
	// QueryOrder settles what actually happened to it.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}
