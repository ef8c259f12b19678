package ledger

import (
	"fmt"
	"time"

	"keel/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

// costScale bounds division precision when pro-rating entry cost across
// partial exits.
const costScale = 12

// ApplyFill applies one confirmed execution to the ledger and returns the
// realized PnL delta (zero for entries). It is idempotent per exchange order
// ID: re-applying the last applied order is a no-op.
//
// Entry fills charge price*qty+fee against capital and open the position.
// Exit fills credit proceeds minus fee and realize PnL against the
// pro-rated entry cost, so capital always equals starting capital plus the
// sum of realized PnL.
func (l *Ledger) ApplyFill(orderID string, side exchange.Side, price, qty, fee decimal.Decimal) (decimal.Decimal, error) {
	if orderID != "" && orderID == l.LastFillOrderID {
		return decimal.Zero, nil
	}
	if !qty.IsPositive() || price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: price=%s qty=%s", ErrInvalidFill, price, qty)
	}

	var pnl decimal.Decimal
	switch side {
	case exchange.SideBuy:
		if l.InPosition {
			return decimal.Zero, fmt.Errorf("%w: buy while already in position", ErrInvalidFill)
		}
		cost := price.Mul(qty).Add(fee)
		l.Capital = l.Capital.Sub(cost)
		l.InPosition = true
		l.EntryPrice = price
		l.Quantity = qty
		l.EntryCost = cost
		l.CurrentPrice = price
		l.HighestSinceEntry = price
	case exchange.SideSell:
		if !l.InPosition {
			return decimal.Zero, fmt.Errorf("%w: sell while flat", ErrInvalidFill)
		}
		if qty.GreaterThan(l.Quantity) {
			return decimal.Zero, fmt.Errorf("%w: sell qty %s exceeds held %s", ErrInvalidFill, qty, l.Quantity)
		}
		costPortion := l.EntryCost.Mul(qty).DivRound(l.Quantity, costScale)
		proceeds := price.Mul(qty).Sub(fee)
		pnl = proceeds.Sub(costPortion)
		l.Capital = l.Capital.Add(proceeds)
		l.EntryCost = l.EntryCost.Sub(costPortion)
		l.Quantity = l.Quantity.Sub(qty)
		if l.Quantity.IsZero() {
			l.InPosition = false
			l.EntryPrice = decimal.Zero
			l.EntryCost = decimal.Zero
			l.HighestSinceEntry = decimal.Zero
			l.StopLossPrice = decimal.Zero
		}
		l.recordTradeResult(pnl)
	default:
		return decimal.Zero, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}

	l.LastFillOrderID = orderID
	l.LastFillPrice = price
	l.LastFillQty = qty
	l.LastFillFee = fee
	l.LastTradeAt = time.Now().UTC()
	l.UpdatePeakAndDrawdown()
	l.touch("apply-fill")
	if err := l.checkInvariants(); err != nil {
		return pnl, err
	}
	return pnl, nil
}

func (l *Ledger) recordTradeResult(pnl decimal.Decimal) {
	l.TodayPnL = l.TodayPnL.Add(pnl)
	l.TodayTrades++
	l.TotalTrades++
	if pnl.IsPositive() {
		l.TodayWins++
		l.TotalWins++
		l.ConsecutiveLosses = 0
	} else {
		l.ConsecutiveLosses++
	}
}

// MarkPrice records a new mark and advances the highest-since-entry
// watermark. Trailing stop math lives in the risk governor; the ledger only
// keeps the inputs.
func (l *Ledger) MarkPrice(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	l.CurrentPrice = price
	if l.InPosition && price.GreaterThan(l.HighestSinceEntry) {
		l.HighestSinceEntry = price
	}
	l.UpdatePeakAndDrawdown()
}

// Equity is capital plus the mark value of any open position.
func (l *Ledger) Equity() decimal.Decimal {
	if !l.InPosition || !l.CurrentPrice.IsPositive() {
		return l.Capital
	}
	return l.Capital.Add(l.CurrentPrice.Mul(l.Quantity))
}

// UpdatePeakAndDrawdown ratchets PeakCapital to the highest equity seen and
// MaxDrawdown to the largest (peak-equity)/peak ever observed. Equity, not
// capital: opening a position moves cost into the position without being a
// loss.
func (l *Ledger) UpdatePeakAndDrawdown() {
	eq := l.Equity()
	if eq.GreaterThan(l.PeakCapital) {
		l.PeakCapital = eq
	}
	if !l.PeakCapital.IsPositive() {
		return
	}
	dd := l.PeakCapital.Sub(eq).DivRound(l.PeakCapital, costScale)
	if dd.GreaterThan(l.MaxDrawdown) {
		l.MaxDrawdown = dd
	}
}

func (l *Ledger) checkInvariants() error {
	if l.Quantity.IsNegative() {
		return fmt.Errorf("%w: negative quantity %s", ErrInvariant, l.Quantity)
	}
	if l.InPosition != l.Quantity.IsPositive() {
		return fmt.Errorf("%w: in_position=%v quantity=%s", ErrInvariant, l.InPosition, l.Quantity)
	}
	if l.PeakCapital.LessThan(l.Capital) {
		return fmt.Errorf("%w: peak %s < capital %s", ErrInvariant, l.PeakCapital, l.Capital)
	}
	return nil
}
