// Package trading provides order sizing arithmetic shared by the engines.
package trading

import "github.com/shopspring/decimal"

// EntryQuantity sizes a buy as capital * positionPct / price, truncated to
// scale decimal places. Truncation, not rounding: the order must never cost
// more than the committed fraction of capital.
func EntryQuantity(capital decimal.Decimal, positionPct float64, price decimal.Decimal, scale int32) decimal.Decimal {
	if !capital.IsPositive() || !price.IsPositive() || positionPct <= 0 {
		return decimal.Zero
	}
	return capital.
		Mul(decimal.NewFromFloat(positionPct)).
		Div(price).
		Truncate(scale)
}

// StopPrice derives the protective stop from a buy fill price.
func StopPrice(fillPrice decimal.Decimal, stopLossPct float64) decimal.Decimal {
	if !fillPrice.IsPositive() || stopLossPct <= 0 || stopLossPct >= 1 {
		return decimal.Zero
	}
	return fillPrice.Mul(decimal.NewFromFloat(1 - stopLossPct))
}
