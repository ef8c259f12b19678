package trading

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEntryQuantity(t *testing.T) {
	capital := decimal.NewFromInt(1000)
	price := decimal.NewFromInt(200)

	qty := EntryQuantity(capital, 0.95, price, 5)
	assert.True(t, qty.Equal(decimal.NewFromFloat(4.75)), "got %s", qty)

	// Truncation keeps the cost within the committed fraction.
	qty = EntryQuantity(decimal.NewFromInt(100), 1, decimal.NewFromInt(3), 5)
	assert.True(t, qty.Mul(decimal.NewFromInt(3)).LessThanOrEqual(decimal.NewFromInt(100)))

	assert.True(t, EntryQuantity(decimal.Zero, 0.95, price, 5).IsZero())
	assert.True(t, EntryQuantity(capital, 0, price, 5).IsZero())
	assert.True(t, EntryQuantity(capital, 0.95, decimal.Zero, 5).IsZero())
}

func TestStopPrice(t *testing.T) {
	stop := StopPrice(decimal.NewFromInt(200), 0.03)
	assert.True(t, stop.Equal(decimal.NewFromInt(194)), "got %s", stop)

	assert.True(t, StopPrice(decimal.NewFromInt(200), 0).IsZero())
	assert.True(t, StopPrice(decimal.NewFromInt(200), 1).IsZero())
	assert.True(t, StopPrice(decimal.Zero, 0.03).IsZero())
}
