package journal

import (
	"path/filepath"
	"testing"

	"keel/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListFills(t *testing.T) {
	s := openStore(t)

	s.RecordFill("btcusdt", "ex-1", "c-1", exchange.SideBuy,
		decimal.NewFromInt(50000), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.5), decimal.Zero,
		map[string]any{"outcome": "filled"})
	s.RecordFill("BTCUSDT", "ex-2", "c-2", exchange.SideSell,
		decimal.NewFromInt(51000), decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.51), decimal.NewFromFloat(8.99), nil)

	fills, err := s.RecentFills("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "ex-2", fills[0].OrderID, "newest first")
	assert.Equal(t, "SELL", fills[0].Side)
	assert.Equal(t, "8.99", fills[0].PnL)
	assert.NotEmpty(t, fills[1].Details)
}

func TestRecentFillsScopedToSymbol(t *testing.T) {
	s := openStore(t)
	s.RecordFill("BTCUSDT", "ex-1", "c-1", exchange.SideBuy,
		decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, decimal.Zero, nil)
	s.RecordFill("ETHUSDT", "ex-2", "c-2", exchange.SideBuy,
		decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.Zero, decimal.Zero, nil)

	fills, err := s.RecentFills("ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "ex-2", fills[0].OrderID)
}

func TestRiskEvents(t *testing.T) {
	s := openStore(t)
	s.RecordRiskEvent("BTCUSDT", "pause", "drawdown-1h", "1h drawdown 0.06 exceeds 0.05", nil)

	var events []RiskEventRecord
	require.NoError(t, s.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "pause", events[0].Kind)
	assert.Equal(t, "drawdown-1h", events[0].Cause)
}
