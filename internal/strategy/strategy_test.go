package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"keel/internal/ledger"
	"keel/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Closed:    true,
		})
	}
	return out
}

func flatSeries(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestRegistryKnowsBuiltins(t *testing.T) {
	assert.Contains(t, Names(), "ema_cross")
	assert.Contains(t, Names(), "rsi_reversion")

	_, err := New("nope")
	assert.Error(t, err)

	s, err := New("EMA_Cross")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestEMACrossInitializeRejectsInvertedPeriods(t *testing.T) {
	s, err := New("ema_cross")
	require.NoError(t, err)
	err = s.Initialize(map[string]any{"fast_period": 30, "slow_period": 10})
	assert.Error(t, err)
}

func TestEMACrossSignalsCrossover(t *testing.T) {
	s, err := New("ema_cross")
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))

	// Flat tape keeps both EMAs identical; a single surge flips the fast
	// EMA above the slow one on the last candle.
	closes := append(flatSeries(50, 100), 200)
	sig := s.ProcessCandles(closedCandles(closes...))
	assert.Equal(t, SignalStrongBull, sig)

	closes = append(flatSeries(50, 100), 50)
	sig = s.ProcessCandles(closedCandles(closes...))
	assert.Equal(t, SignalStrongBear, sig)
}

func TestEMACrossNeutralOnShortHistory(t *testing.T) {
	s, err := New("ema_cross")
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))

	sig := s.ProcessCandles(closedCandles(flatSeries(5, 100)...))
	assert.Equal(t, SignalNeutral, sig)
}

func TestEMACrossIgnoresOpenCandle(t *testing.T) {
	s, err := New("ema_cross")
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))

	candles := closedCandles(append(flatSeries(50, 100), 200)...)
	// A forming candle with a wild price must not move the signal.
	candles = append(candles, market.Candle{Close: 1, Closed: false})
	sig := s.ProcessCandles(candles)
	assert.Equal(t, SignalStrongBull, sig)
}

func TestEMACrossEntryGates(t *testing.T) {
	s, err := New("ema_cross")
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))

	l := ledger.New("BTCUSDT", decimal.NewFromInt(1000))
	assert.True(t, s.ShouldEnter(*l, SignalStrongBull))
	assert.False(t, s.ShouldEnter(*l, SignalBull))

	l.InPosition = true
	assert.False(t, s.ShouldEnter(*l, SignalStrongBull))

	l.InPosition = false
	l.RiskPaused = true
	assert.False(t, s.ShouldEnter(*l, SignalStrongBull))
}

func TestRSIReversionOversoldAndOverbought(t *testing.T) {
	s, err := New("rsi_reversion")
	require.NoError(t, err)
	require.NoError(t, s.Initialize(map[string]any{"period": 14}))

	// Straight losses drive RSI to zero.
	down := make([]float64, 40)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	sig := s.ProcessCandles(closedCandles(down...))
	assert.Equal(t, SignalStrongBull, sig)

	l := ledger.New("BTCUSDT", decimal.NewFromInt(1000))
	assert.True(t, s.ShouldEnter(*l, sig))

	// Straight gains drive RSI to 100 and force an exit while positioned.
	up := make([]float64, 40)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	sig = s.ProcessCandles(closedCandles(up...))
	assert.Equal(t, SignalStrongBear, sig)

	l.InPosition = true
	assert.True(t, s.ShouldExit(*l))
}

func TestRSIReversionInitializeValidatesThresholds(t *testing.T) {
	s, err := New("rsi_reversion")
	require.NoError(t, err)
	err = s.Initialize(map[string]any{"buy_below": 70, "exit_above": 30})
	assert.Error(t, err)
}

func writeTemplates(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const templateYAML = `templates:
  trend:
    description: EMA trend following
    strategy: ema_cross
    defaults:
      fast_period: 9
      slow_period: 21
    schema:
      type: object
      properties:
        fast_period:
          type: integer
          minimum: 2
        slow_period:
          type: integer
          minimum: 3
      additionalProperties: false
`

func TestTemplateRegistryBuild(t *testing.T) {
	reg, err := NewTemplateRegistry(writeTemplates(t, templateYAML))
	require.NoError(t, err)

	snap := reg.Snapshot()
	assert.Len(t, snap.Templates, 1)

	s, err := reg.Build("trend", map[string]any{"fast_period": 5})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = reg.Build("missing", nil)
	assert.Error(t, err)
}

func TestTemplateRegistryRejectsBadParams(t *testing.T) {
	reg, err := NewTemplateRegistry(writeTemplates(t, templateYAML))
	require.NoError(t, err)

	_, err = reg.Build("trend", map[string]any{"fast_period": 1})
	assert.Error(t, err)

	_, err = reg.Build("trend", map[string]any{"unknown_knob": true})
	assert.Error(t, err)
}

func TestTemplateRegistryRejectsUnknownStrategy(t *testing.T) {
	_, err := NewTemplateRegistry(writeTemplates(t, `templates:
  bogus:
    strategy: does_not_exist
`))
	assert.Error(t, err)
}
