package risk

import (
	"testing"
	"time"

	"keel/internal/gateway/exchange"
	"keel/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testConfig() Config {
	return Config{
		Drawdown1hPct:        d("0.05"),
		WindowSpan:           time.Hour,
		MaxConsecutiveLosses: 3,
		DailyLossCap:         d("50"),
		TotalDrawdownPct:     d("0.25"),
		TrailingStopPct:      d("0.02"),
	}
}

func TestRollingDrawdownPause(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))

	base := time.Now()
	g.Observe(base, d("1000"))
	g.Observe(base.Add(30*time.Minute), d("940")) // 6% under the window peak

	v := g.Evaluate(l)
	assert.True(t, v.Pause)
	assert.Equal(t, ledger.CauseDrawdown1h, v.Cause)
}

func TestRollingDrawdownIgnoresSamplesPastWindow(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))

	base := time.Now()
	g.Observe(base, d("1000"))
	// The 1000 peak ages out before the low sample arrives.
	g.Observe(base.Add(2*time.Hour), d("945"))
	g.Observe(base.Add(2*time.Hour+time.Minute), d("940"))

	v := g.Evaluate(l)
	assert.False(t, v.Pause)
}

func TestConsecutiveLossPause(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	l.ConsecutiveLosses = 3

	v := g.Evaluate(l)
	require.True(t, v.Pause)
	assert.Equal(t, ledger.CauseConsecutiveLoss, v.Cause)
}

func TestDailyLossPause(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	l.TodayPnL = d("-51")

	v := g.Evaluate(l)
	require.True(t, v.Pause)
	assert.Equal(t, ledger.CauseDailyLoss, v.Cause)
}

func TestTotalDrawdownPause(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	l.MaxDrawdown = d("0.30")

	v := g.Evaluate(l)
	require.True(t, v.Pause)
	assert.Equal(t, ledger.CauseTotalDrawdown, v.Cause)
}

func TestPauseRulePriority(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	l.ConsecutiveLosses = 5
	l.TodayPnL = d("-100")
	l.MaxDrawdown = d("0.5")

	v := g.Evaluate(l)
	require.True(t, v.Pause)
	assert.Equal(t, ledger.CauseConsecutiveLoss, v.Cause, "higher-priority rule wins")
}

func TestTrailingStopForcedExit(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	_, err := l.ApplyFill("b1", exchange.SideBuy, d("50000"), d("0.01"), d("0.5"))
	require.NoError(t, err)

	l.MarkPrice(d("51000"))
	v := g.Evaluate(l)
	assert.False(t, v.ForceExit)
	assert.True(t, v.EffectiveStop.Equal(d("49980")), "stop=%s", v.EffectiveStop)

	l.MarkPrice(d("49500"))
	v = g.Evaluate(l)
	assert.True(t, v.ForceExit, "price below 51000*0.98")
}

func TestFixedStopDominatesWhenTighter(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	_, err := l.ApplyFill("b1", exchange.SideBuy, d("100"), d("1"), decimal.Zero)
	require.NoError(t, err)
	l.StopLossPrice = d("99.5")

	v := g.Evaluate(l)
	assert.True(t, v.EffectiveStop.Equal(d("99.5")), "fixed stop above trailing leg wins: %s", v.EffectiveStop)
}

func TestPausedAssetStillEvaluatesStop(t *testing.T) {
	g := NewGovernor(testConfig())
	l := ledger.New("BTCUSDT", d("1000"))
	_, err := l.ApplyFill("b1", exchange.SideBuy, d("100"), d("1"), decimal.Zero)
	require.NoError(t, err)
	l.Pause(ledger.CauseManual, "operator hold")

	l.MarkPrice(d("90"))
	v := g.Evaluate(l)
	assert.True(t, v.ForceExit, "pause gates entries, not exits")
}
