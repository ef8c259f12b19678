package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"keel/internal/config"
	"keel/internal/gateway/exchange"
	"keel/internal/journal"
	"keel/internal/market"
	"keel/internal/notifier"
	"keel/internal/persist"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned history and a caller-driven live stream.
type fakeSource struct {
	mu      sync.Mutex
	history []market.Candle
	streams []chan market.CandleEvent
}

func (f *fakeSource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]market.Candle(nil), f.history...), nil
}

func (f *fakeSource) setHistory(h []market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = h
}

func (f *fakeSource) Subscribe(ctx context.Context, _ []string, _ string, _ market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan market.CandleEvent, 64)
	f.streams = append(f.streams, ch)
	return ch, nil
}

func (f *fakeSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeSource) Close() error              { return nil }

func (f *fakeSource) emit(symbol string, c market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.streams {
		ch <- market.CandleEvent{Symbol: symbol, Interval: "1m", Candle: c}
	}
}

// instantTrader acknowledges every order and reports it filled at the
// requested price on the first status poll.
type instantTrader struct {
	mu     sync.Mutex
	orders map[string]exchange.OrderRequest
	seq    int
}

func newInstantTrader() *instantTrader {
	return &instantTrader{orders: make(map[string]exchange.OrderRequest)}
}

func (t *instantTrader) SubmitOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.orders[req.ClientOrderID] = req
	return exchange.OrderAck{
		OrderID:       fmt.Sprintf("%d", t.seq),
		ClientOrderID: req.ClientOrderID,
		SubmittedAt:   time.Now(),
	}, nil
}

func (t *instantTrader) QueryOrder(_ context.Context, _ string, clientOrderID string) (exchange.OrderResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.orders[clientOrderID]
	if !ok {
		return exchange.OrderResult{Status: exchange.StatusUnknown}, nil
	}
	return exchange.OrderResult{
		OrderID:   clientOrderID,
		Status:    exchange.StatusFilled,
		FillPrice: req.Price,
		FillQty:   req.Quantity,
	}, nil
}

func (t *instantTrader) CancelOrder(_ context.Context, _, clientOrderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, clientOrderID)
	return nil
}

func testAsset() config.AssetConfig {
	return config.AssetConfig{
		Symbol:          "BTCUSDT",
		Enabled:         true,
		Interval:        "1m",
		Strategy:        "ema_cross",
		StartingCapital: 1000,
		PositionPct:     0.5,
		StopLossPct:     0.03,
	}
}

func fleetRisk() config.RiskConfig {
	return config.RiskConfig{
		Drawdown1hPct:        0.5,
		WindowMinutes:        60,
		MaxConsecutiveLosses: 10,
		DailyLossCap:         100000,
		TotalDrawdownPct:     0.9,
		TrailingStopPct:      0.5,
	}
}

func execConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		FeeRate:                0.001,
		SubmitTimeoutSeconds:   1,
		SubmitMaxAttempts:      2,
		SubmitBackoffMS:        10,
		ResolveMaxAttempts:     3,
		ResolveIntervalSeconds: 1,
	}
}

func flatHistory(n int, price float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candleAt(int64(i), price))
	}
	return out
}

func candleAt(idx int64, price float64) market.Candle {
	return market.Candle{
		OpenTime:  idx * 60_000,
		CloseTime: (idx+1)*60_000 - 1,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Closed:    true,
	}
}

func newTestEngine(t *testing.T, src *fakeSource, trader exchange.Trader) *AssetEngine {
	t.Helper()
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)
	eng, err := New(testAsset(), fleetRisk(), execConfig(), 300, Deps{
		Source: src,
		Trader: trader,
		Store:  store,
		Notify: notifier.Nop{},
	})
	require.NoError(t, err)
	return eng
}

func TestEngineEntersOnSignalAndExitsOnStop(t *testing.T) {
	src := &fakeSource{history: flatHistory(50, 100)}
	trader := newInstantTrader()
	eng := newTestEngine(t, src, trader)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	// A surge after a flat tape flips the fast EMA over the slow one.
	src.emit("BTCUSDT", candleAt(50, 200))
	require.Eventually(t, func() bool {
		return eng.Status().Ledger.InPosition
	}, 3*time.Second, 20*time.Millisecond, "entry never executed")

	st := eng.Status()
	// 1000 * 0.5 / 200 = 2.5 units; cost 500 plus 0.5 fee.
	assert.True(t, st.Ledger.Quantity.Equal(decimal.NewFromFloat(2.5)), "qty=%s", st.Ledger.Quantity)
	assert.True(t, st.Ledger.Capital.Equal(decimal.NewFromFloat(499.5)), "capital=%s", st.Ledger.Capital)
	assert.True(t, st.Ledger.StopLossPrice.Equal(decimal.NewFromInt(194)), "stop=%s", st.Ledger.StopLossPrice)

	// Below the fixed stop: the governor forces the exit even though the
	// strategy still reads bullish.
	src.emit("BTCUSDT", candleAt(51, 190))
	require.Eventually(t, func() bool {
		return !eng.Status().Ledger.InPosition
	}, 3*time.Second, 20*time.Millisecond, "stop exit never executed")

	st = eng.Status()
	// Proceeds 475 less 0.475 fee against entry cost 500.5.
	assert.True(t, st.Ledger.Capital.Equal(decimal.NewFromFloat(974.025)), "capital=%s", st.Ledger.Capital)
	assert.True(t, st.Ledger.TodayPnL.Equal(decimal.NewFromFloat(-25.975)), "pnl=%s", st.Ledger.TodayPnL)
	assert.Equal(t, 1, st.Ledger.ConsecutiveLosses)
}

func TestEngineStartStopLifecycle(t *testing.T) {
	src := &fakeSource{history: flatHistory(10, 100)}
	eng := newTestEngine(t, src, newInstantTrader())

	assert.False(t, eng.Running())
	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, eng.Running())
	assert.Equal(t, ErrAlreadyRunning, eng.Start(context.Background()))

	require.NoError(t, eng.Stop())
	assert.False(t, eng.Running())
	assert.Equal(t, ErrNotRunning, eng.Stop())
}

func TestEngineJournalsFillEconomics(t *testing.T) {
	src := &fakeSource{history: flatHistory(50, 100)}
	trader := newInstantTrader()
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)
	jnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer jnl.Close()

	eng, err := New(testAsset(), fleetRisk(), execConfig(), 300, Deps{
		Source:  src,
		Trader:  trader,
		Store:   store,
		Journal: jnl,
		Notify:  notifier.Nop{},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	src.emit("BTCUSDT", candleAt(50, 200))
	require.Eventually(t, func() bool {
		return eng.Status().Ledger.InPosition
	}, 3*time.Second, 20*time.Millisecond)

	fills, err := jnl.RecentFills("BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, string(exchange.SideBuy), fills[0].Side)
	assert.Equal(t, "200", fills[0].Price)
	assert.Equal(t, "2.5", fills[0].Quantity)
	// The fee actually charged, not a zero placeholder: 200 * 2.5 * 0.001.
	assert.Equal(t, "0.5", fills[0].Fee)
}

func TestEngineBackfillsStreamGap(t *testing.T) {
	src := &fakeSource{history: flatHistory(10, 100)}
	eng := newTestEngine(t, src, newInstantTrader())

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()
	require.Eventually(t, func() bool {
		return eng.Status().Candles == 10
	}, 3*time.Second, 20*time.Millisecond)

	// Bars 10..14 close while the stream is down and are only visible over
	// REST; bar 15 arrives live after the reconnect.
	src.setHistory(flatHistory(16, 100))
	src.emit("BTCUSDT", candleAt(15, 100))

	require.Eventually(t, func() bool {
		return eng.Status().Candles == 16
	}, 3*time.Second, 20*time.Millisecond, "missed bars never backfilled")
}

func TestEngineRestoresLedgerAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewStore(dir)
	require.NoError(t, err)
	src := &fakeSource{history: flatHistory(50, 100)}
	trader := newInstantTrader()
	deps := Deps{Source: src, Trader: trader, Store: store, Notify: notifier.Nop{}}

	eng, err := New(testAsset(), fleetRisk(), execConfig(), 300, deps)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	src.emit("BTCUSDT", candleAt(50, 200))
	require.Eventually(t, func() bool {
		return eng.Status().Ledger.InPosition
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, eng.Stop())

	reborn, err := New(testAsset(), fleetRisk(), execConfig(), 300, deps)
	require.NoError(t, err)
	st := reborn.Status()
	assert.True(t, st.Ledger.InPosition)
	assert.True(t, st.Ledger.Quantity.Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, st.Ledger.Capital.Equal(decimal.NewFromFloat(499.5)))
}

func TestEngineResetRisk(t *testing.T) {
	src := &fakeSource{history: flatHistory(10, 100)}
	eng := newTestEngine(t, src, newInstantTrader())

	eng.mu.Lock()
	eng.led.Pause("manual", "operator pause")
	eng.mu.Unlock()
	assert.True(t, eng.Status().Ledger.RiskPaused)

	eng.ResetRisk()
	st := eng.Status()
	assert.False(t, st.Ledger.RiskPaused)
	assert.Empty(t, st.Ledger.PauseReason)
}

func TestEngineUpdateConfigRejectsUnknownStrategy(t *testing.T) {
	src := &fakeSource{history: flatHistory(10, 100)}
	eng := newTestEngine(t, src, newInstantTrader())

	bad := testAsset()
	bad.Strategy = "does_not_exist"
	assert.Error(t, eng.UpdateConfig(bad, fleetRisk(), execConfig()))

	good := testAsset()
	good.Params = map[string]any{"fast_period": 5, "slow_period": 15}
	assert.NoError(t, eng.UpdateConfig(good, fleetRisk(), execConfig()))
}
