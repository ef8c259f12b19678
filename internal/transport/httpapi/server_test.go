package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"keel/internal/config"
	"keel/internal/engine"
	"keel/internal/gateway/exchange"
	"keel/internal/manager"
	"keel/internal/market"
	"keel/internal/notifier"
	"keel/internal/persist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	return []market.Candle{{OpenTime: 0, CloseTime: 59_999, Open: 100, High: 100, Low: 100, Close: 100, Closed: true}}, nil
}

func (stubSource) Subscribe(context.Context, []string, string, market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	return make(chan market.CandleEvent), nil
}

func (stubSource) Stats() market.SourceStats { return market.SourceStats{} }
func (stubSource) Close() error              { return nil }

type stubTrader struct {
	mu  sync.Mutex
	seq int
}

func (t *stubTrader) SubmitOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return exchange.OrderAck{OrderID: fmt.Sprintf("%d", t.seq), ClientOrderID: req.ClientOrderID, SubmittedAt: time.Now()}, nil
}

func (t *stubTrader) QueryOrder(context.Context, string, string) (exchange.OrderResult, error) {
	return exchange.OrderResult{Status: exchange.StatusUnfilled}, nil
}

func (t *stubTrader) CancelOrder(context.Context, string, string) error { return nil }

func testConfig(symbols ...string) *config.Config {
	cfg := &config.Config{
		App: config.AppConfig{
			AuthToken: "hunter2",
		},
		Exchange: config.ExchangeConfig{APIKey: "key", APISecret: "secret"},
	}
	for _, sym := range symbols {
		cfg.Assets = append(cfg.Assets, config.AssetConfig{
			Symbol: sym, Enabled: true, Interval: "1m", Strategy: "ema_cross",
			StartingCapital: 1000, PositionPct: 0.9, StopLossPct: 0.03,
		})
	}
	if err := cfg.Finalize(); err != nil {
		panic(err)
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, reload func() (*config.Config, error)) (*Server, *manager.TradingManager) {
	t.Helper()
	store, err := persist.NewStore(t.TempDir())
	require.NoError(t, err)
	mgr, err := manager.New(cfg, engine.Deps{
		Source: stubSource{},
		Trader: &stubTrader{},
		Store:  store,
		Notify: notifier.Nop{},
	})
	require.NoError(t, err)
	srv, err := NewServer(ServerConfig{
		Addr:      ":0",
		AuthToken: cfg.App.AuthToken,
		Manager:   mgr,
		Reload:    reload,
	})
	require.NoError(t, err)
	return srv, mgr
}

func do(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func doJSON(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)
	w := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)

	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(srv, http.MethodGet, "/status", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/status", "hunter2").Code)
}

func TestStatusEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT", "ETHUSDT"), nil)

	w := do(srv, http.MethodGet, "/status", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Assets []engine.Status `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Assets, 2)
	assert.Equal(t, "BTCUSDT", body.Assets[0].Symbol)
	assert.False(t, body.Assets[0].Running)

	w = do(srv, http.MethodGet, "/status/ethusdt", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	var st engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "ETHUSDT", st.Symbol)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/status/DOGEUSDT", "hunter2").Code)
}

func TestStartStopEndpoints(t *testing.T) {
	srv, mgr := newTestServer(t, testConfig("BTCUSDT"), nil)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/start/BTCUSDT", "hunter2").Code)
	st, err := mgr.StatusOf("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, st.Running)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/stop/BTCUSDT", "hunter2").Code)
	st, err = mgr.StatusOf("BTCUSDT")
	require.NoError(t, err)
	assert.False(t, st.Running)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPost, "/start/DOGEUSDT", "hunter2").Code)
}

func TestRiskResetEndpoints(t *testing.T) {
	srv, mgr := newTestServer(t, testConfig("BTCUSDT", "ETHUSDT"), nil)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/risk/reset/BTCUSDT", "hunter2").Code)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/risk/reset/all", "hunter2").Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPost, "/risk/reset/DOGEUSDT", "hunter2").Code)

	for _, st := range mgr.Status() {
		assert.False(t, st.Ledger.RiskPaused)
	}
}

func TestConfigGetRedactsSecrets(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)

	w := do(srv, http.MethodGet, "/config", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "hunter2")
	assert.NotContains(t, body, `"secret"`)
	assert.Contains(t, body, redactedPlaceholder)
}

func TestConfigReload(t *testing.T) {
	reloaded := testConfig("BTCUSDT", "SOLUSDT")
	srv, mgr := newTestServer(t, testConfig("BTCUSDT"), func() (*config.Config, error) {
		return reloaded, nil
	})

	w := do(srv, http.MethodPost, "/config/reload", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)

	_, err := mgr.StatusOf("SOLUSDT")
	assert.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(shutdownCtx))
}

func TestConfigPostSymbolUpdatesOneAsset(t *testing.T) {
	srv, mgr := newTestServer(t, testConfig("BTCUSDT", "ETHUSDT"), nil)

	w := doJSON(srv, http.MethodPost, "/config/btcusdt", "hunter2", map[string]any{
		"position_pct": 0.4,
		"enabled":      false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	btc, ok := mgr.Config().Asset("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.4, btc.PositionPct)
	assert.False(t, btc.Enabled)
	assert.Equal(t, "ema_cross", btc.Strategy, "unsent fields untouched")

	eth, ok := mgr.Config().Asset("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.9, eth.PositionPct, "other assets untouched")
	assert.True(t, eth.Enabled)
}

func TestConfigPostSymbolUnknown(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)
	w := doJSON(srv, http.MethodPost, "/config/DOGEUSDT", "hunter2", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartConflictIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/start/BTCUSDT", "hunter2").Code)
	// Conflicting operator input is a client error, not a server fault.
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/start/BTCUSDT", "hunter2").Code)

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/stop/BTCUSDT", "hunter2").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodPost, "/stop/BTCUSDT", "hunter2").Code)
}

func TestConfigReloadUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodPost, "/config/reload", "hunter2").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig("BTCUSDT"), nil)

	w := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `trading_asset_running{symbol="BTCUSDT"} 0`)
	assert.Contains(t, body, `trading_asset_trades_today{symbol="BTCUSDT"} 0`)
	assert.True(t, strings.Contains(body, "trading_asset_pnl"))
}
