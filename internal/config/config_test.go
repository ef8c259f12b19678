package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const baseYAML = `app:
  auth_token: secret
assets:
  - symbol: btcusdt
    enabled: true
    interval: 5m
    strategy: ema_cross
    starting_capital: 2500
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "https://api.binance.com", cfg.Exchange.RESTBaseURL)
	assert.Equal(t, 300, cfg.Kline.MaxCached)
	assert.Equal(t, 0.001, cfg.Execution.FeeRate)
	assert.Equal(t, 3, cfg.Execution.SubmitMaxAttempts)
	assert.Equal(t, 0.05, cfg.Risk.Drawdown1hPct)
	assert.Equal(t, 60, cfg.Risk.WindowMinutes)

	require.Len(t, cfg.Assets, 1)
	a := cfg.Assets[0]
	assert.Equal(t, "BTCUSDT", a.Symbol)
	assert.Equal(t, "5m", a.Interval)
	assert.Equal(t, 2500.0, a.StartingCapital)
	assert.Equal(t, 0.95, a.PositionPct)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "risk.yaml", `risk:
  drawdown_1h_pct: 0.08
  max_consecutive_losses: 5
`)
	path := writeFile(t, dir, "config.yaml", `include:
  - risk.yaml
`+baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.08, cfg.Risk.Drawdown1hPct)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 0.25, cfg.Risk.TotalDrawdownPct)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadRejectsBadAssets(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"no assets": `app: {log_level: info}
`,
		"duplicate symbol": `assets:
  - {symbol: BTCUSDT, interval: 1m, strategy: ema_cross}
  - {symbol: btcusdt, interval: 1m, strategy: ema_cross}
`,
		"bad interval": `assets:
  - {symbol: BTCUSDT, interval: fortnight, strategy: ema_cross}
`,
		"no strategy": `assets:
  - {symbol: BTCUSDT, interval: 1m}
`,
	}
	for name, body := range cases {
		path := writeFile(t, dir, "cfg-"+name[:2]+".yaml", body)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestAssetRiskOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `assets:
  - symbol: ETHUSDT
    interval: 1m
    strategy: ema_cross
    risk:
      drawdown_1h_pct: 0.10
      window_minutes: 30
      max_consecutive_losses: 2
      daily_loss_cap: 20
      total_drawdown_pct: 0.40
      trailing_stop_pct: 0.05
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	a, ok := cfg.Asset("ethusdt")
	require.True(t, ok)
	eff := a.EffectiveRisk(cfg.Risk)
	assert.Equal(t, 0.10, eff.Drawdown1hPct)
	assert.Equal(t, 2, eff.MaxConsecutiveLosses)

	b := AssetConfig{}
	assert.Equal(t, cfg.Risk, b.EffectiveRisk(cfg.Risk))
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("1m"))
	assert.True(t, IsValidInterval("4h"))
	assert.True(t, IsValidInterval("1d"))
	assert.False(t, IsValidInterval(""))
	assert.False(t, IsValidInterval("m"))
	assert.False(t, IsValidInterval("60"))
	assert.False(t, IsValidInterval("1x"))
}
