package config

import "strings"

// Config is the top-level configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Kline     KlineConfig     `toml:"kline"`
	Execution ExecutionConfig `toml:"execution"`
	Risk      RiskConfig      `toml:"risk"`
	Persist   PersistConfig   `toml:"persist"`
	Journal   JournalConfig   `toml:"journal"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Notify    NotifyConfig    `toml:"notify"`
	Assets    []AssetConfig   `toml:"assets"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
	AuthToken string `toml:"auth_token"`
}

type ExchangeConfig struct {
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

type KlineConfig struct {
	MaxCached int `toml:"max_cached"`
}

// ExecutionConfig tunes order submission and post-timeout reconciliation.
type ExecutionConfig struct {
	FeeRate                float64 `toml:"fee_rate"`
	SubmitTimeoutSeconds   int     `toml:"submit_timeout_seconds"`
	SubmitMaxAttempts      int     `toml:"submit_max_attempts"`
	SubmitBackoffMS        int     `toml:"submit_backoff_ms"`
	ResolveMaxAttempts     int     `toml:"resolve_max_attempts"`
	ResolveIntervalSeconds int     `toml:"resolve_interval_seconds"`
}

// RiskConfig holds the circuit-breaker limits. The top-level block is the
// fleet default; each asset may override it wholesale.
type RiskConfig struct {
	Drawdown1hPct        float64 `toml:"drawdown_1h_pct"`
	WindowMinutes        int     `toml:"window_minutes"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	DailyLossCap         float64 `toml:"daily_loss_cap"`
	TotalDrawdownPct     float64 `toml:"total_drawdown_pct"`
	TrailingStopPct      float64 `toml:"trailing_stop_pct"`
}

type PersistConfig struct {
	Dir string `toml:"dir"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type StrategyConfig struct {
	TemplatesPath string `toml:"templates_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// AssetConfig is one tradeable symbol with its strategy and sizing.
type AssetConfig struct {
	Symbol          string         `toml:"symbol"`
	Enabled         bool           `toml:"enabled"`
	Interval        string         `toml:"interval"`
	Strategy        string         `toml:"strategy"`
	Template        string         `toml:"template"`
	Params          map[string]any `toml:"params"`
	StartingCapital float64        `toml:"starting_capital"`
	PositionPct     float64        `toml:"position_pct"`
	StopLossPct     float64        `toml:"stop_loss_pct"`
	Risk            *RiskConfig    `toml:"risk"`
}

// EffectiveRisk returns the asset override when present, else the fleet
// default.
func (a AssetConfig) EffectiveRisk(fleet RiskConfig) RiskConfig {
	if a.Risk != nil {
		return *a.Risk
	}
	return fleet
}

// Asset looks up an asset block by symbol, case-insensitive.
func (c *Config) Asset(symbol string) (AssetConfig, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, a := range c.Assets {
		if strings.ToUpper(strings.TrimSpace(a.Symbol)) == symbol {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// keySet tracks config paths explicitly present in the files, so defaults
// never clobber intentional zero values.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one default-value rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
