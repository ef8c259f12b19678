package config

import (
	"fmt"
	"strings"

	"keel/internal/market"
	"keel/internal/pkg/symbol"
)

// Finalize fills defaults and validates a Config that did not come from the
// file loader, such as one posted over the management API.
func (c *Config) Finalize() error {
	c.applyDefaults(make(keySet))
	return validate(c)
}

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Kline.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate("risk"); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := validateAssets(c.Assets); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (k *KlineConfig) validate() error {
	if k.MaxCached < 50 || k.MaxCached > 1000 {
		return fmt.Errorf("kline.max_cached must be in [50,1000]")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.FeeRate < 0 || e.FeeRate >= 0.05 {
		return fmt.Errorf("execution.fee_rate must be in [0, 0.05)")
	}
	if e.SubmitMaxAttempts < 1 {
		return fmt.Errorf("execution.submit_max_attempts must be >= 1")
	}
	if e.ResolveMaxAttempts < 1 {
		return fmt.Errorf("execution.resolve_max_attempts must be >= 1")
	}
	return nil
}

func (r *RiskConfig) validate(prefix string) error {
	if r.Drawdown1hPct <= 0 || r.Drawdown1hPct >= 1 {
		return fmt.Errorf("%s.drawdown_1h_pct must be in (0, 1)", prefix)
	}
	if r.WindowMinutes < 1 {
		return fmt.Errorf("%s.window_minutes must be >= 1", prefix)
	}
	if r.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("%s.max_consecutive_losses must be >= 1", prefix)
	}
	if r.DailyLossCap <= 0 {
		return fmt.Errorf("%s.daily_loss_cap must be > 0", prefix)
	}
	if r.TotalDrawdownPct <= 0 || r.TotalDrawdownPct >= 1 {
		return fmt.Errorf("%s.total_drawdown_pct must be in (0, 1)", prefix)
	}
	if r.TrailingStopPct <= 0 || r.TrailingStopPct >= 1 {
		return fmt.Errorf("%s.trailing_stop_pct must be in (0, 1)", prefix)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func validateAssets(assets []AssetConfig) error {
	if len(assets) == 0 {
		return fmt.Errorf("assets requires at least one entry")
	}
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if !symbol.Valid(a.Symbol) {
			return fmt.Errorf("assets contains invalid symbol %q", a.Symbol)
		}
		if seen[a.Symbol] {
			return fmt.Errorf("duplicate asset symbol: %s", a.Symbol)
		}
		seen[a.Symbol] = true
		if !IsValidInterval(a.Interval) {
			return fmt.Errorf("asset %s has invalid interval %q", a.Symbol, a.Interval)
		}
		if strings.TrimSpace(a.Strategy) == "" && strings.TrimSpace(a.Template) == "" {
			return fmt.Errorf("asset %s needs strategy or template", a.Symbol)
		}
		if a.StartingCapital <= 0 {
			return fmt.Errorf("asset %s starting_capital must be > 0", a.Symbol)
		}
		if a.PositionPct <= 0 || a.PositionPct > 1 {
			return fmt.Errorf("asset %s position_pct must be in (0, 1]", a.Symbol)
		}
		if a.StopLossPct <= 0 || a.StopLossPct >= 1 {
			return fmt.Errorf("asset %s stop_loss_pct must be in (0, 1)", a.Symbol)
		}
		if a.Risk != nil {
			if err := a.Risk.validate("assets.risk"); err != nil {
				return fmt.Errorf("asset %s: %w", a.Symbol, err)
			}
		}
	}
	return nil
}

// IsValidInterval accepts digits followed by one of m/h/d/w.
func IsValidInterval(s string) bool {
	_, ok := market.ParseInterval(s)
	return ok
}
