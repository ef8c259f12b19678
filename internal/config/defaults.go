package config

import (
	"strings"

	"keel/internal/pkg/symbol"
)

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9991"
	defaultAppLogPath         = "/data/logs/keel.log"
	defaultExchangeREST       = "https://api.binance.com"
	defaultExchangeTimeout    = 15
	defaultKlineMaxCached     = 300
	defaultFeeRate            = 0.001
	defaultSubmitTimeout      = 5
	defaultSubmitAttempts     = 3
	defaultSubmitBackoffMS    = 500
	defaultResolveAttempts    = 5
	defaultResolveInterval    = 2
	defaultRiskDrawdown1h     = 0.05
	defaultRiskWindowMinutes  = 60
	defaultRiskMaxLossStreak  = 3
	defaultRiskDailyLossCap   = 50
	defaultRiskTotalDrawdown  = 0.25
	defaultRiskTrailingStop   = 0.02
	defaultPersistDir         = "/data/state"
	defaultJournalPath        = "/data/db/journal.db"
	defaultTemplatesPath      = "configs/strategies.yaml"
	defaultAssetInterval      = "1m"
	defaultAssetPositionPct   = 0.95
	defaultAssetStopLossPct   = 0.03
	defaultAssetStartCapital  = 1000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Kline.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Risk.applyDefaults(keys, "risk")
	c.Persist.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	for i := range c.Assets {
		c.Assets[i].applyDefaults(keys)
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		fieldDefault{
			key:   "exchange.http_timeout_seconds",
			need:  func() bool { return e.HTTPTimeoutSeconds <= 0 },
			apply: func() { e.HTTPTimeoutSeconds = defaultExchangeTimeout },
		},
	)
}

func (k *KlineConfig) applyDefaults(keys keySet) {
	if k == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "kline.max_cached",
			need:  func() bool { return k.MaxCached <= 0 },
			apply: func() { k.MaxCached = defaultKlineMaxCached },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "execution.fee_rate",
			need:  func() bool { return e.FeeRate <= 0 },
			apply: func() { e.FeeRate = defaultFeeRate },
		},
		fieldDefault{
			key:   "execution.submit_timeout_seconds",
			need:  func() bool { return e.SubmitTimeoutSeconds <= 0 },
			apply: func() { e.SubmitTimeoutSeconds = defaultSubmitTimeout },
		},
		fieldDefault{
			key:   "execution.submit_max_attempts",
			need:  func() bool { return e.SubmitMaxAttempts <= 0 },
			apply: func() { e.SubmitMaxAttempts = defaultSubmitAttempts },
		},
		fieldDefault{
			key:   "execution.submit_backoff_ms",
			need:  func() bool { return e.SubmitBackoffMS <= 0 },
			apply: func() { e.SubmitBackoffMS = defaultSubmitBackoffMS },
		},
		fieldDefault{
			key:   "execution.resolve_max_attempts",
			need:  func() bool { return e.ResolveMaxAttempts <= 0 },
			apply: func() { e.ResolveMaxAttempts = defaultResolveAttempts },
		},
		fieldDefault{
			key:   "execution.resolve_interval_seconds",
			need:  func() bool { return e.ResolveIntervalSeconds <= 0 },
			apply: func() { e.ResolveIntervalSeconds = defaultResolveInterval },
		},
	)
}

// applyDefaults fills a risk block. prefix distinguishes the fleet block from
// per-asset overrides, which carry their keys under assets.risk.
func (r *RiskConfig) applyDefaults(keys keySet, prefix string) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   prefix + ".drawdown_1h_pct",
			need:  func() bool { return r.Drawdown1hPct <= 0 },
			apply: func() { r.Drawdown1hPct = defaultRiskDrawdown1h },
		},
		fieldDefault{
			key:   prefix + ".window_minutes",
			need:  func() bool { return r.WindowMinutes <= 0 },
			apply: func() { r.WindowMinutes = defaultRiskWindowMinutes },
		},
		fieldDefault{
			key:   prefix + ".max_consecutive_losses",
			need:  func() bool { return r.MaxConsecutiveLosses <= 0 },
			apply: func() { r.MaxConsecutiveLosses = defaultRiskMaxLossStreak },
		},
		fieldDefault{
			key:   prefix + ".daily_loss_cap",
			need:  func() bool { return r.DailyLossCap <= 0 },
			apply: func() { r.DailyLossCap = defaultRiskDailyLossCap },
		},
		fieldDefault{
			key:   prefix + ".total_drawdown_pct",
			need:  func() bool { return r.TotalDrawdownPct <= 0 },
			apply: func() { r.TotalDrawdownPct = defaultRiskTotalDrawdown },
		},
		fieldDefault{
			key:   prefix + ".trailing_stop_pct",
			need:  func() bool { return r.TrailingStopPct <= 0 },
			apply: func() { r.TrailingStopPct = defaultRiskTrailingStop },
		},
	)
}

func (p *PersistConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("persist.dir", &p.Dir, defaultPersistDir),
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("journal.enabled", &j.Enabled, true),
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.templates_path", &s.TemplatesPath, defaultTemplatesPath),
	)
}

func (a *AssetConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	a.Symbol = symbol.Normalize(a.Symbol)
	if strings.TrimSpace(a.Interval) == "" {
		a.Interval = defaultAssetInterval
	}
	if a.StartingCapital <= 0 {
		a.StartingCapital = defaultAssetStartCapital
	}
	if a.PositionPct <= 0 || a.PositionPct > 1 {
		a.PositionPct = defaultAssetPositionPct
	}
	if a.StopLossPct <= 0 {
		a.StopLossPct = defaultAssetStopLossPct
	}
	if a.Risk != nil {
		a.Risk.applyDefaults(keys, "assets.risk")
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
