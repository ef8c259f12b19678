// Package risk translates ledger state into pause, resume and stop-loss
// decisions. The governor never mutates the ledger; it returns a verdict the
// owning engine applies.
package risk

import (
	"fmt"
	"time"

	"keel/internal/ledger"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Drawdown1hPct pauses when equity falls more than this fraction from
	// its peak inside the trailing window.
	Drawdown1hPct decimal.Decimal
	// WindowSpan is the trailing window for the rolling drawdown rule.
	WindowSpan time.Duration
	// MaxConsecutiveLosses pauses when the loss streak reaches it. Zero
	// disables the rule.
	MaxConsecutiveLosses int
	// DailyLossCap is a positive quote-currency amount; today's PnL more
	// negative than -cap pauses the asset.
	DailyLossCap decimal.Decimal
	// TotalDrawdownPct pauses (without auto-clear) when lifetime max
	// drawdown exceeds it.
	TotalDrawdownPct decimal.Decimal
	// TrailingStopPct trails the highest price since entry.
	TrailingStopPct decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		Drawdown1hPct:        decimal.NewFromFloat(0.05),
		WindowSpan:           time.Hour,
		MaxConsecutiveLosses: 3,
		DailyLossCap:         decimal.NewFromInt(50),
		TotalDrawdownPct:     decimal.NewFromFloat(0.25),
		TrailingStopPct:      decimal.NewFromFloat(0.02),
	}
}

// Verdict is the outcome of one governor evaluation. Pause and ForceExit are
// independent: a paused asset still force-exits an open position when its
// stop is breached.
type Verdict struct {
	Pause         bool
	Cause         ledger.PauseCause
	Reason        string
	ForceExit     bool
	EffectiveStop decimal.Decimal
}

type Governor struct {
	cfg    Config
	window *equityWindow
}

func NewGovernor(cfg Config) *Governor {
	return &Governor{cfg: cfg, window: newEquityWindow(cfg.WindowSpan)}
}

// Observe feeds one equity mark into the rolling window. Call on every fill
// and every evaluation tick.
func (g *Governor) Observe(at time.Time, equity decimal.Decimal) {
	g.window.append(at, equity)
}

// ResetWindow drops rolling-window history, used after an operator risk
// reset so a stale drawdown does not immediately re-pause.
func (g *Governor) ResetWindow() {
	g.window.reset()
}

// Evaluate applies the pause rules in priority order (first match wins) and
// computes the stop-loss directive for any open position.
func (g *Governor) Evaluate(l *ledger.Ledger) Verdict {
	var v Verdict

	switch {
	case g.cfg.Drawdown1hPct.IsPositive() && g.window.drawdown().GreaterThan(g.cfg.Drawdown1hPct):
		v.Pause = true
		v.Cause = ledger.CauseDrawdown1h
		v.Reason = fmt.Sprintf("%s drawdown %s exceeds %s", g.cfg.WindowSpan,
			g.window.drawdown().StringFixed(4), g.cfg.Drawdown1hPct.StringFixed(4))
	case g.cfg.MaxConsecutiveLosses > 0 && l.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses:
		v.Pause = true
		v.Cause = ledger.CauseConsecutiveLoss
		v.Reason = fmt.Sprintf("%d consecutive losses", l.ConsecutiveLosses)
	case g.cfg.DailyLossCap.IsPositive() && l.TodayPnL.LessThan(g.cfg.DailyLossCap.Neg()):
		v.Pause = true
		v.Cause = ledger.CauseDailyLoss
		v.Reason = fmt.Sprintf("today pnl %s below -%s", l.TodayPnL, g.cfg.DailyLossCap)
	case g.cfg.TotalDrawdownPct.IsPositive() && l.MaxDrawdown.GreaterThan(g.cfg.TotalDrawdownPct):
		v.Pause = true
		v.Cause = ledger.CauseTotalDrawdown
		v.Reason = fmt.Sprintf("lifetime drawdown %s exceeds %s",
			l.MaxDrawdown.StringFixed(4), g.cfg.TotalDrawdownPct.StringFixed(4))
	}

	if l.InPosition {
		v.EffectiveStop = g.effectiveStop(l)
		if v.EffectiveStop.IsPositive() && l.CurrentPrice.IsPositive() &&
			l.CurrentPrice.LessThanOrEqual(v.EffectiveStop) {
			v.ForceExit = true
		}
	}
	return v
}

// effectiveStop is max(fixed stop, highest-since-entry * (1 - trailing)).
// The trailing leg only tightens; it never loosens a fixed stop.
func (g *Governor) effectiveStop(l *ledger.Ledger) decimal.Decimal {
	stop := l.StopLossPrice
	if g.cfg.TrailingStopPct.IsPositive() && l.HighestSinceEntry.IsPositive() {
		trail := l.HighestSinceEntry.Mul(decimal.NewFromInt(1).Sub(g.cfg.TrailingStopPct))
		if trail.GreaterThan(stop) {
			stop = trail
		}
	}
	return stop
}
