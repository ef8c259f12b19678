package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckNewDay performs the lazy UTC day rollover. Call before any operation
// that reads or writes daily figures. Rollover resets the daily counters,
// re-anchors day-start capital, and clears only a daily-loss pause; every
// other pause cause survives until an explicit reset.
func (l *Ledger) CheckNewDay(now time.Time) bool {
	day := now.UTC().Format("2006-01-02")
	if day == l.Day {
		return false
	}
	l.Day = day
	l.DayStartCapital = l.Capital
	l.TodayPnL = decimal.Zero
	l.TodayTrades = 0
	l.TodayWins = 0
	if l.RiskPaused && l.PauseCause == CauseDailyLoss {
		l.RiskPaused = false
		l.PauseCause = CauseNone
		l.PauseReason = ""
	}
	l.touch("day-rollover")
	return true
}
