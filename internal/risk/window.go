package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

type equitySample struct {
	at     time.Time
	equity decimal.Decimal
}

// equityWindow is a pruned time series of equity marks used for the rolling
// drawdown rule. Samples older than span fall off on every append.
type equityWindow struct {
	span    time.Duration
	samples []equitySample
}

func newEquityWindow(span time.Duration) *equityWindow {
	if span <= 0 {
		span = time.Hour
	}
	return &equityWindow{span: span}
}

func (w *equityWindow) append(at time.Time, equity decimal.Decimal) {
	w.samples = append(w.samples, equitySample{at: at, equity: equity})
	cutoff := at.Add(-w.span)
	idx := 0
	for idx < len(w.samples) && w.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.samples = append(w.samples[:0], w.samples[idx:]...)
	}
}

// drawdown returns (max-last)/max over the window; zero with fewer than two
// samples or a non-positive max.
func (w *equityWindow) drawdown() decimal.Decimal {
	if len(w.samples) < 2 {
		return decimal.Zero
	}
	maxEq := w.samples[0].equity
	for _, s := range w.samples[1:] {
		if s.equity.GreaterThan(maxEq) {
			maxEq = s.equity
		}
	}
	if !maxEq.IsPositive() {
		return decimal.Zero
	}
	last := w.samples[len(w.samples)-1].equity
	dd := maxEq.Sub(last).DivRound(maxEq, 12)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

func (w *equityWindow) reset() {
	w.samples = w.samples[:0]
}
