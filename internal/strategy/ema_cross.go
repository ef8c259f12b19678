package strategy

import (
	"fmt"

	"keel/internal/ledger"
	"keel/internal/market"

	"github.com/markcheno/go-talib"
)

func init() {
	register("ema_cross", func() Strategy { return &emaCross{} })
}

// emaCross signals on fast/slow EMA relationships: a fresh crossover is
// strong conviction, a persisting spread is ordinary conviction.
type emaCross struct {
	fastPeriod  int
	slowPeriod  int
	useSmoothed bool

	lastSignal Signal
}

func (s *emaCross) Initialize(params map[string]any) error {
	s.fastPeriod = intParam(params, "fast_period", 9)
	s.slowPeriod = intParam(params, "slow_period", 21)
	s.useSmoothed = boolParam(params, "use_smoothed", false)
	if s.fastPeriod >= s.slowPeriod {
		return fmt.Errorf("ema_cross: fast_period %d must be below slow_period %d", s.fastPeriod, s.slowPeriod)
	}
	s.lastSignal = SignalNeutral
	return nil
}

func (s *emaCross) ProcessCandles(candles []market.Candle) Signal {
	closes := closePrices(candles, s.useSmoothed)
	if len(closes) < s.slowPeriod+1 {
		s.lastSignal = SignalNeutral
		return s.lastSignal
	}
	fast := talib.Ema(closes, s.fastPeriod)
	slow := talib.Ema(closes, s.slowPeriod)
	n := len(closes)
	curDiff := fast[n-1] - slow[n-1]
	prevDiff := fast[n-2] - slow[n-2]

	switch {
	case curDiff > 0 && prevDiff <= 0:
		s.lastSignal = SignalStrongBull
	case curDiff > 0:
		s.lastSignal = SignalBull
	case curDiff < 0 && prevDiff >= 0:
		s.lastSignal = SignalStrongBear
	case curDiff < 0:
		s.lastSignal = SignalBear
	default:
		s.lastSignal = SignalNeutral
	}
	return s.lastSignal
}

func (s *emaCross) ShouldEnter(l ledger.Ledger, sig Signal) bool {
	if l.InPosition || l.RiskPaused {
		return false
	}
	return sig == SignalStrongBull
}

func (s *emaCross) ShouldExit(l ledger.Ledger) bool {
	return l.InPosition && s.lastSignal.Bearish()
}

func closePrices(candles []market.Candle, smoothed bool) []float64 {
	out := make([]float64, 0, len(candles))
	var prev *market.Candle
	for i := range candles {
		c := &candles[i]
		if !c.Closed {
			continue
		}
		if smoothed {
			out = append(out, c.Smooth(prev).Close)
		} else {
			out = append(out, c.Close)
		}
		prev = c
	}
	return out
}
