package strategy

import (
	"fmt"

	"keel/internal/ledger"
	"keel/internal/market"

	"github.com/markcheno/go-talib"
)

func init() {
	register("rsi_reversion", func() Strategy { return &rsiReversion{} })
}

// rsiReversion buys oversold and exits overbought. Depth below the oversold
// line scales conviction.
type rsiReversion struct {
	period    int
	buyBelow  float64
	exitAbove float64

	lastSignal Signal
	lastRSI    float64
}

func (s *rsiReversion) Initialize(params map[string]any) error {
	s.period = intParam(params, "period", 14)
	s.buyBelow = floatParam(params, "buy_below", 30)
	s.exitAbove = floatParam(params, "exit_above", 60)
	if s.buyBelow <= 0 || s.buyBelow >= s.exitAbove || s.exitAbove >= 100 {
		return fmt.Errorf("rsi_reversion: need 0 < buy_below < exit_above < 100, got %v/%v", s.buyBelow, s.exitAbove)
	}
	s.lastSignal = SignalNeutral
	return nil
}

func (s *rsiReversion) ProcessCandles(candles []market.Candle) Signal {
	closes := closePrices(candles, false)
	if len(closes) <= s.period {
		s.lastSignal = SignalNeutral
		return s.lastSignal
	}
	rsi := talib.Rsi(closes, s.period)
	cur := rsi[len(rsi)-1]
	s.lastRSI = cur

	switch {
	case cur < s.buyBelow-10:
		s.lastSignal = SignalStrongBull
	case cur < s.buyBelow:
		s.lastSignal = SignalBull
	case cur > 90:
		s.lastSignal = SignalStrongBear
	case cur > s.exitAbove:
		s.lastSignal = SignalBear
	default:
		s.lastSignal = SignalNeutral
	}
	return s.lastSignal
}

func (s *rsiReversion) ShouldEnter(l ledger.Ledger, sig Signal) bool {
	if l.InPosition || l.RiskPaused {
		return false
	}
	return sig.Bullish()
}

func (s *rsiReversion) ShouldExit(l ledger.Ledger) bool {
	return l.InPosition && s.lastRSI > s.exitAbove
}
