package strategy

// Signal is a strategy's conviction after one evaluation. It is an ordered
// scale, not a number; comparisons outside this package go through the
// helpers below.
type Signal int

const (
	SignalNeutral Signal = iota
	SignalBull
	SignalStrongBull
	SignalBear
	SignalStrongBear
)

func (s Signal) String() string {
	switch s {
	case SignalBull:
		return "bull"
	case SignalStrongBull:
		return "strong-bull"
	case SignalBear:
		return "bear"
	case SignalStrongBear:
		return "strong-bear"
	default:
		return "neutral"
	}
}

func (s Signal) Bullish() bool {
	return s == SignalBull || s == SignalStrongBull
}

func (s Signal) Bearish() bool {
	return s == SignalBear || s == SignalStrongBear
}
