package market

// Candle is one OHLCV bar. A candle is mutable while open and immutable once
// Closed is set; only closed candles feed strategy evaluation.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
	Closed    bool    `json:"closed"`

	// Smoothed OHLC, computed once per closed candle via Smooth and cached.
	smoothed *Smoothed
}

// Smoothed carries Heikin-Ashi style smoothed OHLC values derived from the
// raw candle and its predecessor.
type Smoothed struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Smooth returns the cached smoothed values, deriving them from prev on first
// call. prev may be nil for the first candle of a series.
func (c *Candle) Smooth(prev *Candle) Smoothed {
	if c.smoothed != nil {
		return *c.smoothed
	}
	s := Smoothed{
		Close: (c.Open + c.High + c.Low + c.Close) / 4,
	}
	if prev != nil {
		ps := prev.Smooth(nil)
		s.Open = (ps.Open + ps.Close) / 2
	} else {
		s.Open = (c.Open + c.Close) / 2
	}
	s.High = max3(c.High, s.Open, s.Close)
	s.Low = min3(c.Low, s.Open, s.Close)
	if c.Closed {
		c.smoothed = &s
	}
	return s
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
