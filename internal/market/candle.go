package market

import "sort"

// Candle is one OHLCV bar. Times are unix milliseconds (UTC).
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Spread    int64   `json:"spread"`
}

// Candles is a chronologically ordered bar sequence, earliest first.
type Candles []Candle

// Sort orders bars by open time ascending. Sorting an already ordered
// sequence is a no-op, so normalization is idempotent.
func (c Candles) Sort() {
	sort.SliceStable(c, func(i, j int) bool { return c[i].OpenTime < c[j].OpenTime })
}

// Sorted reports whether the sequence is already in ascending order.
func (c Candles) Sorted() bool {
	for i := 1; i < len(c); i++ {
		if c[i].OpenTime < c[i-1].OpenTime {
			return false
		}
	}
	return true
}

// Reverse flips the sequence in place (latest first).
func (c Candles) Reverse() {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// Last returns the most recent bar of an ordered sequence.
func (c Candles) Last() (Candle, bool) {
	if len(c) == 0 {
		return Candle{}, false
	}
	return c[len(c)-1], true
}

func (c Candles) Opens() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.Open
	}
	return out
}

func (c Candles) Highs() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.High
	}
	return out
}

func (c Candles) Lows() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.Low
	}
	return out
}

func (c Candles) Closes() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.Close
	}
	return out
}
