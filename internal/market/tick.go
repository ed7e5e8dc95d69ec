package market

import "sort"

// Tick is a point-in-time price sample. Time is unix milliseconds (UTC).
type Tick struct {
	Time   int64   `json:"time"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
}

// Mid returns the bid/ask midpoint, falling back to Last when one side is missing.
func (t Tick) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Ticks is a chronologically ordered tick sequence, earliest first.
type Ticks []Tick

// Sort orders ticks by time ascending; idempotent like Candles.Sort.
func (t Ticks) Sort() {
	sort.SliceStable(t, func(i, j int) bool { return t[i].Time < t[j].Time })
}

// Sorted reports whether the sequence is already in ascending order.
func (t Ticks) Sorted() bool {
	for i := 1; i < len(t); i++ {
		if t[i].Time < t[i-1].Time {
			return false
		}
	}
	return true
}

// Reverse flips the sequence in place (latest first).
func (t Ticks) Reverse() {
	for i, j := 0, len(t)-1; i < j; i, j = i+1, j-1 {
		t[i], t[j] = t[j], t[i]
	}
}

// Last returns the most recent tick of an ordered sequence.
func (t Ticks) Last() (Tick, bool) {
	if len(t) == 0 {
		return Tick{}, false
	}
	return t[len(t)-1], true
}
