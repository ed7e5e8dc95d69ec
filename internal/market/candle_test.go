package market

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCandles(n int) Candles {
	out := make(Candles, 0, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := int64(60_000)
	for i := 0; i < n; i++ {
		open := 1.0800 + float64(i)*0.0001
		out = append(out, Candle{
			OpenTime:  base + int64(i)*step,
			CloseTime: base + int64(i+1)*step - 1,
			Open:      open,
			High:      open + 0.0003,
			Low:       open - 0.0002,
			Close:     open + 0.0001,
			Volume:    100 + float64(i),
		})
	}
	return out
}

func TestCandlesSortIdempotent(t *testing.T) {
	ordered := sampleCandles(50)

	shuffled := make(Candles, len(ordered))
	copy(shuffled, ordered)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	shuffled.Sort()
	assert.Equal(t, ordered, shuffled)

	shuffled.Sort()
	assert.Equal(t, ordered, shuffled, "sorting an ordered sequence must not change it")
	assert.True(t, shuffled.Sorted())
}

func TestCandlesReverse(t *testing.T) {
	c := sampleCandles(5)
	c.Reverse()
	assert.False(t, c.Sorted())
	assert.Equal(t, int64(0), c[4].OpenTime-sampleCandles(1)[0].OpenTime)
	c.Sort()
	assert.Equal(t, sampleCandles(5), c)
}

func TestCandlesSeriesAccessors(t *testing.T) {
	c := sampleCandles(3)
	assert.Len(t, c.Closes(), 3)
	assert.Equal(t, c[1].High, c.Highs()[1])
	assert.Equal(t, c[2].Low, c.Lows()[2])
	assert.Equal(t, c[0].Open, c.Opens()[0])

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, c[2], last)

	_, ok = Candles{}.Last()
	assert.False(t, ok)
}

func TestTicksSortIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	ordered := Ticks{
		{Time: base, Bid: 1.0800, Ask: 1.0802},
		{Time: base + 250, Bid: 1.0801, Ask: 1.0803},
		{Time: base + 500, Bid: 1.0799, Ask: 1.0801},
	}
	shuffled := Ticks{ordered[2], ordered[0], ordered[1]}
	shuffled.Sort()
	assert.Equal(t, ordered, shuffled)
	shuffled.Sort()
	assert.Equal(t, ordered, shuffled)
}

func TestTickMid(t *testing.T) {
	assert.InDelta(t, 1.0801, Tick{Bid: 1.0800, Ask: 1.0802}.Mid(), 1e-9)
	assert.InDelta(t, 1.0805, Tick{Last: 1.0805}.Mid(), 1e-9)
}
