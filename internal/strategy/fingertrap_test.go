package strategy

import (
	"context"
	"testing"
	"time"

	"finch/internal/account"
	"finch/internal/market"
	"finch/internal/risk"
	"finch/internal/symbol"
	"finch/internal/terminal"
	"finch/internal/terminal/terminaltest"
	"finch/internal/trader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	if t.After(c.now) {
		c.now = t
	}
	return ctx.Err()
}

func seedBars(fake *terminaltest.Fake, tf market.Timeframe, closes []float64) {
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	var bars market.Candles
	for i, c := range closes {
		bars = append(bars, market.Candle{
			OpenTime:  base + int64(i)*tf.Millis(),
			CloseTime: base + int64(i+1)*tf.Millis() - 1,
			Open:      c, High: c + 0.0002, Low: c - 0.0002, Close: c,
		})
	}
	fake.Rates["EURUSD@"+tf.Key] = bars
}

func newFingerTrap(t *testing.T, closes []float64) (*FingerTrap, *terminaltest.Fake, *fakeClock) {
	t.Helper()
	fake := terminaltest.New()
	fake.AddForex("EURUSD")
	fake.Account = terminal.AccountInfo{Balance: 350, Equity: 350, MarginFree: 350}
	gw := terminal.NewGateway(fake, terminal.GatewayConfig{Attempts: 1})
	sym := symbol.New(gw, "EURUSD")
	require.NoError(t, sym.Init(context.Background()))

	tf, err := market.ParseTimeframe("1h")
	require.NoError(t, err)
	seedBars(fake, tf, closes)

	ram := risk.NewManager(gw, account.New(gw), risk.Config{RiskPct: 0.02})
	tr := trader.New(gw, sym, ram, nil, trader.Config{Strategy: "finger_trap"})
	clk := &fakeClock{now: time.Date(2024, 4, 3, 10, 30, 0, 0, time.UTC)}

	ft := NewFingerTrap(sym, tr, nil, clk, tf, FingerTrapConfig{FastPeriod: 3, SlowPeriod: 5})
	return ft, fake, clk
}

func flatCloses(n int, level float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestFingerTrapEntersOnCrossUp(t *testing.T) {
	closes := flatCloses(40, 1.08)
	closes[39] = 1.09 // breakout bar pulls the fast EMA through the slow
	ft, fake, _ := newFingerTrap(t, closes)
	ctx := context.Background()

	require.NoError(t, ft.Initialize(ctx))
	require.NoError(t, ft.Trade(ctx))

	require.Len(t, fake.SentOrders, 1)
	assert.Equal(t, terminal.OrderBuy, fake.SentOrders[0].Type)
	assert.Positive(t, fake.SentOrders[0].StopLoss)
}

func TestFingerTrapEntersOnCrossDown(t *testing.T) {
	closes := flatCloses(40, 1.08)
	closes[39] = 1.07
	ft, fake, _ := newFingerTrap(t, closes)

	require.NoError(t, ft.Trade(context.Background()))
	require.Len(t, fake.SentOrders, 1)
	assert.Equal(t, terminal.OrderSell, fake.SentOrders[0].Type)
}

func TestFingerTrapNoSignalNoOrder(t *testing.T) {
	ft, fake, clk := newFingerTrap(t, flatCloses(40, 1.08))
	before := clk.now

	require.NoError(t, ft.Trade(context.Background()))
	assert.Empty(t, fake.SentOrders)
	// slept to the next hourly bar
	assert.Equal(t, before.Truncate(time.Hour).Add(time.Hour), clk.now)
}

func TestFingerTrapInitializeNeedsHistory(t *testing.T) {
	ft, _, _ := newFingerTrap(t, flatCloses(4, 1.08))
	assert.Error(t, ft.Initialize(context.Background()))
}

func TestFingerTrapParameters(t *testing.T) {
	ft, _, _ := newFingerTrap(t, flatCloses(40, 1.08))
	params := ft.Parameters()
	assert.Equal(t, 3, params["fast_period"])
	assert.Equal(t, 5, params["slow_period"])
	assert.Equal(t, "1h", params["timeframe"])
}
