package trader

import (
	"context"
	"testing"

	"finch/internal/account"
	"finch/internal/records"
	"finch/internal/risk"
	"finch/internal/symbol"
	"finch/internal/terminal"
	"finch/internal/terminal/terminaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fake   *terminaltest.Fake
	gw     *terminal.Gateway
	sym    *symbol.Symbol
	ram    *risk.Manager
	store  records.Store
	trader *Trader
}

func newFixture(t *testing.T, riskCfg risk.Config) *fixture {
	t.Helper()
	fake := terminaltest.New()
	fake.AddForex("EURUSD")
	fake.Account = terminal.AccountInfo{Balance: 350, Equity: 350, MarginFree: 350, Currency: "USD"}
	gw := terminal.NewGateway(fake, terminal.GatewayConfig{Attempts: 1})
	sym := symbol.New(gw, "EURUSD")
	require.NoError(t, sym.Init(context.Background()))
	ram := risk.NewManager(gw, account.New(gw), riskCfg)
	store, err := records.NewJSONStore(t.TempDir())
	require.NoError(t, err)

	tr := New(gw, sym, ram, store, Config{
		Strategy:     "finger_trap",
		Magic:        77,
		RecordTrades: true,
		Params:       func() map[string]any { return map[string]any{"ema_period": 21} },
	})
	return &fixture{fake: fake, gw: gw, sym: sym, ram: ram, store: store, trader: tr}
}

func TestCreateOrderWithSL(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02, RiskToReward: 2})
	ctx := context.Background()

	// ask 1.08010, stop 50 pips below
	res, err := f.trader.CreateOrderWithSL(ctx, terminal.OrderBuy, 1.07510)
	require.NoError(t, err)
	assert.True(t, res.Ok())

	require.Len(t, f.fake.SentOrders, 1)
	sent := f.fake.SentOrders[0]
	assert.Equal(t, terminal.OrderBuy, sent.Type)
	assert.Equal(t, 0.14, sent.Volume) // 350 * 2% = 7.00 over 50 pips
	assert.Equal(t, 1.07510, sent.StopLoss)
	assert.InDelta(t, 1.09010, sent.TakeProfit, 1e-9)
	assert.Equal(t, int64(77), sent.Magic)

	saved, err := f.store.All(ctx, "finger_trap")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "buy", saved[0].Type)
	assert.Equal(t, 0.14, saved[0].Volume)
	assert.False(t, saved[0].Closed)
	assert.Equal(t, map[string]any{"ema_period": float64(21)}, saved[0].Params)
}

func TestCreateOrderWithSLWrongSide(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02})

	_, err := f.trader.CreateOrderWithSL(context.Background(), terminal.OrderBuy, 1.09)
	assert.ErrorIs(t, err, terminal.ErrOrder)
	assert.Empty(t, f.fake.SentOrders)
}

func TestCreateOrderWithPoints(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02, RiskToReward: 3})

	// 500 points = 50 pips below the 1.08000 bid
	res, err := f.trader.CreateOrderWithPoints(context.Background(), terminal.OrderSell, 500)
	require.NoError(t, err)
	assert.True(t, res.Ok())

	sent := f.fake.SentOrders[0]
	assert.InDelta(t, 1.08500, sent.StopLoss, 1e-9)
	assert.InDelta(t, 1.06500, sent.TakeProfit, 1e-9)
	assert.Equal(t, 0.14, sent.Volume)
}

func TestCreateOrderWithStops(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02})

	res, err := f.trader.CreateOrderWithStops(context.Background(), terminal.OrderBuy, 1.07510, 1.08710)
	require.NoError(t, err)
	assert.True(t, res.Ok())

	sent := f.fake.SentOrders[0]
	assert.Equal(t, 1.07510, sent.StopLoss)
	assert.Equal(t, 1.08710, sent.TakeProfit)

	// take profit below a long entry is rejected before sending
	_, err = f.trader.CreateOrderWithStops(context.Background(), terminal.OrderBuy, 1.07510, 1.07000)
	assert.ErrorIs(t, err, terminal.ErrOrder)
}

func TestCreateOrderNoStops(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02})

	res, err := f.trader.CreateOrderNoStops(context.Background(), terminal.OrderBuy)
	require.NoError(t, err)
	assert.True(t, res.Ok())

	sent := f.fake.SentOrders[0]
	assert.Equal(t, 0.01, sent.Volume)
	assert.Zero(t, sent.StopLoss)
	assert.Zero(t, sent.TakeProfit)
}

func TestCheckRejectionAbortsWithoutSending(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02})
	f.fake.CheckFn = func(req *terminal.OrderRequest) (*terminal.OrderCheckResult, error) {
		return &terminal.OrderCheckResult{RetCode: terminal.RetNoMoney, Comment: "no money"}, nil
	}

	_, err := f.trader.CreateOrderWithSL(context.Background(), terminal.OrderBuy, 1.07510)
	assert.ErrorIs(t, err, terminal.ErrOrder)
	assert.Empty(t, f.fake.SentOrders)
}

func TestOpenLimitGate(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02, OpenLimit: 1})
	f.fake.SetPositions(terminal.Position{Ticket: 9, Symbol: "EURUSD", Magic: 77})

	_, err := f.trader.CreateOrderWithSL(context.Background(), terminal.OrderBuy, 1.07510)
	assert.ErrorIs(t, err, terminal.ErrOrder)
	assert.Empty(t, f.fake.SentOrders)
}

func TestCloseFilters(t *testing.T) {
	f := newFixture(t, risk.Config{RiskPct: 0.02})
	ctx := context.Background()
	f.fake.SetPositions(
		terminal.Position{Ticket: 1, Symbol: "EURUSD", Type: terminal.OrderBuy, Volume: 0.1, Profit: 4.2, Magic: 77},
		terminal.Position{Ticket: 2, Symbol: "EURUSD", Type: terminal.OrderSell, Volume: 0.2, Profit: -1.7, Magic: 77},
		terminal.Position{Ticket: 3, Symbol: "EURUSD", Type: terminal.OrderBuy, Volume: 0.3, Profit: 0.5, Magic: 12}, // other strategy
	)

	require.NoError(t, f.trader.CloseWin(ctx))
	require.Len(t, f.fake.SentOrders, 1)
	assert.Equal(t, int64(1), f.fake.SentOrders[0].Position)
	assert.Equal(t, terminal.OrderSell, f.fake.SentOrders[0].Type)

	require.NoError(t, f.trader.CloseLoss(ctx))
	require.Len(t, f.fake.SentOrders, 2)
	assert.Equal(t, int64(2), f.fake.SentOrders[1].Position)
	assert.Equal(t, terminal.OrderBuy, f.fake.SentOrders[1].Type)

	require.NoError(t, f.trader.CloseAll(ctx))
	assert.Len(t, f.fake.SentOrders, 4) // tickets 1 and 2, never 3
}
