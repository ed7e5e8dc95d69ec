package risk

import (
	"context"
	"testing"

	"finch/internal/account"
	"finch/internal/symbol"
	"finch/internal/terminal"
	"finch/internal/terminal/terminaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *terminaltest.Fake, *symbol.Symbol) {
	t.Helper()
	fake := terminaltest.New()
	fake.AddForex("EURUSD")
	fake.Account = terminal.AccountInfo{Balance: 350, Equity: 350, MarginFree: 350, Currency: "USD"}
	gw := terminal.NewGateway(fake, terminal.GatewayConfig{Attempts: 1})
	acct := account.New(gw)
	sym := symbol.New(gw, "EURUSD")
	require.NoError(t, sym.Init(context.Background()))
	return NewManager(gw, acct, cfg), fake, sym
}

func TestAmountFromFreeMargin(t *testing.T) {
	m, _, _ := newTestManager(t, Config{RiskPct: 0.02})

	amount, err := m.Amount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 7.0, amount, 1e-9)
}

func TestAmountFixedOverride(t *testing.T) {
	m, _, _ := newTestManager(t, Config{RiskPct: 0.02, FixedAmount: 25})

	amount, err := m.Amount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.0, amount)
}

func TestAmountClamped(t *testing.T) {
	m, _, _ := newTestManager(t, Config{RiskPct: 0.02, MinAmount: 10})
	amount, err := m.Amount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, amount)

	m.Apply(Config{RiskPct: 0.02, MaxAmount: 5})
	amount, err = m.Amount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, amount)
}

func TestAmountNeverNegative(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{RiskPct: 0.02})
	fake.Account.MarginFree = -120

	amount, err := m.Amount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, amount)
}

func TestVolumeFromStopDistance(t *testing.T) {
	m, _, sym := newTestManager(t, Config{RiskPct: 0.02})

	// 7.00 at risk over a 50 pip stop on a 1.0/pip instrument
	vol, err := m.Volume(sym, 50, 7.0)
	require.NoError(t, err)
	assert.Equal(t, 0.14, vol)
}

func TestVolumeFlooredToStep(t *testing.T) {
	m, _, sym := newTestManager(t, Config{})

	// 50 / (63 * 1.0) = 0.7936..., floors to 0.79
	vol, err := m.Volume(sym, 63, 50)
	require.NoError(t, err)
	assert.Equal(t, 0.79, vol)
}

func TestVolumeClampedToMax(t *testing.T) {
	m, _, sym := newTestManager(t, Config{})

	vol, err := m.Volume(sym, 1, 1e6)
	require.NoError(t, err)
	assert.Equal(t, sym.Info().VolumeMax, vol)
}

func TestVolumeBelowMin(t *testing.T) {
	m, _, sym := newTestManager(t, Config{})

	_, err := m.Volume(sym, 100, 0.5)
	assert.ErrorIs(t, err, terminal.ErrVolume)

	_, err = m.Volume(sym, 0, 10)
	assert.ErrorIs(t, err, terminal.ErrVolume)
}

func TestCheckOpenPositions(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{OpenLimit: 2})
	ctx := context.Background()

	ok, err := m.CheckOpenPositions(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	fake.SetPositions(
		terminal.Position{Ticket: 1, Symbol: "EURUSD"},
		terminal.Position{Ticket: 2, Symbol: "EURUSD"},
	)
	ok, err = m.CheckOpenPositions(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// zero limit disables the gate
	m.Apply(Config{})
	ok, err = m.CheckOpenPositions(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckLosingPositions(t *testing.T) {
	m, fake, _ := newTestManager(t, Config{LossLimit: 1})
	ctx := context.Background()

	fake.SetPositions(
		terminal.Position{Ticket: 1, Symbol: "EURUSD", Profit: 3.2},
		terminal.Position{Ticket: 2, Symbol: "EURUSD", Profit: -1.1},
	)
	ok, err := m.CheckLosingPositions(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	fake.SetPositions(terminal.Position{Ticket: 1, Symbol: "EURUSD", Profit: 3.2})
	ok, err = m.CheckLosingPositions(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
