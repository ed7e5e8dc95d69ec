package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"finch/internal/terminal"
	"finch/internal/terminal/terminaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(strategy string) *Result {
	return &Result{
		ID:       NewID(),
		Strategy: strategy,
		Symbol:   "EURUSD",
		Order:    101,
		Deal:     201,
		Position: 301,
		Time:     time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC).UnixMilli(),
		Type:     "buy",
		Volume:   0.14,
		Price:    1.08010,
		StopLoss: 1.07510,
		Pips:     50,
		Params:   map[string]any{"ema_period": float64(21), "timeframe": "1h"},
	}
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	res := sampleResult("finger_trap")
	require.NoError(t, store.Save(ctx, res))

	open, err := store.Open(ctx, "finger_trap")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.ID, open[0].ID)
	assert.Equal(t, 0.14, open[0].Volume)
	assert.Equal(t, res.Params, open[0].Params)

	res.Closed = true
	res.ActualProfit = 6.3
	res.Win = true
	require.NoError(t, store.Update(ctx, res))

	open, err = store.Open(ctx, "finger_trap")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := store.All(ctx, "finger_trap")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Closed)
	assert.Equal(t, 6.3, all[0].ActualProfit)

	// other strategies are isolated
	other, err := store.All(ctx, "mean_revert")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCSVStore(t *testing.T) {
	store, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestJSONStore(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestSQLStore(t *testing.T) {
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestUpdateUnknownResult(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	res := sampleResult("finger_trap")
	assert.Error(t, store.Update(context.Background(), res))
}

func TestUpdaterPatchesClosedTrades(t *testing.T) {
	ctx := context.Background()
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	closedRes := sampleResult("finger_trap")
	openRes := sampleResult("finger_trap")
	openRes.Position = 302
	require.NoError(t, store.Save(ctx, closedRes))
	require.NoError(t, store.Save(ctx, openRes))

	fake := terminaltest.New()
	fake.Deals = []terminal.Deal{
		{Ticket: 1, Symbol: "EURUSD", Position: 301, Entry: terminal.DealEntryIn, Profit: 0},
		{Ticket: 2, Symbol: "EURUSD", Position: 301, Entry: terminal.DealEntryOut, Profit: 7.1, Commission: -0.2},
	}
	gw := terminal.NewGateway(fake, terminal.GatewayConfig{Attempts: 1})

	updater := NewUpdater(gw, store)
	require.NoError(t, updater.UpdateAll(ctx, "finger_trap"))

	// the lookup filters by symbol too; symbol-scoped history backends
	// reject position-only queries
	require.NotEmpty(t, fake.DealFilters)
	for _, f := range fake.DealFilters {
		assert.Equal(t, "EURUSD", f.Symbol)
	}

	all, err := store.All(ctx, "finger_trap")
	require.NoError(t, err)
	require.Len(t, all, 2)

	byPos := map[int64]Result{}
	for _, r := range all {
		byPos[r.Position] = r
	}
	assert.True(t, byPos[301].Closed)
	assert.InDelta(t, 6.9, byPos[301].ActualProfit, 1e-9)
	assert.True(t, byPos[301].Win)
	assert.False(t, byPos[302].Closed)
}
