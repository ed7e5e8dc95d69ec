package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"finch/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleStoreRoundTrip(t *testing.T) {
	store, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	bars := defaultBars()
	n, err := store.InsertCandles(ctx, "EURUSD", "1h", bars)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// upsert: same open_time replaces
	changed := bars[0]
	changed.Close = 1.0999
	_, err = store.InsertCandles(ctx, "EURUSD", "1h", market.Candles{changed})
	require.NoError(t, err)

	out, err := store.RangeCandles(ctx, "EURUSD", "1h", bars[0].OpenTime, bars[3].OpenTime)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, 1.0999, out[0].Close)
	assert.True(t, out.Sorted())

	m, err := store.Manifest(ctx, "EURUSD", "1h")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", m.Symbol)
	assert.EqualValues(t, 4, m.Rows)
	assert.Equal(t, bars[0].OpenTime, m.MinTime)
	assert.Equal(t, bars[3].OpenTime, m.MaxTime)
}

func TestClosedBeforeCutoff(t *testing.T) {
	store, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	bars := defaultBars()
	_, err = store.InsertCandles(ctx, "EURUSD", "1h", bars)
	require.NoError(t, err)

	cutoff := testStart.Add(2 * time.Hour).UnixMilli()
	out, err := store.ClosedBefore(ctx, "EURUSD", "1h", cutoff, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out.Sorted())

	limited, err := store.ClosedBefore(ctx, "EURUSD", "1h", cutoff, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, bars[1].OpenTime, limited[0].OpenTime)
}

func TestImportCSV(t *testing.T) {
	store, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	tf, _ := market.ParseTimeframe("1h")

	path := filepath.Join(t.TempDir(), "eurusd_1h.csv")
	csv := "open_time,open,high,low,close,volume,spread\n" +
		"1704153600000,1.0800,1.0810,1.0790,1.0805,1200,10\n" +
		"1704157200000,1.0805,1.0815,1.0795,1.0810,900,12\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	n, err := ImportCSV(context.Background(), store, "EURUSD", tf, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err := store.RangeCandles(context.Background(), "EURUSD", "1h", 1704153600000, 1704157200000)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// close_time derived from the timeframe
	assert.Equal(t, int64(1704153600000+tf.Millis()-1), out[0].CloseTime)
	assert.EqualValues(t, 10, out[0].Spread)
}

func TestRunStore(t *testing.T) {
	rs, err := NewRunStore(t.TempDir())
	require.NoError(t, err)

	a := RunStats{ID: "run-a", Profit: 12.5, GeneratedAt: 100}
	b := RunStats{ID: "run-b", Profit: -3.1, GeneratedAt: 200}
	require.NoError(t, rs.Save(a))
	require.NoError(t, rs.Save(b))

	got, err := rs.Get("run-a")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Profit)

	list, err := rs.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-b", list[0].ID) // newest first
}
