package backtest

import (
	"context"
	"fmt"
	"os"

	"finch/internal/logger"
	"finch/internal/market"

	"github.com/gocarina/gocsv"
)

// csvBar is the import row format: open_time in unix ms, close_time and
// spread optional (derived from the timeframe / defaulted when absent).
type csvBar struct {
	OpenTime  int64   `csv:"open_time"`
	CloseTime int64   `csv:"close_time,omitempty"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    float64 `csv:"volume"`
	Spread    int64   `csv:"spread,omitempty"`
}

// ImportCSV loads a candle CSV into the store under symbol@timeframe and
// returns the number of rows written.
func ImportCSV(ctx context.Context, store *CandleStore, symbol string, tf market.Timeframe, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open candle csv: %w", err)
	}
	defer f.Close()

	var rows []csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	candles := make(market.Candles, 0, len(rows))
	for _, row := range rows {
		closeTime := row.CloseTime
		if closeTime == 0 {
			closeTime = row.OpenTime + tf.Millis() - 1
		}
		candles = append(candles, market.Candle{
			OpenTime:  row.OpenTime,
			CloseTime: closeTime,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
			Spread:    row.Spread,
		})
	}
	candles.Sort()
	n, err := store.InsertCandles(ctx, symbol, tf.Key, candles)
	if err != nil {
		return n, err
	}
	logger.Infof("imported %d %s bars for %s from %s", n, tf.Key, symbol, path)
	return n, nil
}
