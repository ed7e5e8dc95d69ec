package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteEquityReport renders the run's balance and equity curves to a
// standalone HTML file and returns its path.
func WriteEquityReport(dir string, stats RunStats, curve []EquityPoint) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Backtest equity",
			Subtitle: fmt.Sprintf("profit %.2f, %d trades, win rate %.1f%%, max drawdown %.1f%%",
				stats.Profit, stats.Trades, stats.WinRate*100, stats.MaxDrawdown*100),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	labels := make([]string, len(curve))
	equity := make([]opts.LineData, len(curve))
	balance := make([]opts.LineData, len(curve))
	for i, p := range curve {
		labels[i] = time.UnixMilli(p.Time).UTC().Format("2006-01-02 15:04")
		equity[i] = opts.LineData{Value: p.Equity}
		balance[i] = opts.LineData{Value: p.Balance}
	}
	line.SetXAxis(labels).
		AddSeries("equity", equity).
		AddSeries("balance", balance)

	path := filepath.Join(dir, stats.ID+".html")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return "", err
	}
	return path, nil
}
