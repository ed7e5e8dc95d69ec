package backtest

import (
	"context"
	"errors"
	"time"

	"finch/internal/executor"
	"finch/internal/logger"
	"finch/internal/terminal"

	"github.com/google/uuid"
)

// RunStats is the summary of one completed backtest.
type RunStats struct {
	ID           string  `json:"id"`
	Start        int64   `json:"start"`
	End          int64   `json:"end"`
	StartBalance float64 `json:"start_balance"`
	FinalBalance float64 `json:"final_balance"`
	FinalEquity  float64 `json:"final_equity"`
	Profit       float64 `json:"profit"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	EquityPeak   float64 `json:"equity_peak"`
	EquityValley float64 `json:"equity_valley"`
	GeneratedAt  int64   `json:"generated_at"`
	ReportPath   string  `json:"report_path,omitempty"`
}

// ComputeStats summarizes the engine's state after a run.
func ComputeStats(e *Engine, clk *SimClock, startBalance float64) RunStats {
	stats := RunStats{
		ID:           uuid.NewString(),
		End:          clk.Now().UnixMilli(),
		StartBalance: startBalance,
		FinalBalance: e.Balance(),
		GeneratedAt:  time.Now().UnixMilli(),
	}
	for _, d := range e.Deals() {
		if d.Entry != terminal.DealEntryOut {
			continue
		}
		stats.Trades++
		if d.Profit > 0 {
			stats.Wins++
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	curve := e.EquityCurve()
	peak, valley := startBalance, startBalance
	maxDD := 0.0
	for i, p := range curve {
		if i == 0 {
			stats.Start = p.Time
		}
		if p.Equity > peak {
			peak = p.Equity
		}
		if p.Equity < valley {
			valley = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		stats.FinalEquity = p.Equity
	}
	if len(curve) == 0 {
		stats.FinalEquity = stats.FinalBalance
	}
	stats.EquityPeak = peak
	stats.EquityValley = valley
	stats.MaxDrawdown = maxDD
	stats.Profit = stats.FinalBalance - startBalance
	return stats
}

// Service drives one backtest end to end: execute the strategies against the
// engine until simulated time runs out, settle, summarize, report.
type Service struct {
	Engine    *Engine
	Clock     *SimClock
	Exec      *executor.Executor
	Runs      *RunStore
	ReportDir string
	Workers   int
}

func (s *Service) Run(ctx context.Context) (*RunStats, error) {
	start := s.Clock.Now()
	logger.Infof("backtest from %s to %s",
		start.Format(time.RFC3339), s.Clock.End().Format(time.RFC3339))

	// Every strategy must hold a pool slot at once: the lockstep clock
	// waits on all of them, and a queued strategy would stall the rest.
	workers := s.Workers
	if n := len(s.Exec.Workers()); workers < n {
		workers = n
	}
	if err := s.Exec.Execute(ctx, workers); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	if err := s.Engine.Shutdown(ctx); err != nil {
		return nil, err
	}

	stats := ComputeStats(s.Engine, s.Clock, s.Engine.cfg.StartBalance)
	stats.Start = start.UnixMilli()

	if s.ReportDir != "" {
		path, err := WriteEquityReport(s.ReportDir, stats, s.Engine.EquityCurve())
		if err != nil {
			logger.Warnf("equity report not written: %v", err)
		} else {
			stats.ReportPath = path
		}
	}
	if s.Runs != nil {
		if err := s.Runs.Save(stats); err != nil {
			logger.Warnf("run record not saved: %v", err)
		}
	}
	logger.Infof("backtest done: profit %.2f over %d trades (win rate %.1f%%, max drawdown %.1f%%)",
		stats.Profit, stats.Trades, stats.WinRate*100, stats.MaxDrawdown*100)
	return &stats, nil
}
