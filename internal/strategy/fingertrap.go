package strategy

import (
	"context"
	"fmt"

	"finch/internal/clock"
	"finch/internal/logger"
	"finch/internal/market"
	"finch/internal/sessions"
	"finch/internal/symbol"
	"finch/internal/terminal"
	"finch/internal/trader"

	"github.com/markcheno/go-talib"
)

// FingerTrapConfig tunes the EMA-cross entry.
type FingerTrapConfig struct {
	FastPeriod int
	SlowPeriod int
	// StopPoints is the stop distance in instrument points.
	StopPoints float64
	// Warmup is how many closed bars to fetch per evaluation.
	Warmup int
}

func (c FingerTrapConfig) withDefaults() FingerTrapConfig {
	if c.FastPeriod <= 0 {
		c.FastPeriod = 8
	}
	if c.SlowPeriod <= 0 {
		c.SlowPeriod = 34
	}
	if c.StopPoints <= 0 {
		c.StopPoints = 300
	}
	if c.Warmup < c.SlowPeriod+2 {
		c.Warmup = c.SlowPeriod * 3
	}
	return c
}

// FingerTrap trades fast/slow EMA crosses on closed bars: a cross up enters
// long, a cross down enters short, one evaluation per bar.
type FingerTrap struct {
	Base
	trader *trader.Trader
	cfg    FingerTrapConfig
}

func NewFingerTrap(sym *symbol.Symbol, tr *trader.Trader, ss *sessions.Sessions, clk clock.Clock, tf market.Timeframe, cfg FingerTrapConfig) *FingerTrap {
	cfg = cfg.withDefaults()
	ft := &FingerTrap{
		Base:   NewBase("finger_trap", sym, ss, clk, tf),
		trader: tr,
		cfg:    cfg,
	}
	ft.SetParameter("fast_period", cfg.FastPeriod)
	ft.SetParameter("slow_period", cfg.SlowPeriod)
	ft.SetParameter("stop_points", cfg.StopPoints)
	ft.SetParameter("timeframe", tf.Key)
	return ft
}

// Initialize verifies enough history exists to seed the indicators.
func (s *FingerTrap) Initialize(ctx context.Context) error {
	candles, err := s.Symbol().CopyRates(ctx, s.Timeframe(), 0, s.cfg.Warmup)
	if err != nil {
		return err
	}
	if len(candles) < s.cfg.SlowPeriod+2 {
		return fmt.Errorf("%s: %d bars of %s history, need %d",
			s.Symbol().Name(), len(candles), s.Timeframe().Key, s.cfg.SlowPeriod+2)
	}
	return nil
}

// Trade evaluates the latest closed bars once, trades a fresh cross if one
// appeared, then sleeps to the next bar.
func (s *FingerTrap) Trade(ctx context.Context) error {
	if err := s.CheckSessions(ctx); err != nil {
		return err
	}
	if typ, ok, err := s.signal(ctx); err != nil {
		return err
	} else if ok {
		if _, err := s.trader.CreateOrderWithPoints(ctx, typ, s.cfg.StopPoints); err != nil {
			logger.Warnf("%s: entry not taken: %v", s.Name(), err)
		}
	}
	return s.SleepUntilNextBar(ctx)
}

func (s *FingerTrap) signal(ctx context.Context) (terminal.OrderType, bool, error) {
	candles, err := s.Symbol().CopyRates(ctx, s.Timeframe(), 0, s.cfg.Warmup)
	if err != nil {
		return 0, false, err
	}
	if len(candles) < s.cfg.SlowPeriod+2 {
		return 0, false, fmt.Errorf("insufficient history: %d bars", len(candles))
	}
	closes := candles.Closes()
	fast := talib.Ema(closes, s.cfg.FastPeriod)
	slow := talib.Ema(closes, s.cfg.SlowPeriod)

	last, prev := len(closes)-1, len(closes)-2
	crossedUp := fast[prev] <= slow[prev] && fast[last] > slow[last]
	crossedDown := fast[prev] >= slow[prev] && fast[last] < slow[last]
	switch {
	case crossedUp:
		return terminal.OrderBuy, true, nil
	case crossedDown:
		return terminal.OrderSell, true, nil
	}
	return 0, false, nil
}
