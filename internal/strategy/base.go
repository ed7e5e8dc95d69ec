// Package strategy hosts the strategy building blocks and the bundled
// sample strategies.
package strategy

import (
	"context"
	"time"

	"finch/internal/clock"
	"finch/internal/market"
	"finch/internal/sessions"
	"finch/internal/symbol"
)

// Base carries what every strategy needs: its instrument, trading windows,
// a clock for suspension, and the parameter set it reports for records.
// Embed it and implement Initialize and Trade.
type Base struct {
	name     string
	sym      *symbol.Symbol
	sessions *sessions.Sessions
	clk      clock.Clock
	tf       market.Timeframe
	params   map[string]any
}

func NewBase(name string, sym *symbol.Symbol, ss *sessions.Sessions, clk clock.Clock, tf market.Timeframe) Base {
	return Base{name: name, sym: sym, sessions: ss, clk: clk, tf: tf, params: map[string]any{}}
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Symbol() *symbol.Symbol { return b.sym }

func (b *Base) Timeframe() market.Timeframe { return b.tf }

// Parameters returns the live parameter map; SetParameter mutations are
// visible to subsequent trade records.
func (b *Base) Parameters() map[string]any { return b.params }

func (b *Base) SetParameter(key string, value any) { b.params[key] = value }

// CheckSessions blocks until the strategy is inside one of its trading
// windows. No-op without configured sessions.
func (b *Base) CheckSessions(ctx context.Context) error {
	if b.sessions == nil {
		return nil
	}
	return b.sessions.Check(ctx)
}

// SleepUntilNextBar suspends until the strategy's timeframe opens its next
// bar. Under a simulated clock this is what advances the backtest.
func (b *Base) SleepUntilNextBar(ctx context.Context) error {
	return b.clk.SleepUntil(ctx, b.tf.NextBoundary(b.clk.Now()))
}

// Delay suspends for the given duration on the strategy's clock.
func (b *Base) Delay(ctx context.Context, d time.Duration) error {
	return b.clk.Sleep(ctx, d)
}

// ReleaseClock detaches the strategy from a lockstep simulated clock, so a
// finished or failed strategy cannot stall the remaining sleepers. No-op on
// clocks without detachment.
func (b *Base) ReleaseClock() {
	if d, ok := b.clk.(interface{ Detach() }); ok {
		d.Detach()
	}
}
