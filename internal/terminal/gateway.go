package terminal

import (
	"context"
	"fmt"
	"time"

	"finch/internal/logger"
	"finch/internal/market"
	"finch/internal/pkg/circuit"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
)

// GatewayConfig tunes the retry and circuit-breaking behavior.
type GatewayConfig struct {
	Attempts         int
	BaseDelay        time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.Attempts <= 0 {
		c.Attempts = defaultAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Gateway wraps a TerminalAPI with retry-on-transient-failure and a circuit
// breaker. One gateway is shared per run; the underlying terminal connection
// is assumed single-connection-safe, so calls are not otherwise serialized.
type Gateway struct {
	api     TerminalAPI
	cfg     GatewayConfig
	breaker *circuit.Breaker
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewGateway(api TerminalAPI, cfg GatewayConfig) *Gateway {
	final := cfg.withDefaults()
	return &Gateway{
		api:     api,
		cfg:     final,
		breaker: circuit.NewBreaker("terminal", final.BreakerThreshold, final.BreakerTimeout),
		sleepFn: sleepWithContext,
	}
}

// Connect initializes the terminal session. Failure wraps ErrLogin and is
// fatal to the whole bot run.
func (g *Gateway) Connect(ctx context.Context, creds Credentials) error {
	if err := g.api.Initialize(ctx, creds); err != nil {
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.api.Shutdown(ctx)
}

func (g *Gateway) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	return call(ctx, g, "account_info", g.api.AccountInfo)
}

func (g *Gateway) SymbolsGet(ctx context.Context) ([]SymbolInfo, error) {
	return call(ctx, g, "symbols_get", g.api.SymbolsGet)
}

func (g *Gateway) SymbolInfoGet(ctx context.Context, name string) (*SymbolInfo, error) {
	return call(ctx, g, "symbol_info", func(ctx context.Context) (*SymbolInfo, error) {
		return g.api.SymbolInfoGet(ctx, name)
	})
}

func (g *Gateway) SymbolTick(ctx context.Context, name string) (*market.Tick, error) {
	return call(ctx, g, "symbol_tick", func(ctx context.Context) (*market.Tick, error) {
		return g.api.SymbolTick(ctx, name)
	})
}

func (g *Gateway) CopyRatesFromPos(ctx context.Context, symbol string, tf market.Timeframe, start, count int) (market.Candles, error) {
	return call(ctx, g, "copy_rates", func(ctx context.Context) (market.Candles, error) {
		return g.api.CopyRatesFromPos(ctx, symbol, tf, start, count)
	})
}

func (g *Gateway) CopyTicksFrom(ctx context.Context, symbol string, from time.Time, count int) (market.Ticks, error) {
	return call(ctx, g, "copy_ticks", func(ctx context.Context) (market.Ticks, error) {
		return g.api.CopyTicksFrom(ctx, symbol, from, count)
	})
}

func (g *Gateway) OrderCheck(ctx context.Context, req *OrderRequest) (*OrderCheckResult, error) {
	return call(ctx, g, "order_check", func(ctx context.Context) (*OrderCheckResult, error) {
		return g.api.OrderCheck(ctx, req)
	})
}

// OrderSend is deliberately not retried beyond the transient layer of the
// adapter itself: re-sending a possibly-executed order risks a double fill.
func (g *Gateway) OrderSend(ctx context.Context, req *OrderRequest) (*OrderSendResult, error) {
	var res *OrderSendResult
	err := g.breaker.Do(func() error {
		var err error
		res, err = g.api.OrderSend(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("order_send: %w", err)
	}
	return res, nil
}

func (g *Gateway) PositionsGet(ctx context.Context, filter PositionFilter) ([]Position, error) {
	return call(ctx, g, "positions_get", func(ctx context.Context) ([]Position, error) {
		return g.api.PositionsGet(ctx, filter)
	})
}

func (g *Gateway) HistoryDealsGet(ctx context.Context, from, to time.Time, filter HistoryFilter) ([]Deal, error) {
	return call(ctx, g, "history_deals", func(ctx context.Context) ([]Deal, error) {
		return g.api.HistoryDealsGet(ctx, from, to, filter)
	})
}

func (g *Gateway) HistoryOrdersGet(ctx context.Context, from, to time.Time, filter HistoryFilter) ([]HistoryOrder, error) {
	return call(ctx, g, "history_orders", func(ctx context.Context) ([]HistoryOrder, error) {
		return g.api.HistoryOrdersGet(ctx, from, to, filter)
	})
}

// call retries transient failures with exponential backoff under the breaker.
// Non-transient errors surface immediately.
func call[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var result T
	var lastErr error

	delay := g.cfg.BaseDelay
	for attempt := 1; attempt <= g.cfg.Attempts; attempt++ {
		err := g.breaker.Do(func() error {
			var err error
			result, err = fn(ctx)
			return err
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt == g.cfg.Attempts {
			break
		}
		logger.Warnf("terminal %s attempt %d/%d failed: %v, retrying in %s", op, attempt, g.cfg.Attempts, err, delay)
		if err := g.sleepFn(ctx, delay); err != nil {
			return zero, err
		}
		delay = nextDelay(delay)
	}
	return zero, &RetryExhaustedError{Op: op, Attempts: g.cfg.Attempts, Err: lastErr}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return defaultBaseDelay
	}
	next := current * 2
	if next > maxRetryDelay {
		next = maxRetryDelay
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
