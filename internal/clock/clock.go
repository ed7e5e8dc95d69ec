// Package clock abstracts time so strategy code runs unmodified against
// wall-clock time in live trading and a simulated clock in backtesting.
package clock

import (
	"context"
	"time"
)

// Clock is the suspension primitive used by strategies, sessions and the
// executor. Implementations must honor context cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	SleepUntil(ctx context.Context, t time.Time) error
}

// Live is the wall-clock implementation.
type Live struct{}

func NewLive() Live { return Live{} }

func (Live) Now() time.Time { return time.Now().UTC() }

func (l Live) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

func (l Live) SleepUntil(ctx context.Context, t time.Time) error {
	return l.Sleep(ctx, time.Until(t))
}
