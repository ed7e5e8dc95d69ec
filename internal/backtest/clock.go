// Package backtest replays stored history through the live trading stack:
// a simulated clock suspends strategies on the bar grid and an engine
// answers the terminal contract from historical candles.
package backtest

import (
	"context"
	"sync"
	"time"

	"finch/internal/executor"
)

// SimClock is the simulated clock of one backtest run. Sleeping advances
// simulated time instead of waiting; wall-clock pacing is applied only when
// a positive speed is set and never influences fills. Time before the stop
// time is replayed unpaced, so a run can fast-forward to the stretch under
// study and slow down there.
type SimClock struct {
	mu      sync.Mutex
	now     time.Time
	end     time.Time
	stop    time.Time
	speed   float64
	cursors []*Cursor

	// wallSleep is swapped out in tests.
	wallSleep func(ctx context.Context, d time.Duration) error
}

// NewSimClock runs simulated time from start to end. speed 0 replays as fast
// as possible; speed N paces sleeps at N times real time.
func NewSimClock(start, end time.Time, speed float64) *SimClock {
	return &SimClock{
		now:   start.UTC(),
		end:   end.UTC(),
		speed: speed,
		wallSleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// SetStopTime marks the point from which pacing applies. Sleeps that end
// before it advance instantly even when a speed is set.
func (c *SimClock) SetStopTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = t.UTC()
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// End reports the configured end of the run.
func (c *SimClock) End() time.Time { return c.end }

// Done reports whether simulated time has reached the end of the run.
func (c *SimClock) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now.Before(c.end)
}

// pacedPortionLocked reports how much of the advance from `from` to `to`
// falls at or after the stop time and is therefore subject to pacing.
func (c *SimClock) pacedPortionLocked(from, to time.Time) time.Duration {
	if !c.stop.IsZero() && c.stop.After(from) {
		from = c.stop
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

// Sleep advances simulated time by d. Once the end of the run is reached it
// returns executor.Stop so strategy loops finish cleanly.
func (c *SimClock) Sleep(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	from := c.now
	target := from.Add(d)
	if target.After(c.end) {
		target = c.end
	}
	c.now = target
	ended := !c.now.Before(c.end)
	pace := c.pacedPortionLocked(from, target)
	c.mu.Unlock()

	if c.speed > 0 && pace > 0 {
		if err := c.wallSleep(ctx, time.Duration(float64(pace)/c.speed)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ended {
		return executor.Stop
	}
	return nil
}

// SleepUntil advances simulated time to t (never backwards).
func (c *SimClock) SleepUntil(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	d := t.Sub(c.now)
	c.mu.Unlock()
	return c.Sleep(ctx, d)
}

// Cursor is one sleeper's handle on the simulated clock. Attached cursors
// advance in lockstep: the clock moves only once every cursor is suspended,
// and then jumps to the earliest pending target and wakes that one cursor.
// Replays with several strategies therefore interleave the same way on
// every run, regardless of goroutine scheduling.
type Cursor struct {
	c       *SimClock
	wake    chan time.Duration
	target  time.Time
	waiting bool
	done    bool
}

// NewCursor attaches a new cursor to the lockstep.
func (c *SimClock) NewCursor() *Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	cu := &Cursor{c: c, wake: make(chan time.Duration, 1)}
	c.cursors = append(c.cursors, cu)
	return cu
}

// advanceLocked jumps simulated time to the earliest pending cursor target
// once every attached cursor is suspended, then wakes that single cursor.
// Ties resolve in attach order, one cursor at a time.
func (c *SimClock) advanceLocked() {
	var next *Cursor
	for _, cu := range c.cursors {
		if cu.done {
			continue
		}
		if !cu.waiting {
			return
		}
		if next == nil || cu.target.Before(next.target) {
			next = cu
		}
	}
	if next == nil {
		return
	}
	pace := time.Duration(0)
	if next.target.After(c.now) {
		pace = c.pacedPortionLocked(c.now, next.target)
		c.now = next.target
	}
	next.waiting = false
	next.wake <- pace
}

func (cu *Cursor) Now() time.Time { return cu.c.Now() }

func (cu *Cursor) Sleep(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	cu.c.mu.Lock()
	target := cu.c.now.Add(d)
	cu.c.mu.Unlock()
	return cu.SleepUntil(ctx, target)
}

// SleepUntil suspends the cursor until simulated time reaches t. The clock
// advances only when the other attached cursors are suspended too. Once the
// end of the run is reached the cursor detaches and returns executor.Stop.
func (cu *Cursor) SleepUntil(ctx context.Context, t time.Time) error {
	c := cu.c
	c.mu.Lock()
	if cu.done {
		c.mu.Unlock()
		return executor.Stop
	}
	if t.After(c.end) {
		t = c.end
	}
	if !t.After(c.now) {
		ended := !c.now.Before(c.end)
		c.mu.Unlock()
		if ended {
			cu.Detach()
			return executor.Stop
		}
		return ctx.Err()
	}
	cu.target = t
	cu.waiting = true
	c.advanceLocked()
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		cu.Detach()
		return ctx.Err()
	case pace := <-cu.wake:
		if c.speed > 0 && pace > 0 {
			if err := c.wallSleep(ctx, time.Duration(float64(pace)/c.speed)); err != nil {
				cu.Detach()
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		cu.Detach()
		return err
	}
	if c.Done() {
		cu.Detach()
		return executor.Stop
	}
	return nil
}

// Detach removes the cursor from the lockstep so the run proceeds without
// it. Safe to call more than once.
func (cu *Cursor) Detach() {
	c := cu.c
	c.mu.Lock()
	if !cu.done {
		cu.done = true
		cu.waiting = false
		c.advanceLocked()
	}
	c.mu.Unlock()
}
