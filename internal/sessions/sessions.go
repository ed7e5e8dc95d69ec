// Package sessions restricts trading to configured time-of-day windows and
// runs cleanup actions when a window opens or closes.
package sessions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"finch/internal/clock"
	"finch/internal/logger"
)

const day = 24 * time.Hour

// Action is what happens to open positions at a session boundary.
type Action string

const (
	ActionNone      Action = ""
	ActionCloseAll  Action = "close_all"
	ActionCloseWin  Action = "close_win"
	ActionCloseLoss Action = "close_loss"
	ActionCustom    Action = "custom"
)

// ParseAction maps a config string to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionNone, ActionCloseAll, ActionCloseWin, ActionCloseLoss, ActionCustom:
		return Action(s), nil
	}
	return ActionNone, fmt.Errorf("unknown session action %q", s)
}

// PositionCloser performs the boundary actions. The trader implements it.
type PositionCloser interface {
	CloseAll(ctx context.Context) error
	CloseWin(ctx context.Context) error
	CloseLoss(ctx context.Context) error
}

// Session is one trading window, expressed as offsets from midnight UTC.
// The window is half-open [Start, End); End before Start wraps past midnight.
type Session struct {
	Start time.Duration
	End   time.Duration

	OnStart Action
	OnEnd   Action

	// CustomFn runs for ActionCustom boundaries.
	CustomFn func(ctx context.Context) error
}

// ParseClock converts an "HH:MM" string to an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse session time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s Session) validate() error {
	if s.Start < 0 || s.Start >= day || s.End < 0 || s.End >= day {
		return fmt.Errorf("session bounds must be within one day, got %v-%v", s.Start, s.End)
	}
	if s.Start == s.End {
		return fmt.Errorf("session start and end coincide at %v", s.Start)
	}
	return nil
}

// Contains reports whether the window covers the given instant.
func (s Session) Contains(t time.Time) bool {
	tod := timeOfDay(t)
	if s.Start < s.End {
		return tod >= s.Start && tod < s.End
	}
	// wraps past midnight
	return tod >= s.Start || tod < s.End
}

// NextStart is the next occurrence of the window's opening after now.
func (s Session) NextStart(now time.Time) time.Time {
	midnight := now.UTC().Truncate(day)
	start := midnight.Add(s.Start)
	if !start.After(now) {
		start = start.Add(day)
	}
	return start
}

func timeOfDay(t time.Time) time.Duration {
	u := t.UTC()
	return time.Duration(u.Hour())*time.Hour +
		time.Duration(u.Minute())*time.Minute +
		time.Duration(u.Second())*time.Second +
		time.Duration(u.Nanosecond())
}

// Sessions is the ordered set of windows a strategy trades in. An empty set
// means the market is always open to the strategy.
type Sessions struct {
	list   []Session
	closer PositionCloser
	clk    clock.Clock

	active *Session
}

// New validates the windows and returns them sorted by opening time.
func New(clk clock.Clock, closer PositionCloser, windows ...Session) (*Sessions, error) {
	list := make([]Session, len(windows))
	copy(list, windows)
	for i := range list {
		if err := list[i].validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	return &Sessions{list: list, closer: closer, clk: clk}, nil
}

// Find returns the first window containing t, or nil when t falls in a gap.
func (ss *Sessions) Find(t time.Time) *Session {
	for i := range ss.list {
		if ss.list[i].Contains(t) {
			return &ss.list[i]
		}
	}
	return nil
}

// Check blocks until the current time falls inside a window, running the
// leaving window's OnEnd action and the entering window's OnStart action at
// the transitions. Returns promptly when already inside the active window.
func (ss *Sessions) Check(ctx context.Context) error {
	if len(ss.list) == 0 {
		return nil
	}
	for {
		now := ss.clk.Now()
		if sess := ss.Find(now); sess != nil {
			if ss.active != sess {
				ss.runAction(ctx, sess, sess.OnStart)
				ss.active = sess
			}
			return nil
		}
		if ss.active != nil {
			ss.runAction(ctx, ss.active, ss.active.OnEnd)
			ss.active = nil
		}
		next := ss.nextOpen(now)
		logger.Debugf("outside trading sessions, sleeping until %s", next.Format(time.RFC3339))
		if err := ss.clk.SleepUntil(ctx, next); err != nil {
			return err
		}
	}
}

func (ss *Sessions) nextOpen(now time.Time) time.Time {
	next := ss.list[0].NextStart(now)
	for _, s := range ss.list[1:] {
		if start := s.NextStart(now); start.Before(next) {
			next = start
		}
	}
	return next
}

func (ss *Sessions) runAction(ctx context.Context, sess *Session, action Action) {
	if action == ActionNone {
		return
	}
	var err error
	switch action {
	case ActionCustom:
		if sess.CustomFn != nil {
			err = sess.CustomFn(ctx)
		}
	case ActionCloseAll, ActionCloseWin, ActionCloseLoss:
		if ss.closer == nil {
			logger.Warnf("session action %s skipped: no position closer wired", action)
			return
		}
		switch action {
		case ActionCloseAll:
			err = ss.closer.CloseAll(ctx)
		case ActionCloseWin:
			err = ss.closer.CloseWin(ctx)
		case ActionCloseLoss:
			err = ss.closer.CloseLoss(ctx)
		}
	}
	if err != nil {
		logger.Errorf("session action %s failed: %v", action, err)
	}
}
