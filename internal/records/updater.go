package records

import (
	"context"
	"time"

	"finch/internal/logger"
	"finch/internal/terminal"
)

// Updater reconciles open results against the terminal's deal history,
// patching profit and outcome once the position has closed.
type Updater struct {
	gw    *terminal.Gateway
	store Store

	nowFn func() time.Time
}

func NewUpdater(gw *terminal.Gateway, store Store) *Updater {
	return &Updater{gw: gw, store: store, nowFn: time.Now}
}

// UpdateAll patches every open result of the strategy whose position has an
// exit deal. Results still open at the terminal are left untouched. One
// result failing does not stop the rest.
func (u *Updater) UpdateAll(ctx context.Context, strategy string) error {
	open, err := u.store.Open(ctx, strategy)
	if err != nil {
		return err
	}
	for i := range open {
		if err := u.update(ctx, &open[i]); err != nil {
			logger.Warnf("record %s of %s not updated: %v", open[i].ID, strategy, err)
		}
	}
	return nil
}

func (u *Updater) update(ctx context.Context, res *Result) error {
	from := time.UnixMilli(res.Time).Add(-time.Minute)
	// The symbol rides along because some backends cannot list deals
	// account-wide; filtering by position alone gets rejected there.
	deals, err := u.gw.HistoryDealsGet(ctx, from, u.nowFn(), terminal.HistoryFilter{
		Symbol:   res.Symbol,
		Position: res.Position,
	})
	if err != nil {
		return err
	}
	profit := 0.0
	closed := false
	for _, d := range deals {
		if d.Entry == terminal.DealEntryOut {
			profit += d.Profit + d.Commission
			closed = true
		}
	}
	if !closed {
		return nil
	}
	res.ActualProfit = profit
	res.Win = profit > 0
	res.Closed = true
	return u.store.Update(ctx, res)
}
