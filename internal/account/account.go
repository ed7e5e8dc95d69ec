// Package account holds the trading account state shared by one bot run.
package account

import (
	"context"
	"sync"

	"finch/internal/terminal"
)

// Account is the process-wide account snapshot. One instance is built per run
// and passed by reference to the components that need it; Refresh pulls the
// latest state from the terminal.
type Account struct {
	gw *terminal.Gateway

	mu   sync.RWMutex
	info terminal.AccountInfo
}

func New(gw *terminal.Gateway) *Account {
	return &Account{gw: gw}
}

// Refresh replaces the snapshot with the terminal's current account state.
func (a *Account) Refresh(ctx context.Context) error {
	info, err := a.gw.AccountInfo(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.info = *info
	a.mu.Unlock()
	return nil
}

// Info returns the last refreshed snapshot.
func (a *Account) Info() terminal.AccountInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info
}

func (a *Account) Balance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info.Balance
}

func (a *Account) Equity() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info.Equity
}

func (a *Account) MarginFree() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info.MarginFree
}

func (a *Account) Currency() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info.Currency
}
