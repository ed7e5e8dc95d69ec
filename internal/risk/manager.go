// Package risk implements trade sizing and exposure limits (the risk
// assessment and money management layer).
package risk

import (
	"context"
	"fmt"
	"sync"

	"finch/internal/account"
	"finch/internal/symbol"
	"finch/internal/terminal"
)

// Config is one trader's risk profile. Long-lived and shared across the
// trade decisions of that trader.
type Config struct {
	RiskPct      float64 `json:"risk_pct" mapstructure:"risk_pct"`
	RiskToReward float64 `json:"risk_to_reward" mapstructure:"risk_to_reward"`
	FixedAmount  float64 `json:"fixed_amount" mapstructure:"fixed_amount"`
	MinAmount    float64 `json:"min_amount" mapstructure:"min_amount"`
	MaxAmount    float64 `json:"max_amount" mapstructure:"max_amount"`
	OpenLimit    int     `json:"open_limit" mapstructure:"open_limit"`
	LossLimit    int     `json:"loss_limit" mapstructure:"loss_limit"`
}

func (c Config) withDefaults() Config {
	if c.RiskPct <= 0 {
		c.RiskPct = 0.01
	}
	if c.RiskToReward <= 0 {
		c.RiskToReward = 2
	}
	return c
}

// Manager computes position sizes from account equity and vetoes trades that
// would exceed the configured exposure limits.
type Manager struct {
	gw   *terminal.Gateway
	acct *account.Account

	mu  sync.RWMutex
	cfg Config
}

func NewManager(gw *terminal.Gateway, acct *account.Account, cfg Config) *Manager {
	return &Manager{gw: gw, acct: acct, cfg: cfg.withDefaults()}
}

// Config returns the active risk profile.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Apply replaces the risk profile (used by the live profile reloader).
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// RiskToReward returns the configured reward multiple for stop distances.
func (m *Manager) RiskToReward() float64 {
	return m.Config().RiskToReward
}

// Amount returns the money to put at risk for one trade: the fixed override
// when configured, otherwise free margin times the risk percentage, clamped
// to [MinAmount, MaxAmount] where set. Never negative.
func (m *Manager) Amount(ctx context.Context) (float64, error) {
	cfg := m.Config()
	if cfg.FixedAmount > 0 {
		return cfg.FixedAmount, nil
	}
	if err := m.acct.Refresh(ctx); err != nil {
		return 0, fmt.Errorf("risk amount: %w", err)
	}
	amount := m.acct.MarginFree() * cfg.RiskPct
	if amount < 0 {
		amount = 0
	}
	if cfg.MinAmount > 0 && amount < cfg.MinAmount {
		amount = cfg.MinAmount
	}
	if cfg.MaxAmount > 0 && amount > cfg.MaxAmount {
		amount = cfg.MaxAmount
	}
	return amount, nil
}

// Volume converts a risk amount and a stop distance in pips into a lot size,
// floored to the instrument's volume step. Sizes above VolumeMax are clamped
// down; sizes that still fall outside the bounds wrap ErrVolume.
func (m *Manager) Volume(sym *symbol.Symbol, pips, amount float64) (float64, error) {
	if pips <= 0 {
		return 0, fmt.Errorf("%w: stop distance must be positive, got %g", terminal.ErrVolume, pips)
	}
	pipValue := sym.PipValue()
	if pipValue <= 0 {
		return 0, fmt.Errorf("%w: %s has no pip value", terminal.ErrVolume, sym.Name())
	}
	raw := amount / (pips * pipValue)
	if max := sym.Info().VolumeMax; max > 0 && raw > max {
		raw = max
	}
	return sym.CheckVolume(raw)
}

// CheckOpenPositions reports whether a new trade is allowed under OpenLimit.
// A zero limit disables the gate.
func (m *Manager) CheckOpenPositions(ctx context.Context) (bool, error) {
	limit := m.Config().OpenLimit
	if limit <= 0 {
		return true, nil
	}
	positions, err := m.gw.PositionsGet(ctx, terminal.PositionFilter{})
	if err != nil {
		return false, err
	}
	return len(positions) < limit, nil
}

// CheckLosingPositions reports whether the count of positions in loss is
// still below LossLimit. A zero limit disables the gate.
func (m *Manager) CheckLosingPositions(ctx context.Context) (bool, error) {
	limit := m.Config().LossLimit
	if limit <= 0 {
		return true, nil
	}
	positions, err := m.gw.PositionsGet(ctx, terminal.PositionFilter{})
	if err != nil {
		return false, err
	}
	losing := 0
	for _, p := range positions {
		if p.Profit < 0 {
			losing++
		}
	}
	return losing < limit, nil
}
