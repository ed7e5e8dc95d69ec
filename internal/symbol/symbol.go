// Package symbol wraps one tradable instrument: static contract properties
// confirmed by the terminal plus data-fetch and volume helpers.
package symbol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finch/internal/market"
	"finch/internal/terminal"

	"github.com/shopspring/decimal"
)

// Symbol composes the terminal-confirmed contract Info with behavior.
// Init must succeed before any data-fetch or order helper is used.
type Symbol struct {
	gw *terminal.Gateway

	mu          sync.RWMutex
	info        terminal.SymbolInfo
	tick        market.Tick
	initialized bool

	name string
}

func New(gw *terminal.Gateway, name string) *Symbol {
	return &Symbol{gw: gw, name: name}
}

func (s *Symbol) Name() string { return s.name }

// Init confirms the instrument with the terminal and caches its contract
// properties and a first tick. Failure wraps ErrSymbol: the strategy using
// this symbol is dropped from the run, others proceed.
func (s *Symbol) Init(ctx context.Context) error {
	info, err := s.gw.SymbolInfoGet(ctx, s.name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", terminal.ErrSymbol, s.name, err)
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("%w: %s", terminal.ErrSymbol, s.name)
	}
	tick, err := s.gw.SymbolTick(ctx, s.name)
	if err != nil {
		return fmt.Errorf("%w: %s: no tick: %v", terminal.ErrSymbol, s.name, err)
	}

	s.mu.Lock()
	s.info = *info
	if tick != nil {
		s.tick = *tick
	}
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *Symbol) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Info returns the cached contract properties (zero until Init).
func (s *Symbol) Info() terminal.SymbolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Symbol) requireInit() error {
	if !s.Initialized() {
		return fmt.Errorf("%w: %s", terminal.ErrNotInitialized, s.name)
	}
	return nil
}

// CurrentTick refreshes and returns the latest tick.
func (s *Symbol) CurrentTick(ctx context.Context) (market.Tick, error) {
	if err := s.requireInit(); err != nil {
		return market.Tick{}, err
	}
	tick, err := s.gw.SymbolTick(ctx, s.name)
	if err != nil {
		return market.Tick{}, err
	}
	s.mu.Lock()
	s.tick = *tick
	s.mu.Unlock()
	return *tick, nil
}

// LastTick returns the cached tick without touching the terminal.
func (s *Symbol) LastTick() market.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// CopyRates fetches count bars starting start bars back from the latest
// closed bar, normalized earliest-first.
func (s *Symbol) CopyRates(ctx context.Context, tf market.Timeframe, start, count int) (market.Candles, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	candles, err := s.gw.CopyRatesFromPos(ctx, s.name, tf, start, count)
	if err != nil {
		return nil, err
	}
	candles.Sort()
	return candles, nil
}

// CopyTicks fetches up to count ticks from the given time, earliest-first.
func (s *Symbol) CopyTicks(ctx context.Context, from time.Time, count int) (market.Ticks, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	ticks, err := s.gw.CopyTicksFrom(ctx, s.name, from, count)
	if err != nil {
		return nil, err
	}
	ticks.Sort()
	return ticks, nil
}

// Pip is the standardized increment used for risk sizing: ten points on
// fractional-pip instruments (3/5 digits), one point otherwise.
func (s *Symbol) Pip() float64 {
	info := s.Info()
	if info.Digits == 3 || info.Digits == 5 {
		return info.Point * 10
	}
	return info.Point
}

// PipValue is the monetary value of one pip for one lot.
func (s *Symbol) PipValue() float64 {
	info := s.Info()
	if info.TickSize <= 0 {
		return 0
	}
	return info.TickValue * (s.Pip() / info.TickSize)
}

// PointValue is the monetary value of one point for one lot.
func (s *Symbol) PointValue() float64 {
	info := s.Info()
	if info.TickSize <= 0 {
		return 0
	}
	return info.TickValue * (info.Point / info.TickSize)
}

// RoundVolume floors v to the instrument's volume step. Decimal arithmetic
// keeps step multiples exact (0.07 must not become 0.06999...).
func (s *Symbol) RoundVolume(v float64) float64 {
	info := s.Info()
	if info.VolumeStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(info.VolumeStep)
	steps := decimal.NewFromFloat(v).Div(step).Floor()
	out, _ := steps.Mul(step).Float64()
	return out
}

// CheckVolume floors v to the volume step and validates it against the
// instrument bounds. Out-of-range volumes wrap ErrVolume.
func (s *Symbol) CheckVolume(v float64) (float64, error) {
	info := s.Info()
	rounded := s.RoundVolume(v)
	if rounded < info.VolumeMin || rounded > info.VolumeMax {
		return 0, fmt.Errorf("%w: %s: %.8g not in [%g, %g]",
			terminal.ErrVolume, s.name, rounded, info.VolumeMin, info.VolumeMax)
	}
	return rounded, nil
}
