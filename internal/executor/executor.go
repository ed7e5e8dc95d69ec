// Package executor runs strategies and auxiliary tasks concurrently, keeping
// each strategy's failures contained to its own loop.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finch/internal/clock"
	"finch/internal/logger"
	"finch/internal/symbol"

	"golang.org/x/sync/errgroup"
)

// Stop is returned by a strategy's Trade to end its own loop cleanly.
// It never affects other strategies.
var Stop = errors.New("strategy requested stop")

// Strategy is the unit of work the executor schedules.
type Strategy interface {
	Name() string
	Symbol() *symbol.Symbol
	Parameters() map[string]any
	Initialize(ctx context.Context) error
	Trade(ctx context.Context) error
}

// ClockReleaser is implemented by strategies holding a slot on a shared
// lockstep clock. The executor releases the slot when the loop ends, no
// matter how it ended.
type ClockReleaser interface {
	ReleaseClock()
}

const (
	minWorkers  = 5
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

type auxFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// Executor owns the run loop of a bot: one goroutine per strategy plus any
// auxiliary functions, all bounded by a worker pool.
type Executor struct {
	clk     clock.Clock
	workers []Strategy
	funcs   []auxFunc
}

func New(clk clock.Clock) *Executor {
	return &Executor{clk: clk}
}

// AddWorker accepts a strategy for the next Execute. Strategies without an
// initialized symbol are dropped with a warning; the rest of the run is
// unaffected.
func (e *Executor) AddWorker(s Strategy) {
	if s == nil {
		return
	}
	sym := s.Symbol()
	if sym == nil || !sym.Initialized() {
		logger.Warnf("strategy %s dropped: symbol not initialized", s.Name())
		return
	}
	e.workers = append(e.workers, s)
}

// AddWorkers accepts each strategy in turn under AddWorker's rules.
func (e *Executor) AddWorkers(ss ...Strategy) {
	for _, s := range ss {
		e.AddWorker(s)
	}
}

// AddFunc schedules an auxiliary task (records updater, HTTP server) next to
// the strategies.
func (e *Executor) AddFunc(name string, fn func(ctx context.Context) error) {
	e.funcs = append(e.funcs, auxFunc{name: name, fn: fn})
}

// Workers returns the accepted strategies.
func (e *Executor) Workers() []Strategy { return e.workers }

// Execute runs every accepted strategy and auxiliary task until the context
// ends or all loops finish. The pool never shrinks below five slots.
func (e *Executor) Execute(ctx context.Context, workers int) error {
	if workers < minWorkers {
		workers = minWorkers
	}
	if len(e.workers) == 0 && len(e.funcs) == 0 {
		return fmt.Errorf("nothing to execute")
	}
	logger.Infof("executing %d strategies and %d tasks on %d workers",
		len(e.workers), len(e.funcs), workers)

	sem := make(chan struct{}, workers)
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.workers {
		s := s
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return nil
			}
			e.run(ctx, s)
			return nil
		})
	}
	for _, aux := range e.funcs {
		aux := aux
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return nil
			}
			if err := aux.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("task %s ended: %v", aux.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// run drives one strategy: initialize once, then trade until the context ends
// or the strategy returns Stop. Iteration errors are logged and backed off,
// never propagated.
func (e *Executor) run(ctx context.Context, s Strategy) {
	if r, ok := s.(ClockReleaser); ok {
		defer r.ReleaseClock()
	}
	if err := s.Initialize(ctx); err != nil {
		logger.Errorf("strategy %s excluded: initialize failed: %v", s.Name(), err)
		return
	}
	logger.Infof("strategy %s started on %s", s.Name(), s.Symbol().Name())

	delay := baseBackoff
	for ctx.Err() == nil {
		err := s.Trade(ctx)
		switch {
		case err == nil:
			delay = baseBackoff
		case errors.Is(err, Stop):
			logger.Infof("strategy %s stopped", s.Name())
			return
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		default:
			logger.Errorf("strategy %s trade failed: %v (retrying in %s)", s.Name(), err, delay)
			if e.clk.Sleep(ctx, delay) != nil {
				return
			}
			if delay *= 2; delay > maxBackoff {
				delay = maxBackoff
			}
		}
	}
}
