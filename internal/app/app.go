// Package app assembles the bot from configuration: terminal backend,
// account, risk manager, traders, strategies, executor and HTTP surface.
package app

import (
	"context"
	"fmt"

	"finch/internal/backtest"
	"finch/internal/config"
	"finch/internal/executor"
	"finch/internal/logger"
	traderhttp "finch/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App holds the assembled services. Exactly one of live or sim is set,
// depending on the configured terminal backend.
type App struct {
	cfg  *config.Config
	live *LiveService
	sim  *backtest.Service
	http *traderhttp.Server
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the configured services and blocks until they finish or the
// context is canceled. A completed backtest shuts the whole app down.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer cancel()
		switch {
		case a.sim != nil:
			_, err := a.sim.Run(ctx)
			return err
		case a.live != nil:
			defer a.live.Close()
			return a.live.Run(ctx)
		default:
			return fmt.Errorf("no service configured")
		}
	})

	return group.Wait()
}

// LiveService exposes the live service for test harnesses.
func (a *App) LiveService() *LiveService {
	if a == nil {
		return nil
	}
	return a.live
}

// BacktestService exposes the backtest service for test harnesses.
func (a *App) BacktestService() *backtest.Service {
	if a == nil {
		return nil
	}
	return a.sim
}

// LiveService runs the strategy executor against a live terminal backend.
type LiveService struct {
	exec    *executor.Executor
	workers int
	closeFn func()
}

func (s *LiveService) Run(ctx context.Context) error {
	return s.exec.Execute(ctx, s.workers)
}

func (s *LiveService) Executor() *executor.Executor { return s.exec }

func (s *LiveService) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
