package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"finch/internal/account"
	"finch/internal/backtest"
	"finch/internal/clock"
	"finch/internal/config"
	"finch/internal/executor"
	"finch/internal/logger"
	"finch/internal/market"
	"finch/internal/records"
	"finch/internal/risk"
	"finch/internal/sessions"
	"finch/internal/strategy"
	"finch/internal/symbol"
	"finch/internal/terminal"
	"finch/internal/terminal/binance"
	"finch/internal/trader"
	traderhttp "finch/internal/transport/http"
)

// AppBuilder assembles an App from configuration. The function fields exist
// so tests can substitute a fake terminal or store without a live backend.
type AppBuilder struct {
	cfg *config.Config

	terminalFn func(*config.Config) (terminal.TerminalAPI, error)
	storeFn    func(config.Records) (records.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		storeFn: buildRecordsStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithTerminal substitutes the terminal backend, typically with a fake.
func WithTerminal(fn func(*config.Config) (terminal.TerminalAPI, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.terminalFn = fn
		}
	}
}

// WithRecordsStore substitutes the trade record store.
func WithRecordsStore(fn func(config.Records) (records.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

// simStack holds the backtest-only pieces kept alive for the run.
type simStack struct {
	store  *backtest.CandleStore
	clock  *backtest.SimClock
	engine *backtest.Engine
	runs   *backtest.RunStore
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var (
		api terminal.TerminalAPI
		clk clock.Clock
		sim *simStack
		err error
	)
	switch {
	case b.terminalFn != nil:
		if api, err = b.terminalFn(cfg); err != nil {
			return nil, err
		}
		clk = clock.NewLive()
	case cfg.Terminal.Backend == "backtest":
		if sim, err = b.buildSimStack(ctx, cfg); err != nil {
			return nil, err
		}
		api = sim.engine
		clk = sim.clock
	default:
		api = binance.New(binance.Config{
			APIKey:            cfg.Terminal.Binance.APIKey,
			APISecret:         cfg.Terminal.Binance.APISecret,
			BaseURL:           cfg.Terminal.Binance.BaseURL,
			HTTPTimeout:       cfg.Terminal.Binance.HTTPTimeout,
			RequestsPerSecond: cfg.Terminal.Binance.RequestsPerSecond,
			Leverage:          cfg.Terminal.Binance.Leverage,
		})
		clk = clock.NewLive()
	}

	gw := terminal.NewGateway(api, terminal.GatewayConfig{
		Attempts:         cfg.Terminal.RetryAttempts,
		BaseDelay:        cfg.Terminal.RetryBaseDelay,
		BreakerThreshold: cfg.Terminal.BreakerThreshold,
		BreakerTimeout:   cfg.Terminal.BreakerTimeout,
	})
	if err := gw.Connect(ctx, terminal.Credentials{}); err != nil {
		return nil, err
	}
	logger.Infof("terminal backend %q connected", cfg.Terminal.Backend)

	acct := account.New(gw)
	if err := acct.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial account refresh failed: %w", err)
	}
	info := acct.Info()
	logger.Infof("account: balance %.2f %s, free margin %.2f",
		info.Balance, info.Currency, info.MarginFree)

	ram := risk.NewManager(gw, acct, risk.Config{
		RiskPct:      cfg.Risk.RiskPct,
		RiskToReward: cfg.Risk.RiskToReward,
		FixedAmount:  cfg.Risk.FixedAmount,
		MinAmount:    cfg.Risk.MinAmount,
		MaxAmount:    cfg.Risk.MaxAmount,
		OpenLimit:    cfg.Risk.OpenLimit,
		LossLimit:    cfg.Risk.LossLimit,
	})
	if err := b.attachRiskProfile(cfg, ram); err != nil {
		return nil, err
	}

	var store records.Store
	if cfg.Records.Enabled {
		if store, err = b.storeFn(cfg.Records); err != nil {
			return nil, fmt.Errorf("records store init failed: %w", err)
		}
	}

	windows, err := parseSessionWindows(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	exec := executor.New(clk)
	names := make([]string, 0, len(cfg.Strategies))
	for i, sc := range cfg.Strategies {
		// In a backtest every strategy sleeps on its own cursor, so the
		// clock advances in lockstep and replays stay deterministic.
		sclk := clk
		if sim != nil {
			sclk = sim.clock.NewCursor()
		}
		st, err := b.buildStrategy(ctx, sc, int64(1000+i), gw, ram, store, sclk, windows)
		if err != nil {
			if cu, ok := sclk.(*backtest.Cursor); ok {
				cu.Detach()
			}
			if errors.Is(err, terminal.ErrSymbol) {
				// One bad symbol must not take the whole bot down with it.
				logger.Warnf("strategy %s on %s skipped: %v", sc.Name, sc.Symbol, err)
				continue
			}
			return nil, fmt.Errorf("strategy %s on %s: %w", sc.Name, sc.Symbol, err)
		}
		exec.AddWorker(st)
		names = append(names, sc.Name)
	}

	if cfg.Records.Enabled && cfg.Terminal.Backend != "backtest" {
		updater := records.NewUpdater(gw, store)
		exec.AddFunc("records_updater", func(ctx context.Context) error {
			for {
				for _, name := range names {
					if err := updater.UpdateAll(ctx, name); err != nil {
						logger.Warnf("record update for %s failed: %v", name, err)
					}
				}
				if err := clk.Sleep(ctx, cfg.Records.UpdateEvery); err != nil {
					return nil
				}
			}
		})
	}

	app := &App{cfg: cfg}
	if sim != nil {
		app.sim = &backtest.Service{
			Engine:    sim.engine,
			Clock:     sim.clock,
			Exec:      exec,
			Runs:      sim.runs,
			ReportDir: cfg.Backtest.ReportDir,
			Workers:   cfg.App.Workers,
		}
	} else {
		app.live = &LiveService{
			exec:    exec,
			workers: cfg.App.Workers,
			closeFn: func() {
				shCtx := context.Background()
				if err := gw.Shutdown(shCtx); err != nil {
					logger.Warnf("terminal shutdown: %v", err)
				}
			},
		}
	}

	if cfg.HTTP.Enabled {
		var runs *backtest.RunStore
		if sim != nil {
			runs = sim.runs
		}
		app.http = traderhttp.NewServer(traderhttp.ServerConfig{
			Addr:       cfg.HTTP.Addr,
			Gateway:    gw,
			Account:    acct,
			Records:    store,
			Strategies: names,
			Runs:       runs,
			ReportDir:  cfg.Backtest.ReportDir,
		})
	}
	return app, nil
}

func (b *AppBuilder) attachRiskProfile(cfg *config.Config, ram *risk.Manager) error {
	if cfg.Risk.ProfilePath == "" {
		return nil
	}
	loader, err := risk.NewProfileLoader(cfg.Risk.ProfilePath, ram)
	if err != nil {
		return err
	}
	if err := loader.Load(); err != nil {
		return fmt.Errorf("risk profile %s: %w", cfg.Risk.ProfilePath, err)
	}
	if cfg.Risk.WatchProfile {
		loader.Watch()
	}
	return nil
}

func (b *AppBuilder) buildStrategy(
	ctx context.Context,
	sc config.Strategy,
	magic int64,
	gw *terminal.Gateway,
	ram *risk.Manager,
	store records.Store,
	clk clock.Clock,
	windows []sessions.Session,
) (executor.Strategy, error) {
	sym := symbol.New(gw, sc.Symbol)
	if err := sym.Init(ctx); err != nil {
		return nil, err
	}

	tf, err := market.ParseTimeframe(defaultString(sc.Timeframe, defaultTimeframe))
	if err != nil {
		return nil, err
	}

	if m, ok := intParam(sc.Params, "magic"); ok {
		magic = int64(m)
	}
	trCfg := trader.Config{
		Strategy:     sc.Name,
		Magic:        magic,
		Deviation:    intParamOr(sc.Params, "deviation", 0),
		RecordTrades: store != nil,
	}
	tr := trader.New(gw, sym, ram, store, trCfg)

	var ss *sessions.Sessions
	if len(windows) > 0 {
		built, err := sessions.New(clk, tr, windows...)
		if err != nil {
			return nil, err
		}
		ss = built
	}

	switch sc.Name {
	case "finger_trap":
		ft := strategy.NewFingerTrap(sym, tr, ss, clk, tf, strategy.FingerTrapConfig{
			FastPeriod: intParamOr(sc.Params, "fast_period", 0),
			SlowPeriod: intParamOr(sc.Params, "slow_period", 0),
			StopPoints: floatParamOr(sc.Params, "stop_points", 0),
		})
		tr.SetParams(ft.Parameters)
		return ft, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", sc.Name)
	}
}

func (b *AppBuilder) buildSimStack(ctx context.Context, cfg *config.Config) (*simStack, error) {
	start, end, err := cfg.Backtest.Range()
	if err != nil {
		return nil, err
	}
	store, err := backtest.NewCandleStore(cfg.Backtest.DataDir)
	if err != nil {
		return nil, err
	}
	clk := backtest.NewSimClock(start, end, cfg.Backtest.Speed)
	if stop, ok, err := cfg.Backtest.StopAt(); err != nil {
		return nil, err
	} else if ok {
		clk.SetStopTime(stop)
	}
	engine := backtest.NewEngine(store, clk, backtest.EngineConfig{
		StartBalance: cfg.Backtest.StartBalance,
		Leverage:     cfg.Backtest.Leverage,
		SlippageBps:  cfg.Backtest.SlippageBps,
		CloseOnExit:  cfg.Backtest.CloseOnExit,
	})

	timeframes := strategyTimeframes(cfg.Strategies)
	for _, inst := range cfg.Backtest.Instruments {
		tf, ok := timeframes[inst.Name]
		if !ok {
			parsed, err := market.ParseTimeframe(defaultTimeframe)
			if err != nil {
				return nil, err
			}
			tf = parsed
		}
		engine.RegisterSymbol(instrumentInfo(inst), tf)
		if err := importInstrumentCSV(ctx, store, cfg.Backtest.DataDir, inst.Name, tf); err != nil {
			return nil, err
		}
	}

	runs, err := backtest.NewRunStore(cfg.Backtest.RunsDir)
	if err != nil {
		return nil, err
	}
	return &simStack{store: store, clock: clk, engine: engine, runs: runs}, nil
}

// defaultTimeframe is used when a strategy or instrument leaves it blank.
const defaultTimeframe = "1h"

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func strategyTimeframes(strategies []config.Strategy) map[string]market.Timeframe {
	out := make(map[string]market.Timeframe, len(strategies))
	for _, sc := range strategies {
		tf, err := market.ParseTimeframe(defaultString(sc.Timeframe, defaultTimeframe))
		if err != nil {
			continue
		}
		out[sc.Symbol] = tf
	}
	return out
}

func instrumentInfo(inst config.Instrument) terminal.SymbolInfo {
	return terminal.SymbolInfo{
		Name:         inst.Name,
		Digits:       inst.Digits,
		Point:        inst.Point,
		TickSize:     inst.TickSize,
		TickValue:    inst.TickValue,
		ContractSize: inst.ContractSize,
		VolumeMin:    inst.VolumeMin,
		VolumeMax:    inst.VolumeMax,
		VolumeStep:   inst.VolumeStep,
		SpreadPoints: inst.SpreadPoints,
	}
}

// importInstrumentCSV seeds the candle store from DataDir/SYMBOL_TF.csv when
// such a file exists. Already-imported bars are upserted, so rerunning a
// backtest over the same files is harmless.
func importInstrumentCSV(ctx context.Context, store *backtest.CandleStore, dir, symbol string, tf market.Timeframe) error {
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", symbol, tf.Key))
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	n, err := backtest.ImportCSV(ctx, store, symbol, tf, path)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	logger.Infof("imported %d bars for %s@%s from %s", n, symbol, tf.Key, path)
	return nil
}

func buildRecordsStore(cfg config.Records) (records.Store, error) {
	switch cfg.Backend {
	case "json":
		return records.NewJSONStore(cfg.Dir)
	case "sqlite":
		return records.NewSQLStore(cfg.DBPath)
	default:
		return records.NewCSVStore(cfg.Dir)
	}
}

func parseSessionWindows(windows []config.Window) ([]sessions.Session, error) {
	out := make([]sessions.Session, 0, len(windows))
	for _, w := range windows {
		sess, err := w.Parse()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func intParamOr(params map[string]any, key string, def int) int {
	if n, ok := intParam(params, key); ok {
		return n
	}
	return def
}

func floatParamOr(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return def
	}
}
