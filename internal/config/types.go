package config

import (
	"fmt"
	"time"

	"finch/internal/market"
	"finch/internal/sessions"
)

// Config is the root of the bot configuration tree.
type Config struct {
	App        App        `mapstructure:"app"`
	Terminal   Terminal   `mapstructure:"terminal"`
	Risk       Risk       `mapstructure:"risk"`
	Records    Records    `mapstructure:"records"`
	HTTP       HTTP       `mapstructure:"http"`
	Sessions   []Window   `mapstructure:"sessions"`
	Strategies []Strategy `mapstructure:"strategies"`
	Backtest   Backtest   `mapstructure:"backtest"`
}

type App struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	Workers  int    `mapstructure:"workers"`
}

// Terminal selects and tunes the TerminalAPI backend.
type Terminal struct {
	Backend string  `mapstructure:"backend"` // binance | backtest
	Binance Binance `mapstructure:"binance"`

	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type Binance struct {
	APIKey            string        `mapstructure:"api_key"`
	APISecret         string        `mapstructure:"api_secret"`
	BaseURL           string        `mapstructure:"base_url"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Leverage          int           `mapstructure:"leverage"`
}

type Risk struct {
	RiskPct      float64 `mapstructure:"risk_pct"`
	RiskToReward float64 `mapstructure:"risk_to_reward"`
	FixedAmount  float64 `mapstructure:"fixed_amount"`
	MinAmount    float64 `mapstructure:"min_amount"`
	MaxAmount    float64 `mapstructure:"max_amount"`
	OpenLimit    int     `mapstructure:"open_limit"`
	LossLimit    int     `mapstructure:"loss_limit"`

	// ProfilePath points at a JSON profile that overrides the values above
	// and is hot-reloaded while the bot runs.
	ProfilePath  string `mapstructure:"profile_path"`
	WatchProfile bool   `mapstructure:"watch_profile"`
}

type Records struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // csv | json | sqlite
	Dir     string `mapstructure:"dir"`
	DBPath  string `mapstructure:"db_path"`
	// UpdateEvery is how often closed trades are reconciled.
	UpdateEvery time.Duration `mapstructure:"update_every"`
}

type HTTP struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Window is one trading session in "HH:MM" UTC.
type Window struct {
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
	OnStart string `mapstructure:"on_start"`
	OnEnd   string `mapstructure:"on_end"`
}

type Strategy struct {
	Name      string         `mapstructure:"name"`
	Symbol    string         `mapstructure:"symbol"`
	Timeframe string         `mapstructure:"timeframe"`
	Params    map[string]any `mapstructure:"params"`
}

type Backtest struct {
	Start string `mapstructure:"start"` // RFC3339
	End   string `mapstructure:"end"`
	// StopTime marks where pacing kicks in: the run fast-forwards to it
	// and replays at Speed from there. Empty paces the whole run.
	StopTime string  `mapstructure:"stop_time"`
	Speed    float64 `mapstructure:"speed"`
	DataDir      string  `mapstructure:"data_dir"`
	ReportDir    string  `mapstructure:"report_dir"`
	RunsDir      string  `mapstructure:"runs_dir"`
	StartBalance float64 `mapstructure:"start_balance"`
	Leverage     int     `mapstructure:"leverage"`
	SlippageBps  float64 `mapstructure:"slippage_bps"`
	CloseOnExit  bool    `mapstructure:"close_on_exit"`

	Instruments []Instrument `mapstructure:"instruments"`
}

// Instrument declares the contract properties of a backtested symbol.
type Instrument struct {
	Name         string  `mapstructure:"name"`
	Digits       int     `mapstructure:"digits"`
	Point        float64 `mapstructure:"point"`
	TickSize     float64 `mapstructure:"tick_size"`
	TickValue    float64 `mapstructure:"tick_value"`
	ContractSize float64 `mapstructure:"contract_size"`
	VolumeMin    float64 `mapstructure:"volume_min"`
	VolumeMax    float64 `mapstructure:"volume_max"`
	VolumeStep   float64 `mapstructure:"volume_step"`
	SpreadPoints int64   `mapstructure:"spread_points"`
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "finch"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Workers <= 0 {
		c.App.Workers = 5
	}
	if c.Terminal.Backend == "" {
		c.Terminal.Backend = "backtest"
	}
	if c.Terminal.RetryAttempts <= 0 {
		c.Terminal.RetryAttempts = 3
	}
	if c.Terminal.RetryBaseDelay <= 0 {
		c.Terminal.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Terminal.BreakerThreshold <= 0 {
		c.Terminal.BreakerThreshold = 5
	}
	if c.Terminal.BreakerTimeout <= 0 {
		c.Terminal.BreakerTimeout = 30 * time.Second
	}
	if c.Risk.RiskPct <= 0 {
		c.Risk.RiskPct = 0.01
	}
	if c.Risk.RiskToReward <= 0 {
		c.Risk.RiskToReward = 2
	}
	if c.Records.Backend == "" {
		c.Records.Backend = "csv"
	}
	if c.Records.Dir == "" {
		c.Records.Dir = "data/records"
	}
	if c.Records.DBPath == "" {
		c.Records.DBPath = "data/records/results.db"
	}
	if c.Records.UpdateEvery <= 0 {
		c.Records.UpdateEvery = 5 * time.Minute
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9881"
	}
	if c.Backtest.DataDir == "" {
		c.Backtest.DataDir = "data/candles"
	}
	if c.Backtest.ReportDir == "" {
		c.Backtest.ReportDir = "data/reports"
	}
	if c.Backtest.RunsDir == "" {
		c.Backtest.RunsDir = "data/runs"
	}
	if c.Backtest.StartBalance <= 0 {
		c.Backtest.StartBalance = 10000
	}
	if c.Backtest.Leverage <= 0 {
		c.Backtest.Leverage = 100
	}
}

func validate(c *Config) error {
	switch c.Terminal.Backend {
	case "binance", "backtest":
	default:
		return fmt.Errorf("unknown terminal backend %q", c.Terminal.Backend)
	}
	switch c.Records.Backend {
	case "csv", "json", "sqlite":
	default:
		return fmt.Errorf("unknown records backend %q", c.Records.Backend)
	}
	if c.Risk.RiskPct > 1 {
		return fmt.Errorf("risk_pct %g must be a fraction, not a percentage", c.Risk.RiskPct)
	}
	for _, w := range c.Sessions {
		if _, err := w.Parse(); err != nil {
			return err
		}
	}
	for i, s := range c.Strategies {
		if s.Symbol == "" {
			return fmt.Errorf("strategy %d (%s): symbol is required", i, s.Name)
		}
		if s.Timeframe != "" {
			if _, err := market.ParseTimeframe(s.Timeframe); err != nil {
				return fmt.Errorf("strategy %s: %w", s.Name, err)
			}
		}
	}
	if c.Terminal.Backend == "backtest" {
		if _, _, err := c.Backtest.Range(); err != nil {
			return err
		}
		if len(c.Strategies) == 0 {
			return fmt.Errorf("backtest needs at least one strategy")
		}
	}
	return nil
}

// Parse converts the window to session bounds and actions.
func (w Window) Parse() (sessions.Session, error) {
	start, err := sessions.ParseClock(w.Start)
	if err != nil {
		return sessions.Session{}, err
	}
	end, err := sessions.ParseClock(w.End)
	if err != nil {
		return sessions.Session{}, err
	}
	onStart, err := sessions.ParseAction(w.OnStart)
	if err != nil {
		return sessions.Session{}, err
	}
	onEnd, err := sessions.ParseAction(w.OnEnd)
	if err != nil {
		return sessions.Session{}, err
	}
	return sessions.Session{Start: start, End: end, OnStart: onStart, OnEnd: onEnd}, nil
}

// Range parses the backtest window.
func (b Backtest) Range() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, b.Start)
	if err != nil {
		return start, end, fmt.Errorf("backtest start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, b.End)
	if err != nil {
		return start, end, fmt.Errorf("backtest end: %w", err)
	}
	if !end.After(start) {
		return start, end, fmt.Errorf("backtest end %s not after start %s", b.End, b.Start)
	}
	return start, end, nil
}

// StopAt parses the optional pacing stop time; ok is false when unset.
func (b Backtest) StopAt() (t time.Time, ok bool, err error) {
	if b.StopTime == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, b.StopTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("backtest stop_time: %w", err)
	}
	return t, true, nil
}
