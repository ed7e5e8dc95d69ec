// Package trader turns a trade intent into a filled order: size the volume
// through the risk manager, validate with the terminal, send, record.
package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"finch/internal/logger"
	"finch/internal/records"
	"finch/internal/risk"
	"finch/internal/symbol"
	"finch/internal/terminal"

	"github.com/shopspring/decimal"
)

// Config is the per-strategy trading policy.
type Config struct {
	Strategy     string
	Magic        int64
	Deviation    int
	RecordTrades bool

	// Params snapshots the strategy parameters for the trade record.
	Params func() map[string]any
}

// Trader executes orders for one symbol on behalf of one strategy. Every
// construction policy runs the same pipeline: risk gates, build, check,
// send, record; a failure at any stage aborts that attempt only.
type Trader struct {
	gw    *terminal.Gateway
	sym   *symbol.Symbol
	ram   *risk.Manager
	store records.Store
	cfg   Config

	nowFn func() time.Time
}

// New wires a trader. store may be nil when recording is disabled.
func New(gw *terminal.Gateway, sym *symbol.Symbol, ram *risk.Manager, store records.Store, cfg Config) *Trader {
	return &Trader{gw: gw, sym: sym, ram: ram, store: store, cfg: cfg, nowFn: time.Now}
}

func (t *Trader) Symbol() *symbol.Symbol { return t.sym }

// SetParams installs the parameter snapshot callback used when recording
// trades. The strategy is built after its trader, so this is set late.
func (t *Trader) SetParams(fn func() map[string]any) { t.cfg.Params = fn }

// CreateOrderWithSL opens a position with an explicit stop-loss price. The
// take-profit mirrors the stop distance times the configured reward ratio.
func (t *Trader) CreateOrderWithSL(ctx context.Context, typ terminal.OrderType, slPrice float64) (*terminal.OrderSendResult, error) {
	entry, err := t.entryPrice(ctx, typ)
	if err != nil {
		return nil, err
	}
	pips := t.pipDistance(entry, slPrice)
	if !typ.IsLong() {
		pips = t.pipDistance(slPrice, entry)
	}
	if pips <= 0 {
		return nil, fmt.Errorf("%w: stop loss %g on the wrong side of %s entry %g",
			terminal.ErrOrder, slPrice, typ, entry)
	}
	dist := pips * t.sym.Pip()
	tp := entry + dist*t.ram.RiskToReward()
	if !typ.IsLong() {
		tp = entry - dist*t.ram.RiskToReward()
	}
	return t.open(ctx, typ, pips, slPrice, tp)
}

// CreateOrderWithPoints opens a position with the stop distance given in
// points of the instrument.
func (t *Trader) CreateOrderWithPoints(ctx context.Context, typ terminal.OrderType, points float64) (*terminal.OrderSendResult, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: stop distance must be positive, got %g points", terminal.ErrOrder, points)
	}
	entry, err := t.entryPrice(ctx, typ)
	if err != nil {
		return nil, err
	}
	pips, _ := decimal.NewFromFloat(points).
		Mul(decimal.NewFromFloat(t.sym.Info().Point)).
		Div(decimal.NewFromFloat(t.sym.Pip())).Float64()
	dist := points * t.sym.Info().Point
	sl, tp := entry-dist, entry+dist*t.ram.RiskToReward()
	if !typ.IsLong() {
		sl, tp = entry+dist, entry-dist*t.ram.RiskToReward()
	}
	return t.open(ctx, typ, pips, sl, tp)
}

// CreateOrderWithStops opens a position with explicit stop-loss and
// take-profit prices; the stop distance still drives the sizing.
func (t *Trader) CreateOrderWithStops(ctx context.Context, typ terminal.OrderType, slPrice, tpPrice float64) (*terminal.OrderSendResult, error) {
	entry, err := t.entryPrice(ctx, typ)
	if err != nil {
		return nil, err
	}
	pips := t.pipDistance(entry, slPrice)
	tpDist := tpPrice - entry
	if !typ.IsLong() {
		pips = t.pipDistance(slPrice, entry)
		tpDist = entry - tpPrice
	}
	if pips <= 0 || tpDist <= 0 {
		return nil, fmt.Errorf("%w: stops (sl %g, tp %g) on the wrong side of %s entry %g",
			terminal.ErrOrder, slPrice, tpPrice, typ, entry)
	}
	return t.open(ctx, typ, pips, slPrice, tpPrice)
}

// CreateOrderNoStops opens an unprotected position at the instrument's
// minimum volume. Exits are entirely up to the strategy.
func (t *Trader) CreateOrderNoStops(ctx context.Context, typ terminal.OrderType) (*terminal.OrderSendResult, error) {
	if err := t.gates(ctx); err != nil {
		return nil, err
	}
	if _, err := t.entryPrice(ctx, typ); err != nil {
		return nil, err
	}
	req := t.build(typ, t.sym.Info().VolumeMin, 0, 0)
	return t.execute(ctx, req, 0)
}

func (t *Trader) open(ctx context.Context, typ terminal.OrderType, pips, sl, tp float64) (*terminal.OrderSendResult, error) {
	if err := t.gates(ctx); err != nil {
		return nil, err
	}
	amount, err := t.ram.Amount(ctx)
	if err != nil {
		return nil, err
	}
	volume, err := t.ram.Volume(t.sym, pips, amount)
	if err != nil {
		return nil, err
	}
	req := t.build(typ, volume, sl, tp)
	return t.execute(ctx, req, pips)
}

// pipDistance measures how many pips a is above b. Prices come in as
// float64, so the subtraction runs in decimal; otherwise a 50-pip stop can
// come out as 50.000000000000014 and the volume rounds a step short.
func (t *Trader) pipDistance(a, b float64) float64 {
	d := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b))
	pips, _ := d.Div(decimal.NewFromFloat(t.sym.Pip())).Float64()
	return pips
}

func (t *Trader) gates(ctx context.Context) error {
	ok, err := t.ram.CheckOpenPositions(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: open position limit reached", terminal.ErrOrder)
	}
	ok, err = t.ram.CheckLosingPositions(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: losing position limit reached", terminal.ErrOrder)
	}
	return nil
}

func (t *Trader) entryPrice(ctx context.Context, typ terminal.OrderType) (float64, error) {
	tick, err := t.sym.CurrentTick(ctx)
	if err != nil {
		return 0, err
	}
	if typ.IsLong() {
		return tick.Ask, nil
	}
	return tick.Bid, nil
}

func (t *Trader) build(typ terminal.OrderType, volume, sl, tp float64) *terminal.OrderRequest {
	return &terminal.OrderRequest{
		Symbol:     t.sym.Name(),
		Type:       typ,
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: tp,
		Deviation:  t.cfg.Deviation,
		Magic:      t.cfg.Magic,
		Comment:    t.cfg.Strategy,
	}
}

// CheckOrder validates the request with the terminal without sending it.
func (t *Trader) CheckOrder(ctx context.Context, req *terminal.OrderRequest) error {
	check, err := t.gw.OrderCheck(ctx, req)
	if err != nil {
		return err
	}
	if !check.Ok() {
		return fmt.Errorf("%w: check rejected (code %d): %s", terminal.ErrOrder, check.RetCode, check.Comment)
	}
	return nil
}

// Place sends a pre-built request after a terminal check.
func (t *Trader) Place(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderSendResult, error) {
	return t.execute(ctx, req, 0)
}

func (t *Trader) execute(ctx context.Context, req *terminal.OrderRequest, pips float64) (*terminal.OrderSendResult, error) {
	if err := t.CheckOrder(ctx, req); err != nil {
		return nil, err
	}
	res, err := t.gw.OrderSend(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("%w: send rejected (code %d): %s", terminal.ErrOrder, res.RetCode, res.Comment)
	}
	logger.Infof("%s: %s %s %.2f lots at %.5f (sl %.5f, tp %.5f)",
		t.cfg.Strategy, req.Type, req.Symbol, res.Volume, res.Price, req.StopLoss, req.TakeProfit)
	t.RecordTrade(ctx, req, res, pips)
	return res, nil
}

// RecordTrade persists the fill with a parameter snapshot. Recording failures
// are logged, never propagated: a lost record must not undo a live trade.
func (t *Trader) RecordTrade(ctx context.Context, req *terminal.OrderRequest, res *terminal.OrderSendResult, pips float64) {
	if !t.cfg.RecordTrades || t.store == nil {
		return
	}
	var params map[string]any
	if t.cfg.Params != nil {
		params = t.cfg.Params()
	}
	rec := &records.Result{
		ID:             records.NewID(),
		Strategy:       t.cfg.Strategy,
		Symbol:         req.Symbol,
		Order:          res.Order,
		Deal:           res.Deal,
		Position:       res.Order,
		Time:           t.nowFn().UnixMilli(),
		Type:           req.Type.String(),
		Volume:         res.Volume,
		Price:          res.Price,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		Pips:           pips,
		ExpectedProfit: math.Abs(pips) * t.sym.PipValue() * res.Volume * t.ram.RiskToReward(),
		Params:         params,
	}
	if err := t.store.Save(ctx, rec); err != nil {
		logger.Errorf("%s: trade record not saved: %v", t.cfg.Strategy, err)
	}
}

// CloseAll closes every open position on this trader's symbol and magic.
func (t *Trader) CloseAll(ctx context.Context) error {
	return t.closeWhere(ctx, func(p terminal.Position) bool { return true })
}

// CloseWin closes only the positions currently in profit.
func (t *Trader) CloseWin(ctx context.Context) error {
	return t.closeWhere(ctx, func(p terminal.Position) bool { return p.Profit > 0 })
}

// CloseLoss closes only the positions currently in loss.
func (t *Trader) CloseLoss(ctx context.Context) error {
	return t.closeWhere(ctx, func(p terminal.Position) bool { return p.Profit < 0 })
}

func (t *Trader) closeWhere(ctx context.Context, keep func(terminal.Position) bool) error {
	positions, err := t.gw.PositionsGet(ctx, terminal.PositionFilter{
		Symbol: t.sym.Name(),
		Magic:  t.cfg.Magic,
	})
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range positions {
		if !keep(p) {
			continue
		}
		req := &terminal.OrderRequest{
			Symbol:   p.Symbol,
			Type:     p.Type.Opposite(),
			Volume:   p.Volume,
			Position: p.Ticket,
			Magic:    t.cfg.Magic,
			Comment:  t.cfg.Strategy + " close",
		}
		res, err := t.gw.OrderSend(ctx, req)
		if err == nil && !res.Ok() {
			err = fmt.Errorf("%w: close rejected (code %d): %s", terminal.ErrOrder, res.RetCode, res.Comment)
		}
		if err != nil {
			logger.Errorf("%s: position %d not closed: %v", t.cfg.Strategy, p.Ticket, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Infof("%s: closed position %d (%s %.2f lots, profit %.2f)",
			t.cfg.Strategy, p.Ticket, p.Type, p.Volume, p.Profit)
	}
	return firstErr
}
