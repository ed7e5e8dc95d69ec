package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"finch/internal/logger"
	"finch/internal/market"
	"finch/internal/terminal"
)

// EngineConfig shapes the simulated account and fill model.
type EngineConfig struct {
	StartBalance float64
	Currency     string
	Leverage     int
	// SlippageBps worsens every fill by this many basis points in the
	// direction of the trade.
	SlippageBps float64
	// CloseOnExit closes remaining positions at the end of the run.
	CloseOnExit bool
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.StartBalance <= 0 {
		c.StartBalance = 10000
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Leverage <= 0 {
		c.Leverage = 100
	}
	return c
}

type instrument struct {
	info terminal.SymbolInfo
	tf   market.Timeframe
}

// EquityPoint is one sample of the simulated account trajectory.
type EquityPoint struct {
	Time    int64   `json:"time"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

// Engine is the backtest terminal: it answers the full terminal contract
// from stored candles as of the simulated clock. Data visibility is limited
// to bars closed at or before sim-now, so strategies cannot look ahead.
type Engine struct {
	store *CandleStore
	clk   *SimClock
	cfg   EngineConfig

	mu          sync.Mutex
	instruments map[string]instrument
	balance     float64
	positions   map[int64]*terminal.Position
	deals       []terminal.Deal
	orders      []terminal.HistoryOrder
	nextTicket  int64
	curve       []EquityPoint
	synced      map[string]int64
}

func NewEngine(store *CandleStore, clk *SimClock, cfg EngineConfig) *Engine {
	return &Engine{
		store:       store,
		clk:         clk,
		cfg:         cfg.withDefaults(),
		instruments: make(map[string]instrument),
		balance:     cfg.withDefaults().StartBalance,
		positions:   make(map[int64]*terminal.Position),
		synced:      make(map[string]int64),
	}
}

// RegisterSymbol makes an instrument tradable; tf is the timeframe the
// stored history for it is kept in.
func (e *Engine) RegisterSymbol(info terminal.SymbolInfo, tf market.Timeframe) {
	e.mu.Lock()
	e.instruments[info.Name] = instrument{info: info, tf: tf}
	e.synced[info.Name] = 0
	e.mu.Unlock()
}

func (e *Engine) Initialize(ctx context.Context, creds terminal.Credentials) error { return nil }

// Shutdown finishes the run, closing leftovers when configured to.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cfg.CloseOnExit {
		return e.CloseOpenPositions(ctx)
	}
	return nil
}

func (e *Engine) instrument(name string) (instrument, error) {
	inst, ok := e.instruments[name]
	if !ok {
		return instrument{}, fmt.Errorf("%w: %s", terminal.ErrSymbol, name)
	}
	return inst, nil
}

// lastBar returns the most recent bar closed at or before sim-now. It does
// not touch e.mu (the store has its own lock), so callers may hold it.
func (e *Engine) lastBar(ctx context.Context, inst instrument) (market.Candle, error) {
	bars, err := e.store.ClosedBefore(ctx, inst.info.Name, inst.tf.Key, e.clk.Now().UnixMilli(), 1)
	if err != nil {
		return market.Candle{}, err
	}
	last, ok := bars.Last()
	if !ok {
		return market.Candle{}, fmt.Errorf("%w: %s: no history at %s",
			terminal.ErrSymbol, inst.info.Name, e.clk.Now().Format(time.RFC3339))
	}
	return last, nil
}

// quote derives bid/ask from a bar close and the bar's recorded spread.
func quote(inst instrument, bar market.Candle) (bid, ask float64) {
	return quoteAt(inst, bar.Close, bar.Spread)
}

func quoteAt(inst instrument, price float64, spread int64) (bid, ask float64) {
	half := float64(spread) * inst.info.Point / 2
	return price - half, price + half
}

func (e *Engine) slip(price float64, typ terminal.OrderType) float64 {
	adj := price * e.cfg.SlippageBps / 10000
	if typ.IsLong() {
		return price + adj
	}
	return price - adj
}

// profit values a price move in account currency via the tick value.
func profit(info terminal.SymbolInfo, typ terminal.OrderType, open, close, volume float64) float64 {
	diff := close - open
	if !typ.IsLong() {
		diff = -diff
	}
	if info.TickSize <= 0 {
		return 0
	}
	return diff / info.TickSize * info.TickValue * volume
}

// sync replays every bar closed since the previous call: stop-loss and
// take-profit exits fire bar by bar (stop first when both are touched),
// open positions are marked to the bar close, and the equity curve grows one
// point per bar. All terminal calls sync before answering.
func (e *Engine) sync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clk.Now().UnixMilli()
	for _, name := range e.instrumentNamesLocked() {
		inst := e.instruments[name]
		bars, err := e.store.RangeCandles(ctx, name, inst.tf.Key, e.synced[name]+1, now)
		if err != nil {
			return err
		}
		for _, bar := range bars {
			if bar.CloseTime > now {
				break
			}
			e.applyBar(inst, bar)
			e.synced[name] = bar.OpenTime
		}
	}
	return nil
}

func (e *Engine) applyBar(inst instrument, bar market.Candle) {
	for _, p := range e.positionList(inst.info.Name) {
		if exitPrice, reason, hit := stopHit(p, bar); hit {
			e.closeLocked(inst, p, exitPrice, bar.CloseTime, reason)
			continue
		}
		bid, ask := quote(inst, bar)
		mark := bid
		if !p.Type.IsLong() {
			mark = ask
		}
		p.PriceCurrent = mark
		p.Profit = profit(inst.info, p.Type, p.PriceOpen, mark, p.Volume)
	}
	e.curve = append(e.curve, EquityPoint{
		Time:    bar.CloseTime,
		Balance: e.balance,
		Equity:  e.balance + e.unrealizedLocked(),
	})
}

// stopHit checks a bar against a position's protective levels. When a bar
// touches both levels the stop wins: the conservative read of an OHLC bar.
func stopHit(p *terminal.Position, bar market.Candle) (price float64, reason string, hit bool) {
	if p.Type.IsLong() {
		if p.StopLoss > 0 && bar.Low <= p.StopLoss {
			return p.StopLoss, "sl", true
		}
		if p.TakeProfit > 0 && bar.High >= p.TakeProfit {
			return p.TakeProfit, "tp", true
		}
		return 0, "", false
	}
	if p.StopLoss > 0 && bar.High >= p.StopLoss {
		return p.StopLoss, "sl", true
	}
	if p.TakeProfit > 0 && bar.Low <= p.TakeProfit {
		return p.TakeProfit, "tp", true
	}
	return 0, "", false
}

// Map iteration order is random; replay must not be. Positions are always
// visited in ticket order and symbols alphabetically.
func (e *Engine) positionList(symbol string) []*terminal.Position {
	var out []*terminal.Position
	for _, p := range e.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

func (e *Engine) instrumentNamesLocked() []string {
	names := make([]string, 0, len(e.instruments))
	for name := range e.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) unrealizedLocked() float64 {
	total := 0.0
	for _, p := range e.positionsSnapshotLocked() {
		total += p.Profit
	}
	return total
}

func (e *Engine) marginUsedLocked() float64 {
	total := 0.0
	for _, p := range e.positionsSnapshotLocked() {
		inst, ok := e.instruments[p.Symbol]
		if !ok {
			continue
		}
		total += p.PriceOpen * p.Volume * inst.info.ContractSize / float64(e.cfg.Leverage)
	}
	return total
}

func (e *Engine) closeLocked(inst instrument, p *terminal.Position, price float64, timeMs int64, reason string) {
	realized := profit(inst.info, p.Type, p.PriceOpen, price, p.Volume)
	e.balance += realized
	e.nextTicket++
	e.deals = append(e.deals, terminal.Deal{
		Ticket:   e.nextTicket,
		Order:    e.nextTicket,
		Position: p.Ticket,
		Symbol:   p.Symbol,
		Type:     p.Type.Opposite(),
		Entry:    terminal.DealEntryOut,
		Volume:   p.Volume,
		Price:    price,
		Profit:   realized,
		Magic:    p.Magic,
		Comment:  reason,
		Time:     timeMs,
	})
	e.orders = append(e.orders, terminal.HistoryOrder{
		Ticket:    e.nextTicket,
		Position:  p.Ticket,
		Symbol:    p.Symbol,
		Type:      p.Type.Opposite(),
		Volume:    p.Volume,
		Price:     price,
		State:     "filled",
		SetupTime: timeMs,
		DoneTime:  timeMs,
		Magic:     p.Magic,
		Comment:   reason,
	})
	delete(e.positions, p.Ticket)
	logger.Debugf("backtest: position %d closed (%s) at %.5f, profit %.2f", p.Ticket, reason, price, realized)
}

func (e *Engine) AccountInfo(ctx context.Context) (*terminal.AccountInfo, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	equity := e.balance + e.unrealizedLocked()
	margin := e.marginUsedLocked()
	return &terminal.AccountInfo{
		Login:      1,
		Balance:    e.balance,
		Equity:     equity,
		Margin:     margin,
		MarginFree: equity - margin,
		Profit:     e.unrealizedLocked(),
		Leverage:   e.cfg.Leverage,
		Currency:   e.cfg.Currency,
		Name:       "backtest",
		Server:     "backtest",
	}, nil
}

func (e *Engine) SymbolsGet(ctx context.Context) ([]terminal.SymbolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]terminal.SymbolInfo, 0, len(e.instruments))
	for _, inst := range e.instruments {
		out = append(out, inst.info)
	}
	return out, nil
}

func (e *Engine) SymbolInfoGet(ctx context.Context, name string) (*terminal.SymbolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instrument(name)
	if err != nil {
		return nil, err
	}
	info := inst.info
	return &info, nil
}

func (e *Engine) SymbolTick(ctx context.Context, name string) (*market.Tick, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	inst, err := e.instrument(name)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	bar, err := e.lastBar(ctx, inst)
	if err != nil {
		// Before the first bar of the run closes there is no fill price
		// yet, but symbols still need a quote to initialize. Use the open
		// of the earliest stored bar; fills keep requiring a closed bar.
		first, ok, ferr := e.store.FirstCandle(ctx, inst.info.Name, inst.tf.Key)
		if ferr != nil || !ok {
			return nil, err
		}
		bid, ask := quoteAt(inst, first.Open, first.Spread)
		return &market.Tick{
			Time: e.clk.Now().UnixMilli(),
			Bid:  bid,
			Ask:  ask,
			Last: first.Open,
		}, nil
	}
	bid, ask := quote(inst, bar)
	return &market.Tick{
		Time: e.clk.Now().UnixMilli(),
		Bid:  bid,
		Ask:  ask,
		Last: bar.Close,
	}, nil
}

func (e *Engine) CopyRatesFromPos(ctx context.Context, name string, tf market.Timeframe, start, count int) (market.Candles, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	_, err := e.instrument(name)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	bars, err := e.store.ClosedBefore(ctx, name, tf.Key, e.clk.Now().UnixMilli(), start+count)
	if err != nil {
		return nil, err
	}
	if start > 0 {
		if start >= len(bars) {
			return nil, nil
		}
		bars = bars[:len(bars)-start]
	}
	return bars, nil
}

// CopyTicksFrom synthesizes one tick per stored bar close; tick-level
// history is not kept.
func (e *Engine) CopyTicksFrom(ctx context.Context, name string, from time.Time, count int) (market.Ticks, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	inst, err := e.instrument(name)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	bars, err := e.store.RangeCandles(ctx, name, inst.tf.Key, from.UnixMilli(), e.clk.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	var out market.Ticks
	for _, bar := range bars {
		if bar.CloseTime > e.clk.Now().UnixMilli() {
			break
		}
		bid, ask := quote(inst, bar)
		out = append(out, market.Tick{Time: bar.CloseTime, Bid: bid, Ask: ask, Last: bar.Close})
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (e *Engine) OrderCheck(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderCheckResult, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instrument(req.Symbol)
	if err != nil {
		return &terminal.OrderCheckResult{RetCode: terminal.RetUnknownSymbol, Comment: err.Error()}, nil
	}
	equity := e.balance + e.unrealizedLocked()
	free := equity - e.marginUsedLocked()
	res := &terminal.OrderCheckResult{
		Balance:    e.balance,
		Equity:     equity,
		Margin:     e.marginUsedLocked(),
		MarginFree: free,
	}
	if req.Position == 0 {
		if req.Volume < inst.info.VolumeMin || req.Volume > inst.info.VolumeMax {
			res.RetCode = terminal.RetInvalidVolume
			res.Comment = fmt.Sprintf("volume %g outside [%g, %g]", req.Volume, inst.info.VolumeMin, inst.info.VolumeMax)
			return res, nil
		}
		bar, err := e.lastBar(ctx, inst)
		if err != nil {
			res.RetCode = terminal.RetMarketClosed
			res.Comment = err.Error()
			return res, nil
		}
		_, ask := quote(inst, bar)
		required := ask * req.Volume * inst.info.ContractSize / float64(e.cfg.Leverage)
		if required > free {
			res.RetCode = terminal.RetNoMoney
			res.Comment = fmt.Sprintf("margin %.2f exceeds free %.2f", required, free)
			return res, nil
		}
		res.Margin += required
		res.MarginFree -= required
	}
	res.RetCode = terminal.RetDone
	return res, nil
}

func (e *Engine) OrderSend(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderSendResult, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instrument(req.Symbol)
	if err != nil {
		return &terminal.OrderSendResult{RetCode: terminal.RetUnknownSymbol, Comment: err.Error()}, nil
	}
	bar, err := e.lastBar(ctx, inst)
	if err != nil {
		return &terminal.OrderSendResult{RetCode: terminal.RetMarketClosed, Comment: err.Error()}, nil
	}
	bid, ask := quote(inst, bar)
	now := e.clk.Now().UnixMilli()

	if req.Position != 0 {
		p, ok := e.positions[req.Position]
		if !ok {
			return &terminal.OrderSendResult{RetCode: terminal.RetRejected,
				Comment: fmt.Sprintf("position %d not found", req.Position)}, nil
		}
		exit := bid
		if !p.Type.IsLong() {
			exit = ask
		}
		exit = e.slip(exit, p.Type.Opposite())
		e.closeLocked(inst, p, exit, now, "close")
		return &terminal.OrderSendResult{
			RetCode: terminal.RetDone,
			Order:   e.nextTicket,
			Deal:    e.nextTicket,
			Volume:  p.Volume,
			Price:   exit,
			Bid:     bid,
			Ask:     ask,
		}, nil
	}

	if req.Volume < inst.info.VolumeMin || req.Volume > inst.info.VolumeMax {
		return &terminal.OrderSendResult{RetCode: terminal.RetInvalidVolume,
			Comment: fmt.Sprintf("volume %g outside [%g, %g]", req.Volume, inst.info.VolumeMin, inst.info.VolumeMax)}, nil
	}
	fill := ask
	if !req.Type.IsLong() {
		fill = bid
	}
	fill = e.slip(fill, req.Type)

	equity := e.balance + e.unrealizedLocked()
	free := equity - e.marginUsedLocked()
	required := fill * req.Volume * inst.info.ContractSize / float64(e.cfg.Leverage)
	if required > free {
		return &terminal.OrderSendResult{RetCode: terminal.RetNoMoney,
			Comment: fmt.Sprintf("margin %.2f exceeds free %.2f", required, free)}, nil
	}

	e.nextTicket++
	ticket := e.nextTicket
	e.positions[ticket] = &terminal.Position{
		Ticket:       ticket,
		Symbol:       req.Symbol,
		Type:         req.Type,
		Volume:       req.Volume,
		PriceOpen:    fill,
		PriceCurrent: fill,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Magic:        req.Magic,
		Comment:      req.Comment,
		OpenTime:     now,
	}
	e.deals = append(e.deals, terminal.Deal{
		Ticket:   ticket,
		Order:    ticket,
		Position: ticket,
		Symbol:   req.Symbol,
		Type:     req.Type,
		Entry:    terminal.DealEntryIn,
		Volume:   req.Volume,
		Price:    fill,
		Magic:    req.Magic,
		Comment:  req.Comment,
		Time:     now,
	})
	e.orders = append(e.orders, terminal.HistoryOrder{
		Ticket:    ticket,
		Position:  ticket,
		Symbol:    req.Symbol,
		Type:      req.Type,
		Volume:    req.Volume,
		Price:     fill,
		State:     "filled",
		SetupTime: now,
		DoneTime:  now,
		Magic:     req.Magic,
		Comment:   req.Comment,
	})
	return &terminal.OrderSendResult{
		RetCode: terminal.RetDone,
		Order:   ticket,
		Deal:    ticket,
		Volume:  req.Volume,
		Price:   fill,
		Bid:     bid,
		Ask:     ask,
	}, nil
}

func (e *Engine) PositionsGet(ctx context.Context, filter terminal.PositionFilter) ([]terminal.Position, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []terminal.Position
	for _, p := range e.positions {
		if filter.Matches(*p) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (e *Engine) HistoryDealsGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.Deal, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []terminal.Deal
	for _, d := range e.deals {
		if d.Time < from.UnixMilli() || d.Time > to.UnixMilli() {
			continue
		}
		if filter.Position != 0 && d.Position != filter.Position {
			continue
		}
		if filter.Order != 0 && d.Order != filter.Order {
			continue
		}
		if filter.Symbol != "" && d.Symbol != filter.Symbol {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (e *Engine) HistoryOrdersGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.HistoryOrder, error) {
	if err := e.sync(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []terminal.HistoryOrder
	for _, o := range e.orders {
		if o.DoneTime < from.UnixMilli() || o.DoneTime > to.UnixMilli() {
			continue
		}
		if filter.Position != 0 && o.Position != filter.Position {
			continue
		}
		if filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// CloseOpenPositions closes every remaining position at the current quote.
func (e *Engine) CloseOpenPositions(ctx context.Context) error {
	if err := e.sync(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clk.Now().UnixMilli()
	for _, p := range e.positionsSnapshotLocked() {
		inst, err := e.instrument(p.Symbol)
		if err != nil {
			continue
		}
		bar, err := e.lastBar(ctx, inst)
		if err != nil {
			continue
		}
		bid, ask := quote(inst, bar)
		exit := bid
		if !p.Type.IsLong() {
			exit = ask
		}
		e.closeLocked(inst, p, exit, now, "end_of_run")
	}
	return nil
}

func (e *Engine) positionsSnapshotLocked() []*terminal.Position {
	out := make([]*terminal.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Balance returns the realized balance.
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// EquityCurve returns the per-bar account trajectory accumulated so far.
func (e *Engine) EquityCurve() []EquityPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EquityPoint, len(e.curve))
	copy(out, e.curve)
	return out
}

// Deals returns the accumulated fill history.
func (e *Engine) Deals() []terminal.Deal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]terminal.Deal, len(e.deals))
	copy(out, e.deals)
	return out
}
