// Package terminaltest provides an in-memory TerminalAPI for package tests.
package terminaltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finch/internal/market"
	"finch/internal/terminal"
)

// Fake is a configurable in-memory terminal. Zero value is usable; populate
// fields before handing it to a gateway.
type Fake struct {
	mu sync.Mutex

	Account  terminal.AccountInfo
	Symbols  map[string]terminal.SymbolInfo
	Ticks    map[string]market.Tick
	Rates    map[string]market.Candles // keyed by symbol@timeframe
	TickData map[string]market.Ticks

	OpenPositions []terminal.Position
	Deals         []terminal.Deal
	HistOrders    []terminal.HistoryOrder

	// CheckFn / SendFn override order handling when set.
	CheckFn func(req *terminal.OrderRequest) (*terminal.OrderCheckResult, error)
	SendFn  func(req *terminal.OrderRequest) (*terminal.OrderSendResult, error)

	InitErr error

	nextTicket int64
	SentOrders []terminal.OrderRequest

	// DealFilters collects the filter of every HistoryDealsGet call.
	DealFilters []terminal.HistoryFilter
}

func New() *Fake {
	return &Fake{
		Symbols:  make(map[string]terminal.SymbolInfo),
		Ticks:    make(map[string]market.Tick),
		Rates:    make(map[string]market.Candles),
		TickData: make(map[string]market.Ticks),
	}
}

// AddForex registers a 5-digit forex-style instrument with standard lot bounds.
func (f *Fake) AddForex(name string) {
	f.Symbols[name] = terminal.SymbolInfo{
		Name:          name,
		Digits:        5,
		Point:         0.00001,
		TickSize:      0.00001,
		TickValue:     0.1, // 1 point on 1 lot
		ContractSize:  100000,
		VolumeMin:     0.01,
		VolumeMax:     100,
		VolumeStep:    0.01,
		BaseCurrency:  name[:3],
		QuoteCurrency: name[3:],
	}
	f.Ticks[name] = market.Tick{Time: time.Now().UnixMilli(), Bid: 1.08000, Ask: 1.08010}
}

func (f *Fake) Initialize(ctx context.Context, creds terminal.Credentials) error {
	return f.InitErr
}

func (f *Fake) Shutdown(ctx context.Context) error { return nil }

func (f *Fake) AccountInfo(ctx context.Context) (*terminal.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.Account
	return &info, nil
}

func (f *Fake) SymbolsGet(ctx context.Context) ([]terminal.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]terminal.SymbolInfo, 0, len(f.Symbols))
	for _, s := range f.Symbols {
		out = append(out, s)
	}
	return out, nil
}

func (f *Fake) SymbolInfoGet(ctx context.Context, name string) (*terminal.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Symbols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", terminal.ErrSymbol, name)
	}
	return &info, nil
}

func (f *Fake) SymbolTick(ctx context.Context, name string) (*market.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick, ok := f.Ticks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no tick", terminal.ErrSymbol, name)
	}
	return &tick, nil
}

// SetTick replaces the current tick for a symbol.
func (f *Fake) SetTick(name string, tick market.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ticks[name] = tick
}

func (f *Fake) CopyRatesFromPos(ctx context.Context, symbol string, tf market.Timeframe, start, count int) (market.Candles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.Rates[symbol+"@"+tf.Key]
	if len(all) == 0 {
		return nil, terminal.Transient("copy_rates", fmt.Errorf("no data for %s %s", symbol, tf.Key))
	}
	end := len(all) - start
	if end < 0 {
		end = 0
	}
	begin := end - count
	if begin < 0 {
		begin = 0
	}
	out := make(market.Candles, end-begin)
	copy(out, all[begin:end])
	return out, nil
}

func (f *Fake) CopyTicksFrom(ctx context.Context, symbol string, from time.Time, count int) (market.Ticks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.TickData[symbol]
	var out market.Ticks
	for _, t := range all {
		if t.Time >= from.UnixMilli() {
			out = append(out, t)
			if len(out) == count {
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) OrderCheck(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderCheckResult, error) {
	if f.CheckFn != nil {
		return f.CheckFn(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &terminal.OrderCheckResult{
		RetCode:    terminal.RetDone,
		Balance:    f.Account.Balance,
		Equity:     f.Account.Equity,
		MarginFree: f.Account.MarginFree,
	}, nil
}

func (f *Fake) OrderSend(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderSendResult, error) {
	if f.SendFn != nil {
		return f.SendFn(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentOrders = append(f.SentOrders, *req)
	f.nextTicket++
	tick := f.Ticks[req.Symbol]
	price := tick.Ask
	if req.Type == terminal.OrderSell {
		price = tick.Bid
	}
	return &terminal.OrderSendResult{
		RetCode: terminal.RetDone,
		Order:   f.nextTicket,
		Deal:    f.nextTicket,
		Volume:  req.Volume,
		Price:   price,
		Bid:     tick.Bid,
		Ask:     tick.Ask,
	}, nil
}

func (f *Fake) PositionsGet(ctx context.Context, filter terminal.PositionFilter) ([]terminal.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []terminal.Position
	for _, p := range f.OpenPositions {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetPositions replaces the open position list.
func (f *Fake) SetPositions(positions ...terminal.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenPositions = positions
}

func (f *Fake) HistoryDealsGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DealFilters = append(f.DealFilters, filter)
	var out []terminal.Deal
	for _, d := range f.Deals {
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

func (f *Fake) HistoryOrdersGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.HistoryOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []terminal.HistoryOrder
	for _, o := range f.HistOrders {
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
