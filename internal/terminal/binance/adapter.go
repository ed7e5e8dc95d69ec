// Package binance adapts Binance USD-M futures to the terminal contract so
// live runs and backtests share one trading stack.
package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"finch/internal/logger"
	"finch/internal/market"
	"finch/internal/terminal"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const maxHistoryLimit = 1500

// Config tunes the REST client and the request budget.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	HTTPTimeout time.Duration
	// RequestsPerSecond caps outgoing REST calls; Binance weights vary per
	// endpoint, a conservative flat cap keeps us clear of bans.
	RequestsPerSecond float64
	Burst             int
	Leverage          int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 8
	}
	if c.Burst <= 0 {
		c.Burst = 16
	}
	if c.Leverage <= 0 {
		c.Leverage = 20
	}
	return c
}

// Adapter implements terminal.TerminalAPI on the futures REST API.
//
// Futures have no position tickets; the adapter keys positions by symbol and
// direction, which is exact under one-way position mode.
type Adapter struct {
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	symbols map[string]terminal.SymbolInfo
	tickets map[string]int64
	nextID  int64
}

func New(cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &Adapter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		symbols: make(map[string]terminal.SymbolInfo),
		tickets: make(map[string]int64),
	}
}

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// wrap classifies an SDK error: API errors are permanent, everything else
// (timeouts, resets) is transient and retried by the gateway.
func wrap(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: binance %d: %s", op, apiErr.Code, apiErr.Message)
	}
	return terminal.Transient(op, err)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// Initialize verifies credentials and preloads the exchange contract table.
func (a *Adapter) Initialize(ctx context.Context, creds terminal.Credentials) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.client.NewGetAccountService().Do(ctx); err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: binance %d: %s", terminal.ErrLogin, apiErr.Code, apiErr.Message)
		}
		return terminal.Transient("initialize", err)
	}
	if err := a.loadExchangeInfo(ctx); err != nil {
		return err
	}
	logger.Infof("binance terminal ready (%d instruments)", len(a.symbols))
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error { return nil }

func (a *Adapter) loadExchangeInfo(ctx context.Context) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return wrap("exchange_info", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		a.symbols[s.Symbol] = convertSymbol(s)
	}
	return nil
}

func convertSymbol(s futures.Symbol) terminal.SymbolInfo {
	info := terminal.SymbolInfo{
		Name:          s.Symbol,
		Digits:        s.PricePrecision,
		Point:         math.Pow(10, -float64(s.PricePrecision)),
		ContractSize:  1,
		BaseCurrency:  s.BaseAsset,
		QuoteCurrency: s.QuoteAsset,
	}
	if f := s.PriceFilter(); f != nil {
		info.TickSize = parseFloat(f.TickSize)
	}
	if info.TickSize <= 0 {
		info.TickSize = info.Point
	}
	// linear contract: one tick on one unit moves one tick of quote
	info.TickValue = info.TickSize
	if f := s.LotSizeFilter(); f != nil {
		info.VolumeMin = parseFloat(f.MinQuantity)
		info.VolumeMax = parseFloat(f.MaxQuantity)
		info.VolumeStep = parseFloat(f.StepSize)
	}
	return info
}

func (a *Adapter) AccountInfo(ctx context.Context) (*terminal.AccountInfo, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	acct, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrap("account_info", err)
	}
	balance := parseFloat(acct.TotalWalletBalance)
	unrealized := parseFloat(acct.TotalUnrealizedProfit)
	return &terminal.AccountInfo{
		Balance:    balance,
		Equity:     balance + unrealized,
		Margin:     parseFloat(acct.TotalInitialMargin),
		MarginFree: parseFloat(acct.AvailableBalance),
		Profit:     unrealized,
		Leverage:   a.cfg.Leverage,
		Currency:   "USDT",
		Server:     "binance-futures",
	}, nil
}

func (a *Adapter) SymbolsGet(ctx context.Context) ([]terminal.SymbolInfo, error) {
	a.mu.Lock()
	cached := len(a.symbols)
	a.mu.Unlock()
	if cached == 0 {
		if err := a.loadExchangeInfo(ctx); err != nil {
			return nil, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]terminal.SymbolInfo, 0, len(a.symbols))
	for _, info := range a.symbols {
		out = append(out, info)
	}
	return out, nil
}

func (a *Adapter) SymbolInfoGet(ctx context.Context, name string) (*terminal.SymbolInfo, error) {
	a.mu.Lock()
	info, ok := a.symbols[name]
	a.mu.Unlock()
	if !ok {
		if err := a.loadExchangeInfo(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		info, ok = a.symbols[name]
		a.mu.Unlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", terminal.ErrSymbol, name)
	}
	return &info, nil
}

func (a *Adapter) SymbolTick(ctx context.Context, name string) (*market.Tick, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	books, err := a.client.NewListBookTickersService().Symbol(name).Do(ctx)
	if err != nil {
		return nil, wrap("symbol_tick", err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("%w: %s: no book ticker", terminal.ErrSymbol, name)
	}
	book := books[0]
	bid, ask := parseFloat(book.BidPrice), parseFloat(book.AskPrice)
	return &market.Tick{
		Time: time.Now().UnixMilli(),
		Bid:  bid,
		Ask:  ask,
		Last: (bid + ask) / 2,
	}, nil
}

func (a *Adapter) CopyRatesFromPos(ctx context.Context, symbol string, tf market.Timeframe, start, count int) (market.Candles, error) {
	limit := start + count + 1 // +1 for the forming bar we drop
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	kls, err := a.client.NewKlinesService().Symbol(symbol).Interval(tf.Key).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrap("copy_rates", err)
	}
	candles := make(market.Candles, 0, len(kls))
	nowMs := time.Now().UnixMilli()
	for _, kl := range kls {
		if kl == nil || kl.CloseTime > nowMs {
			continue // still forming
		}
		candles = append(candles, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if start > 0 {
		if start >= len(candles) {
			return nil, nil
		}
		candles = candles[:len(candles)-start]
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

func (a *Adapter) CopyTicksFrom(ctx context.Context, symbol string, from time.Time, count int) (market.Ticks, error) {
	if count <= 0 || count > 1000 {
		count = 1000
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	trades, err := a.client.NewAggTradesService().Symbol(symbol).StartTime(from.UnixMilli()).Limit(count).Do(ctx)
	if err != nil {
		return nil, wrap("copy_ticks", err)
	}
	out := make(market.Ticks, 0, len(trades))
	for _, tr := range trades {
		price := parseFloat(tr.Price)
		out = append(out, market.Tick{
			Time:   tr.Timestamp,
			Bid:    price,
			Ask:    price,
			Last:   price,
			Volume: parseFloat(tr.Quantity),
		})
	}
	return out, nil
}

// OrderCheck is evaluated locally: Binance has no dry-run endpoint.
func (a *Adapter) OrderCheck(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderCheckResult, error) {
	info, err := a.SymbolInfoGet(ctx, req.Symbol)
	if err != nil {
		return &terminal.OrderCheckResult{RetCode: terminal.RetUnknownSymbol, Comment: err.Error()}, nil
	}
	acct, err := a.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	res := &terminal.OrderCheckResult{
		Balance:    acct.Balance,
		Equity:     acct.Equity,
		Margin:     acct.Margin,
		MarginFree: acct.MarginFree,
	}
	if req.Position == 0 {
		if req.Volume < info.VolumeMin || req.Volume > info.VolumeMax {
			res.RetCode = terminal.RetInvalidVolume
			res.Comment = fmt.Sprintf("volume %g outside [%g, %g]", req.Volume, info.VolumeMin, info.VolumeMax)
			return res, nil
		}
		tick, err := a.SymbolTick(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		required := tick.Ask * req.Volume / float64(a.cfg.Leverage)
		if required > acct.MarginFree {
			res.RetCode = terminal.RetNoMoney
			res.Comment = fmt.Sprintf("margin %.2f exceeds free %.2f", required, acct.MarginFree)
			return res, nil
		}
	}
	res.RetCode = terminal.RetDone
	return res, nil
}

func orderSide(typ terminal.OrderType) futures.SideType {
	if typ.IsLong() {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func quantity(info *terminal.SymbolInfo, v float64) string {
	prec := 0
	if info.VolumeStep > 0 && info.VolumeStep < 1 {
		prec = int(math.Round(-math.Log10(info.VolumeStep)))
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func price(info *terminal.SymbolInfo, p float64) string {
	return strconv.FormatFloat(p, 'f', info.Digits, 64)
}

func (a *Adapter) OrderSend(ctx context.Context, req *terminal.OrderRequest) (*terminal.OrderSendResult, error) {
	info, err := a.SymbolInfoGet(ctx, req.Symbol)
	if err != nil {
		return &terminal.OrderSendResult{RetCode: terminal.RetUnknownSymbol, Comment: err.Error()}, nil
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(orderSide(req.Type)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity(info, req.Volume)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.Position != 0 {
		svc = svc.ReduceOnly(true)
	}
	order, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return &terminal.OrderSendResult{RetCode: terminal.RetRejected,
				Comment: fmt.Sprintf("binance %d: %s", apiErr.Code, apiErr.Message)}, nil
		}
		return nil, terminal.Transient("order_send", err)
	}
	fill := parseFloat(order.AvgPrice)
	res := &terminal.OrderSendResult{
		RetCode: terminal.RetDone,
		Order:   order.OrderID,
		Deal:    order.OrderID,
		Volume:  parseFloat(order.ExecutedQuantity),
		Price:   fill,
	}
	if req.Position == 0 {
		a.placeStops(ctx, info, req)
	}
	return res, nil
}

// placeStops attaches close-position stop orders after a filled entry.
// A failed stop placement is logged loudly but does not undo the entry.
func (a *Adapter) placeStops(ctx context.Context, info *terminal.SymbolInfo, req *terminal.OrderRequest) {
	exitSide := orderSide(req.Type.Opposite())
	if req.StopLoss > 0 {
		if err := a.wait(ctx); err != nil {
			return
		}
		_, err := a.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(price(info, req.StopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Errorf("%s: stop loss %.5f not placed: %v", req.Symbol, req.StopLoss, err)
		}
	}
	if req.TakeProfit > 0 {
		if err := a.wait(ctx); err != nil {
			return
		}
		_, err := a.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(price(info, req.TakeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Errorf("%s: take profit %.5f not placed: %v", req.Symbol, req.TakeProfit, err)
		}
	}
}

// ticket returns a stable synthetic ticket for a symbol+direction position.
func (a *Adapter) ticket(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.tickets[key]; ok {
		return id
	}
	a.nextID++
	a.tickets[key] = a.nextID
	return a.nextID
}

func (a *Adapter) PositionsGet(ctx context.Context, filter terminal.PositionFilter) ([]terminal.Position, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	risks, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrap("positions_get", err)
	}
	var out []terminal.Position
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		p := convertPosition(r, amt)
		p.Ticket = a.ticket(fmt.Sprintf("%s/%s", r.Symbol, p.Type))
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// convertPosition maps a position risk row. The futures endpoint does not
// report when the position was opened, so OpenTime stays zero.
func convertPosition(r *futures.PositionRisk, amt float64) terminal.Position {
	typ := terminal.OrderBuy
	if amt < 0 {
		typ = terminal.OrderSell
	}
	return terminal.Position{
		Symbol:       r.Symbol,
		Type:         typ,
		Volume:       math.Abs(amt),
		PriceOpen:    parseFloat(r.EntryPrice),
		PriceCurrent: parseFloat(r.MarkPrice),
		Profit:       parseFloat(r.UnRealizedProfit),
	}
}

func (a *Adapter) HistoryDealsGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.Deal, error) {
	if filter.Symbol == "" {
		return nil, fmt.Errorf("binance trade history requires a symbol filter")
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	trades, err := a.client.NewListAccountTradeService().
		Symbol(filter.Symbol).
		StartTime(from.UnixMilli()).
		EndTime(to.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, wrap("history_deals", err)
	}
	var out []terminal.Deal
	for _, tr := range trades {
		if tr == nil {
			continue
		}
		if filter.Order != 0 && tr.OrderID != filter.Order {
			continue
		}
		d := terminal.Deal{
			Ticket:     tr.ID,
			Order:      tr.OrderID,
			Position:   tr.OrderID,
			Symbol:     tr.Symbol,
			Volume:     parseFloat(tr.Quantity),
			Price:      parseFloat(tr.Price),
			Profit:     parseFloat(tr.RealizedPnl),
			Commission: -parseFloat(tr.Commission),
			Time:       tr.Time,
		}
		if tr.Side == futures.SideTypeSell {
			d.Type = terminal.OrderSell
		}
		// realized pnl only appears on fills that reduce exposure
		if d.Profit != 0 {
			d.Entry = terminal.DealEntryOut
		}
		if filter.Position != 0 && d.Position != filter.Position {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *Adapter) HistoryOrdersGet(ctx context.Context, from, to time.Time, filter terminal.HistoryFilter) ([]terminal.HistoryOrder, error) {
	if filter.Symbol == "" {
		return nil, fmt.Errorf("binance order history requires a symbol filter")
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	orders, err := a.client.NewListOrdersService().
		Symbol(filter.Symbol).
		StartTime(from.UnixMilli()).
		EndTime(to.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, wrap("history_orders", err)
	}
	var out []terminal.HistoryOrder
	for _, o := range orders {
		if o == nil {
			continue
		}
		h := terminal.HistoryOrder{
			Ticket:    o.OrderID,
			Position:  o.OrderID,
			Symbol:    o.Symbol,
			Volume:    parseFloat(o.OrigQuantity),
			Price:     parseFloat(o.AvgPrice),
			State:     string(o.Status),
			SetupTime: o.Time,
			DoneTime:  o.UpdateTime,
		}
		if o.Side == futures.SideTypeSell {
			h.Type = terminal.OrderSell
		}
		out = append(out, h)
	}
	return out, nil
}
