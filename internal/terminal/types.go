// Package terminal defines the request/response contract with the trading
// terminal backend and a gateway that adds retry and circuit-breaking on top
// of any implementation of that contract.
package terminal

import (
	"strings"
	"time"

	"finch/internal/market"
)

// Credentials authenticate a terminal session.
type Credentials struct {
	Login    int64
	Password string
	Server   string
	Timeout  time.Duration
}

// AccountInfo is the account state snapshot returned by the terminal.
type AccountInfo struct {
	Login      int64   `json:"login"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Profit     float64 `json:"profit"`
	Leverage   int     `json:"leverage"`
	Currency   string  `json:"currency"`
	Name       string  `json:"name"`
	Server     string  `json:"server"`
}

// SymbolInfo carries the static contract properties of one instrument.
type SymbolInfo struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Digits        int     `json:"digits"`
	Point         float64 `json:"point"`
	TickSize      float64 `json:"tick_size"`
	TickValue     float64 `json:"tick_value"`
	ContractSize  float64 `json:"contract_size"`
	VolumeMin     float64 `json:"volume_min"`
	VolumeMax     float64 `json:"volume_max"`
	VolumeStep    float64 `json:"volume_step"`
	SpreadPoints  int64   `json:"spread_points"`
	BaseCurrency  string  `json:"base_currency"`
	QuoteCurrency string  `json:"quote_currency"`
}

// OrderType is the direction/kind of an order request.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyLimit
	OrderSellLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "buy"
	case OrderSell:
		return "sell"
	case OrderBuyLimit:
		return "buy_limit"
	case OrderSellLimit:
		return "sell_limit"
	default:
		return "unknown"
	}
}

// IsLong reports whether the order opens long exposure.
func (t OrderType) IsLong() bool {
	return t == OrderBuy || t == OrderBuyLimit
}

// Opposite returns the closing direction for a position of this type.
func (t OrderType) Opposite() OrderType {
	if t.IsLong() {
		return OrderSell
	}
	return OrderBuy
}

// ParseOrderType accepts "buy"/"sell" (case-insensitive).
func ParseOrderType(s string) (OrderType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return OrderBuy, true
	case "sell", "short":
		return OrderSell, true
	default:
		return OrderBuy, false
	}
}

// OrderRequest is a pending trade instruction. It is transient: created,
// validated, sent, then discarded or converted into an OrderSendResult.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Deviation  int       `json:"deviation"`
	Magic      int64     `json:"magic"`
	Comment    string    `json:"comment"`

	// Position, when set, makes the order close (part of) that position
	// instead of opening new exposure.
	Position int64 `json:"position"`
}

// Return codes shared by check and send results.
const (
	RetDone          = 0
	RetInvalidVolume = 1
	RetInvalidStops  = 2
	RetNoMoney       = 3
	RetMarketClosed  = 4
	RetRejected      = 5
	RetUnknownSymbol = 6
)

// OrderCheckResult reports broker-side feasibility of a request.
type OrderCheckResult struct {
	RetCode     int     `json:"ret_code"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	MarginFree  float64 `json:"margin_free"`
	MarginLevel float64 `json:"margin_level"`
	Comment     string  `json:"comment"`
}

// Ok reports whether the order would be accepted as-is.
func (r OrderCheckResult) Ok() bool { return r.RetCode == RetDone }

// OrderSendResult is the immediate outcome of submitting an order.
type OrderSendResult struct {
	RetCode int     `json:"ret_code"`
	Order   int64   `json:"order"`
	Deal    int64   `json:"deal"`
	Volume  float64 `json:"volume"`
	Price   float64 `json:"price"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Comment string  `json:"comment"`
}

// Ok reports whether the order was executed.
func (r OrderSendResult) Ok() bool { return r.RetCode == RetDone }

// Position is the live state of an open trade.
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Type         OrderType `json:"type"`
	Volume       float64   `json:"volume"`
	PriceOpen    float64   `json:"price_open"`
	PriceCurrent float64   `json:"price_current"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	Profit       float64   `json:"profit"`
	Magic        int64     `json:"magic"`
	Comment      string    `json:"comment"`
	OpenTime     int64     `json:"open_time"`
}

// DealEntry distinguishes fills that open exposure from fills that close it.
type DealEntry int

const (
	DealEntryIn DealEntry = iota
	DealEntryOut
)

// Deal is one executed fill recorded in terminal history.
type Deal struct {
	Ticket     int64     `json:"ticket"`
	Order      int64     `json:"order"`
	Position   int64     `json:"position"`
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Entry      DealEntry `json:"entry"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Magic      int64     `json:"magic"`
	Comment    string    `json:"comment"`
	Time       int64     `json:"time"`
}

// HistoryOrder is a completed (filled/cancelled) order from terminal history.
type HistoryOrder struct {
	Ticket     int64     `json:"ticket"`
	Position   int64     `json:"position"`
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	State      string    `json:"state"`
	SetupTime  int64     `json:"setup_time"`
	DoneTime   int64     `json:"done_time"`
	Magic      int64     `json:"magic"`
	Comment    string    `json:"comment"`
}

// PositionFilter narrows PositionsGet; zero values match everything.
type PositionFilter struct {
	Symbol string
	Ticket int64
	Magic  int64
}

// Matches applies the filter to one position.
func (f PositionFilter) Matches(p Position) bool {
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, p.Symbol) {
		return false
	}
	if f.Ticket != 0 && f.Ticket != p.Ticket {
		return false
	}
	if f.Magic != 0 && f.Magic != p.Magic {
		return false
	}
	return true
}

// HistoryFilter narrows history queries; zero values match everything.
type HistoryFilter struct {
	Symbol   string
	Position int64
	Order    int64
}

// Tick and Candle aliases keep the wire contract in one import for callers.
type (
	Tick   = market.Tick
	Candle = market.Candle
)
