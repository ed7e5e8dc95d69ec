package terminal

import (
	"context"
	"time"

	"finch/internal/market"
)

// TerminalAPI is the opaque contract with the trading terminal backend.
// Live adapters (see the binance subpackage) and the backtest engine both
// implement it, which is what lets a strategy run unmodified in either mode.
//
// Any call may fail transiently; implementations wrap retryable failures
// with Transient so the Gateway can back off and retry.
type TerminalAPI interface {
	// Initialize opens the terminal session. Failure is fatal to the run.
	Initialize(ctx context.Context, creds Credentials) error
	Shutdown(ctx context.Context) error

	AccountInfo(ctx context.Context) (*AccountInfo, error)

	SymbolsGet(ctx context.Context) ([]SymbolInfo, error)
	SymbolInfoGet(ctx context.Context, name string) (*SymbolInfo, error)
	SymbolTick(ctx context.Context, name string) (*market.Tick, error)

	// CopyRatesFromPos returns count bars ending start bars before the most
	// recent closed bar, ordered earliest first.
	CopyRatesFromPos(ctx context.Context, symbol string, tf market.Timeframe, start, count int) (market.Candles, error)
	// CopyTicksFrom returns up to count ticks starting at from, ordered
	// earliest first.
	CopyTicksFrom(ctx context.Context, symbol string, from time.Time, count int) (market.Ticks, error)

	OrderCheck(ctx context.Context, req *OrderRequest) (*OrderCheckResult, error)
	OrderSend(ctx context.Context, req *OrderRequest) (*OrderSendResult, error)

	PositionsGet(ctx context.Context, filter PositionFilter) ([]Position, error)
	HistoryDealsGet(ctx context.Context, from, to time.Time, filter HistoryFilter) ([]Deal, error)
	HistoryOrdersGet(ctx context.Context, from, to time.Time, filter HistoryFilter) ([]HistoryOrder, error)
}
