package terminal

import (
	"context"
	"errors"
	"testing"
	"time"

	"finch/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAPI fails AccountInfo a configured number of times before succeeding.
type scriptedAPI struct {
	nopAPI
	failures  int
	calls     int
	transient bool
}

func (s *scriptedAPI) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	s.calls++
	if s.calls <= s.failures {
		err := errors.New("connection reset")
		if s.transient {
			return nil, Transient("account_info", err)
		}
		return nil, err
	}
	return &AccountInfo{Login: 1001, Balance: 350, MarginFree: 350, Currency: "USD"}, nil
}

// nopAPI satisfies TerminalAPI with empty results.
type nopAPI struct{}

func (nopAPI) Initialize(context.Context, Credentials) error      { return nil }
func (nopAPI) Shutdown(context.Context) error                     { return nil }
func (nopAPI) AccountInfo(context.Context) (*AccountInfo, error)  { return &AccountInfo{}, nil }
func (nopAPI) SymbolsGet(context.Context) ([]SymbolInfo, error)   { return nil, nil }
func (nopAPI) SymbolInfoGet(context.Context, string) (*SymbolInfo, error) {
	return &SymbolInfo{}, nil
}
func (nopAPI) SymbolTick(context.Context, string) (*market.Tick, error) {
	return &market.Tick{}, nil
}
func (nopAPI) CopyRatesFromPos(context.Context, string, market.Timeframe, int, int) (market.Candles, error) {
	return nil, nil
}
func (nopAPI) CopyTicksFrom(context.Context, string, time.Time, int) (market.Ticks, error) {
	return nil, nil
}
func (nopAPI) OrderCheck(context.Context, *OrderRequest) (*OrderCheckResult, error) {
	return &OrderCheckResult{}, nil
}
func (nopAPI) OrderSend(context.Context, *OrderRequest) (*OrderSendResult, error) {
	return &OrderSendResult{}, nil
}
func (nopAPI) PositionsGet(context.Context, PositionFilter) ([]Position, error) {
	return nil, nil
}
func (nopAPI) HistoryDealsGet(context.Context, time.Time, time.Time, HistoryFilter) ([]Deal, error) {
	return nil, nil
}
func (nopAPI) HistoryOrdersGet(context.Context, time.Time, time.Time, HistoryFilter) ([]HistoryOrder, error) {
	return nil, nil
}

func newTestGateway(api TerminalAPI) *Gateway {
	g := NewGateway(api, GatewayConfig{Attempts: 3, BaseDelay: time.Millisecond})
	g.sleepFn = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	api := &scriptedAPI{failures: 2, transient: true}
	g := newTestGateway(api)

	info, err := g.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1001), info.Login)
	assert.Equal(t, 3, api.calls)
}

func TestGatewaySurfacesExhaustedRetries(t *testing.T) {
	api := &scriptedAPI{failures: 10, transient: true}
	g := newTestGateway(api)

	_, err := g.AccountInfo(context.Background())
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "account_info", exhausted.Op)
	assert.Equal(t, 3, api.calls)
}

func TestGatewayDoesNotRetryPermanentErrors(t *testing.T) {
	api := &scriptedAPI{failures: 10, transient: false}
	g := newTestGateway(api)

	_, err := g.AccountInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, api.calls)
}

func TestGatewayConnectWrapsLoginError(t *testing.T) {
	failing := &loginFailAPI{}
	g := newTestGateway(failing)
	err := g.Connect(context.Background(), Credentials{Login: 42})
	assert.ErrorIs(t, err, ErrLogin)
}

type loginFailAPI struct{ nopAPI }

func (loginFailAPI) Initialize(context.Context, Credentials) error {
	return errors.New("invalid account")
}

func TestPositionFilterMatches(t *testing.T) {
	p := Position{Ticket: 7, Symbol: "EURUSD", Magic: 99}
	assert.True(t, PositionFilter{}.Matches(p))
	assert.True(t, PositionFilter{Symbol: "eurusd"}.Matches(p))
	assert.False(t, PositionFilter{Symbol: "GBPUSD"}.Matches(p))
	assert.True(t, PositionFilter{Ticket: 7, Magic: 99}.Matches(p))
	assert.False(t, PositionFilter{Ticket: 8}.Matches(p))
}
