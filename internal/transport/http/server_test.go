package traderhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finch/internal/account"
	"finch/internal/backtest"
	"finch/internal/records"
	"finch/internal/terminal"
	"finch/internal/terminal/terminaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *terminaltest.Fake) {
	t.Helper()
	fake := terminaltest.New()
	fake.AddForex("EURUSD")
	fake.Account = terminal.AccountInfo{Balance: 350, Equity: 352, MarginFree: 340, Currency: "USD"}
	gw := terminal.NewGateway(fake, terminal.GatewayConfig{Attempts: 1})

	store, err := records.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &records.Result{
		ID: records.NewID(), Strategy: "finger_trap", Symbol: "EURUSD", Type: "buy", Volume: 0.14,
	}))

	runs, err := backtest.NewRunStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, runs.Save(backtest.RunStats{ID: "run-1", Profit: 42}))

	srv := NewServer(ServerConfig{
		Addr:       ":0",
		Gateway:    gw,
		Account:    account.New(gw),
		Records:    store,
		Strategies: []string{"finger_trap"},
		Runs:       runs,
	})
	return srv, fake
}

func get(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["status"])
	acct := body["account"].(map[string]any)
	assert.Equal(t, 350.0, acct["balance"])
}

func TestPositions(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.SetPositions(
		terminal.Position{Ticket: 1, Symbol: "EURUSD", Volume: 0.1},
		terminal.Position{Ticket: 2, Symbol: "GBPUSD", Volume: 0.2},
	)

	code, body := get(t, srv, "/api/positions?symbol=EURUSD")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])
}

func TestRecords(t *testing.T) {
	srv, _ := newTestServer(t)

	code, _ := get(t, srv, "/api/records")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := get(t, srv, "/api/records?strategy=finger_trap")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])
}

func TestBacktestRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := get(t, srv, "/api/backtest/runs")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, body = get(t, srv, "/api/backtest/runs/run-1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 42.0, body["profit"])

	code, _ = get(t, srv, "/api/backtest/runs/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
