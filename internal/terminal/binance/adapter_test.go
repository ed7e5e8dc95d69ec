package binance

import (
	"testing"

	"finch/internal/terminal"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
)

func TestQuantityAndPriceFormatting(t *testing.T) {
	info := &terminal.SymbolInfo{Digits: 2, VolumeStep: 0.001}
	assert.Equal(t, "0.140", quantity(info, 0.14))
	assert.Equal(t, "64250.50", price(info, 64250.5))

	whole := &terminal.SymbolInfo{Digits: 4, VolumeStep: 1}
	assert.Equal(t, "3", quantity(whole, 3))
}

func TestConvertPosition(t *testing.T) {
	long := convertPosition(&futures.PositionRisk{
		Symbol:           "BTCUSDT",
		PositionAmt:      "0.25",
		EntryPrice:       "64000",
		MarkPrice:        "64500",
		UnRealizedProfit: "125",
	}, 0.25)
	assert.Equal(t, terminal.OrderBuy, long.Type)
	assert.Equal(t, 0.25, long.Volume)
	assert.Equal(t, 64000.0, long.PriceOpen)
	assert.Equal(t, 125.0, long.Profit)
	assert.Zero(t, long.OpenTime) // not reported by the futures endpoint

	short := convertPosition(&futures.PositionRisk{
		Symbol:      "ETHUSDT",
		PositionAmt: "-2",
		EntryPrice:  "3200",
	}, -2)
	assert.Equal(t, terminal.OrderSell, short.Type)
	assert.Equal(t, 2.0, short.Volume)
}

func TestTicketStability(t *testing.T) {
	a := New(Config{})
	first := a.ticket("BTCUSDT/buy")
	assert.Equal(t, first, a.ticket("BTCUSDT/buy"))
	assert.NotEqual(t, first, a.ticket("BTCUSDT/sell"))
}

func TestWrapClassifiesErrors(t *testing.T) {
	apiErr := &common.APIError{Code: -2019, Message: "margin is insufficient"}
	assert.False(t, terminal.IsTransient(wrap("order_send", apiErr)))

	assert.True(t, terminal.IsTransient(wrap("order_send", assert.AnError)))
}
