package portfolio

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/platform/binance"
)

func TestExecuteOpensFromFlat(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)

	res, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalSell, Reason: "rejection at resistance"}, nil, 100, 0.2, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeOpenShort, res.Action)
	assert.InDelta(t, 0.2, res.Amount, 1e-12)
	assert.Nil(t, res.PnL)
	assert.Equal(t, "rejection at resistance", res.Reason)
	assert.Equal(t, []placedOrder{{Symbol: "BTCUSDT", Side: binance.SideSell, PositionSide: binance.PositionShort, Qty: "0.200"}}, ex.ordersFor("BTCUSDT"))
}

func TestExecuteFlipsShortToLong(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)
	short := &domain.Position{Side: domain.SideShort, Amount: 0.3, EntryPrice: 110}

	res, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalBuy, Reason: "reversal"}, short, 100, 0.1, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeOpenLong, res.Action)
	require.NotNil(t, res.PnL)
	assert.InDelta(t, 3.0, *res.PnL, 1e-9)
	assert.Contains(t, res.Reason, "closed Short pnl 3.00")
	assert.Contains(t, res.OrderDetails, "close:")

	assert.Equal(t, []placedOrder{
		{Symbol: "BTCUSDT", Side: binance.SideBuy, PositionSide: binance.PositionShort, Qty: "0.300"},
		{Symbol: "BTCUSDT", Side: binance.SideBuy, PositionSide: binance.PositionLong, Qty: "0.100"},
	}, ex.ordersFor("BTCUSDT"))
}

func TestExecuteFlipsLongToShort(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)
	long := &domain.Position{Side: domain.SideLong, Amount: 0.5, EntryPrice: 100}

	res, err := e.Execute(context.Background(), "ETHUSDT", domain.TradingDecision{Signal: domain.SignalSell}, long, 96, 0.1, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeOpenShort, res.Action)
	require.NotNil(t, res.PnL)
	assert.InDelta(t, -2.0, *res.PnL, 1e-9)

	orders := ex.ordersFor("ETHUSDT")
	require.Len(t, orders, 2)
	assert.Equal(t, binance.SideSell, orders[0].Side)
	assert.Equal(t, binance.PositionLong, orders[0].PositionSide)
	assert.Equal(t, "0.500", orders[0].Qty)
}

func TestExecuteAddsWithinMaxPosition(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)
	long := &domain.Position{Side: domain.SideLong, Amount: 0.5, EntryPrice: 100}

	res, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalBuy, Reason: "trend"}, long, 101, 0.5, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeOpenLong, res.Action)
	assert.Equal(t, "trend (add 0.5000 -> 1.0000)", res.Reason)
	assert.Len(t, ex.ordersFor("BTCUSDT"), 1)
}

func TestExecuteHoldsAtMaxPosition(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)
	short := &domain.Position{Side: domain.SideShort, Amount: 0.9, EntryPrice: 100}

	res, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalSell}, short, 99, 0.2, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeHold, res.Action)
	assert.Zero(t, res.Amount)
	assert.Contains(t, res.Reason, "max position reached 0.9000/1.0000")
	assert.Empty(t, ex.ordersFor("BTCUSDT"))
}

func TestExecuteHoldPlacesNothing(t *testing.T) {
	ex := newFakeExchange()
	e := NewExecutor(ex, 1)

	res, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalHold, Reason: "range"}, nil, 100, 0.1, testConstraints)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeHold, res.Action)
	assert.Equal(t, "range", res.Reason)
	assert.Empty(t, ex.ordersFor("BTCUSDT"))
}

func TestExecuteOrderFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.failOrder["BTCUSDT"] = &common.APIError{Code: binance.CodeMarginInsufficient, Message: "Margin is insufficient."}
	e := NewExecutor(ex, 1)

	_, err := e.Execute(context.Background(), "BTCUSDT", domain.TradingDecision{Signal: domain.SignalBuy}, nil, 100, 0.1, testConstraints)
	require.Error(t, err)
	assert.True(t, binance.IsCode(err, binance.CodeMarginInsufficient))

	ft := failedTrade("BTCUSDT", 100, e.now(), err)
	assert.True(t, ft.Failed)
	assert.Zero(t, ft.Amount)
	assert.Equal(t, domain.TradeHold, ft.Action)
	assert.Contains(t, ft.OrderDetails, "ERROR: ")
}
