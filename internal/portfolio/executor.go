package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/perpbot/internal/constraint"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/platform/binance"
)

// OrderPlacer submits market orders in hedge mode.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side binance.OrderSide, positionSide binance.PositionSide, qty string) (binance.OrderResult, error)
}

// Executor turns a final decision and a resolved quantity into orders
// against the current position. A signal against an open position closes
// it first and then opens the other side; a signal with the position adds
// to it up to maxPosition.
type Executor struct {
	orders      OrderPlacer
	maxPosition float64
	now         func() time.Time
}

// NewExecutor creates an Executor. maxPosition <= 0 disables the cap.
func NewExecutor(orders OrderPlacer, maxPosition float64) *Executor {
	return &Executor{
		orders:      orders,
		maxPosition: maxPosition,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Execute places the orders for one decision. The returned error is an
// order failure; the caller records it as a failed trade.
func (e *Executor) Execute(
	ctx context.Context,
	symbol string,
	decision domain.TradingDecision,
	pos *domain.Position,
	price, qty float64,
	c domain.SymbolConstraints,
) (domain.TradeResult, error) {
	res := domain.TradeResult{
		Symbol:    symbol,
		Action:    domain.TradeHold,
		Price:     price,
		Timestamp: e.now(),
		Reason:    decision.Reason,
	}

	var side domain.PositionSide
	switch decision.Signal {
	case domain.SignalBuy:
		side = domain.SideLong
	case domain.SignalSell:
		side = domain.SideShort
	default:
		return res, nil
	}

	openQty := constraint.FormatQuantity(qty, c.StepSize)

	switch {
	case pos == nil:
		info, err := e.open(ctx, symbol, side, openQty)
		if err != nil {
			return res, err
		}
		res.Action = openAction(side)
		res.Amount = qty
		res.OrderDetails = info

	case pos.Side != side:
		closeQty := constraint.FormatQuantity(pos.Amount, c.StepSize)
		closeInfo, err := e.close(ctx, symbol, pos.Side, closeQty)
		if err != nil {
			return res, fmt.Errorf("close %s: %w", pos.Side, err)
		}
		pnl := realizedPnL(pos, price)
		openInfo, err := e.open(ctx, symbol, side, openQty)
		if err != nil {
			return res, fmt.Errorf("open %s after closing (pnl %.2f): %w", side, pnl, err)
		}
		res.Action = openAction(side)
		res.Amount = qty
		res.PnL = &pnl
		res.Reason = fmt.Sprintf("%s (closed %s pnl %.2f)", decision.Reason, pos.Side, pnl)
		res.OrderDetails = fmt.Sprintf("close: %s, open: %s", closeInfo, openInfo)

	default:
		total := pos.Amount + qty
		if e.maxPosition > 0 && total > e.maxPosition {
			res.Reason = fmt.Sprintf("max position reached %.4f/%.4f, not adding", pos.Amount, e.maxPosition)
			return res, nil
		}
		info, err := e.open(ctx, symbol, side, openQty)
		if err != nil {
			return res, err
		}
		res.Action = openAction(side)
		res.Amount = qty
		res.Reason = fmt.Sprintf("%s (add %.4f -> %.4f)", decision.Reason, pos.Amount, total)
		res.OrderDetails = info
	}

	return res, nil
}

func (e *Executor) open(ctx context.Context, symbol string, side domain.PositionSide, qty string) (string, error) {
	orderSide, posSide := binance.SideBuy, binance.PositionLong
	if side == domain.SideShort {
		orderSide, posSide = binance.SideSell, binance.PositionShort
	}
	out, err := e.orders.PlaceMarketOrder(ctx, symbol, orderSide, posSide, qty)
	if err != nil {
		return "", err
	}
	return describeOrder(out), nil
}

func (e *Executor) close(ctx context.Context, symbol string, side domain.PositionSide, qty string) (string, error) {
	// Closing a long sells the LONG leg; closing a short buys the SHORT leg.
	orderSide, posSide := binance.SideSell, binance.PositionLong
	if side == domain.SideShort {
		orderSide, posSide = binance.SideBuy, binance.PositionShort
	}
	out, err := e.orders.PlaceMarketOrder(ctx, symbol, orderSide, posSide, qty)
	if err != nil {
		return "", err
	}
	return describeOrder(out), nil
}

func openAction(side domain.PositionSide) domain.TradeAction {
	if side == domain.SideShort {
		return domain.TradeOpenShort
	}
	return domain.TradeOpenLong
}

func realizedPnL(pos *domain.Position, price float64) float64 {
	if pos.Side == domain.SideShort {
		return (pos.EntryPrice - price) * pos.Amount
	}
	return (price - pos.EntryPrice) * pos.Amount
}

func describeOrder(o binance.OrderResult) string {
	return fmt.Sprintf("order %d %s avg=%g qty=%g", o.OrderID, o.Status, o.AvgPrice, o.ExecutedQty)
}

// failedTrade is the zero-amount record of a trade that could not be placed.
func failedTrade(symbol string, price float64, at time.Time, err error) domain.TradeResult {
	return domain.TradeResult{
		Symbol:       symbol,
		Action:       domain.TradeHold,
		Price:        price,
		Timestamp:    at,
		Reason:       "trade failed: " + err.Error(),
		OrderDetails: "ERROR: " + err.Error(),
		Failed:       true,
	}
}
