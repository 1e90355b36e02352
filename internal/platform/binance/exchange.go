package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// SymbolConstraints fetches the trading rules for the given symbols. Every
// requested symbol must be listed by the exchange; a missing one fails the
// whole call with domain.ErrUnknownSymbol.
func (c *Client) SymbolConstraints(ctx context.Context, symbols []string) (map[string]domain.SymbolConstraints, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, wrap("exchange info", err)
	}

	bySymbol := make(map[string]*futures.Symbol, len(info.Symbols))
	for i := range info.Symbols {
		bySymbol[info.Symbols[i].Symbol] = &info.Symbols[i]
	}

	out := make(map[string]domain.SymbolConstraints, len(symbols))
	for _, sym := range symbols {
		s, ok := bySymbol[sym]
		if !ok {
			return nil, fmt.Errorf("binance: exchange info: %s: %w", sym, domain.ErrUnknownSymbol)
		}
		out[sym] = toConstraints(s)
	}
	return out, nil
}

// Account returns the futures wallet balance as a fresh snapshot.
func (c *Client) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	acc, err := c.api.NewGetAccountService().Do(ctx, c.window())
	if err != nil {
		return domain.AccountSnapshot{}, wrap("account", err)
	}
	return domain.AccountSnapshot{
		TotalBalance:     parseFloat(acc.TotalWalletBalance),
		AvailableBalance: parseFloat(acc.AvailableBalance),
		Source:           domain.SnapshotFromQuery,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// Position returns the open position for symbol, or nil when flat. In hedge
// mode the larger of the two legs is reported.
func (c *Client) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	risks, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx, c.window())
	if err != nil {
		return nil, wrap("position "+symbol, err)
	}

	records := make([]domain.PositionRecord, 0, len(risks))
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		records = append(records, toRecord(r))
	}
	return domain.PickPosition(records), nil
}

// Price returns the latest traded price for symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, wrap("price "+symbol, err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("binance: price %s: parse %q: %w", symbol, p.Price, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("binance: price %s: %w", symbol, domain.ErrNotFound)
}

// PlaceMarketOrder submits a MARKET order on one hedge-mode leg. qty must
// already be formatted to the symbol's step size.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, positionSide PositionSide, qty string) (OrderResult, error) {
	o, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		PositionSide(positionSide).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx, c.window())
	if err != nil {
		return OrderResult{}, wrap(fmt.Sprintf("%s %s %s %s", side, positionSide, qty, symbol), err)
	}
	return OrderResult{
		OrderID:     o.OrderID,
		Status:      string(o.Status),
		AvgPrice:    parseFloat(o.AvgPrice),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
	}, nil
}

// SetLeverage sets the initial leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx, c.window()); err != nil {
		return wrap(fmt.Sprintf("set leverage %s x%d", symbol, leverage), err)
	}
	return nil
}

// SetDualPosition switches hedge mode on or off. Asking for the mode that is
// already active succeeds.
func (c *Client) SetDualPosition(ctx context.Context, dual bool) error {
	err := c.api.NewChangePositionModeService().DualSide(dual).Do(ctx, c.window())
	if err != nil && !IsCode(err, CodeNoNeedToChangePositionSide) {
		return wrap("set dual position", err)
	}
	return nil
}

// StartListenKey opens a user-data stream session and returns its key.
func (c *Client) StartListenKey(ctx context.Context) (string, error) {
	key, err := c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", wrap("start listen key", err)
	}
	if key == "" {
		return "", errors.New("binance: start listen key: empty key")
	}
	return key, nil
}

// KeepaliveListenKey extends the user-data stream session for listenKey.
func (c *Client) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	if err := c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return wrap("keepalive listen key", err)
	}
	return nil
}

// CloseListenKey ends the user-data stream session for listenKey.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	if err := c.api.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return wrap("close listen key", err)
	}
	return nil
}
