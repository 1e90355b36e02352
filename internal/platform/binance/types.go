package binance

import (
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OrderSide is the order direction.
type OrderSide = futures.SideType

// PositionSide is the hedge-mode leg an order applies to.
type PositionSide = futures.PositionSideType

const (
	SideBuy  = futures.SideTypeBuy
	SideSell = futures.SideTypeSell

	PositionLong  = futures.PositionSideTypeLong
	PositionShort = futures.PositionSideTypeShort
)

// OrderResult is the exchange acknowledgement of a market order.
type OrderResult struct {
	OrderID     int64
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}

// toConstraints reads LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL. A zero
// maxQty means the exchange sets no upper bound.
func toConstraints(s *futures.Symbol) domain.SymbolConstraints {
	c := domain.SymbolConstraints{Symbol: s.Symbol}
	if f := s.LotSizeFilter(); f != nil {
		c.StepSize = parseFloat(f.StepSize)
		c.MinQty = parseFloat(f.MinQuantity)
		if mq := parseFloat(f.MaxQuantity); mq > 0 {
			c.MaxQty = &mq
		}
	}
	if f := s.PriceFilter(); f != nil {
		c.TickSize = parseFloat(f.TickSize)
	}
	if f := s.MinNotionalFilter(); f != nil {
		c.MinNotional = parseFloat(f.Notional)
	}
	return c
}

func toRecord(p *futures.PositionRisk) domain.PositionRecord {
	return domain.PositionRecord{
		Symbol:        p.Symbol,
		SignedAmount:  parseFloat(p.PositionAmt),
		EntryPrice:    parseFloat(p.EntryPrice),
		UnrealizedPnL: parseFloat(p.UnRealizedProfit),
	}
}

// parseFloat follows the exchange convention that a missing or malformed
// numeric string is zero.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
