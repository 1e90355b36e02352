package domain

import "math"

// FlatEpsilon is the absolute amount below which a position counts as flat.
const FlatEpsilon = 1e-4

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "Long"
	SideShort PositionSide = "Short"
)

// Position is an open position. A nil *Position means flat.
type Position struct {
	Side          PositionSide `json:"side"`
	Amount        float64      `json:"amount"`
	EntryPrice    float64      `json:"entry_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
}

// PositionRecord is one raw position entry as reported by the exchange, with
// a signed amount (negative = short).
type PositionRecord struct {
	Symbol        string
	SignedAmount  float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// PickPosition reduces the exchange records for one symbol to a single
// position. Hedge mode reports one record per side; the one with the larger
// absolute amount wins. Amounts under FlatEpsilon are ignored.
func PickPosition(records []PositionRecord) *Position {
	var best *Position
	for _, r := range records {
		amt := math.Abs(r.SignedAmount)
		if amt < FlatEpsilon {
			continue
		}
		if best != nil && amt <= best.Amount {
			continue
		}
		side := SideLong
		if r.SignedAmount < 0 {
			side = SideShort
		}
		best = &Position{
			Side:          side,
			Amount:        amt,
			EntryPrice:    r.EntryPrice,
			UnrealizedPnL: r.UnrealizedPnL,
		}
	}
	return best
}
