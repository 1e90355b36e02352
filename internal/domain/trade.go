package domain

import "time"

// TradeAction is what the executor did for a symbol.
type TradeAction string

const (
	TradeOpenLong   TradeAction = "OPEN_LONG"
	TradeCloseLong  TradeAction = "CLOSE_LONG"
	TradeOpenShort  TradeAction = "OPEN_SHORT"
	TradeCloseShort TradeAction = "CLOSE_SHORT"
	TradeHold       TradeAction = "HOLD"
)

// TradeResult is the outcome of one execution attempt. Failed attempts are
// recorded with a zero amount and the error in OrderDetails.
type TradeResult struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Action       TradeAction `json:"action"`
	Price        float64     `json:"price"`
	Amount       float64     `json:"amount"`
	Timestamp    time.Time   `json:"timestamp"`
	Reason       string      `json:"reason"`
	PnL          *float64    `json:"pnl,omitempty"`
	OrderDetails string      `json:"order_details,omitempty"`
	Failed       bool        `json:"failed"`
}

// DecisionRecord is the persisted form of a final decision.
type DecisionRecord struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Decision  TradingDecision `json:"decision"`
	Position  *Position       `json:"position"`
}
