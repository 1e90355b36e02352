package domain

import "time"

// PerformanceSnapshot summarises realized results across all trades.
type PerformanceSnapshot struct {
	TotalRealizedPnL float64    `json:"total_realized_pnl"`
	TotalTrades      uint64     `json:"total_trades"`
	WinningTrades    uint64     `json:"winning_trades"`
	LosingTrades     uint64     `json:"losing_trades"`
	BestTrade        *float64   `json:"best_trade"`
	WorstTrade       *float64   `json:"worst_trade"`
	EquityPeak       float64    `json:"equity_peak"`
	MaxDrawdown      float64    `json:"max_drawdown"`
	LastUpdate       *time.Time `json:"last_update"`
}
