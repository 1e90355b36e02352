// Package agent holds the decision providers: five prompt-driven calls that
// turn market data into reports, advice, risk verdicts, final signals and a
// portfolio allocation.
package agent

import (
	"context"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Provider is the set of decisions one trading cycle asks for.
type Provider interface {
	MarketAnalysis(ctx context.Context, in MarketInput) (domain.MarketReport, error)
	StrategyAdvice(ctx context.Context, in StrategyInput) (domain.StrategyAdvice, error)
	RiskAssessment(ctx context.Context, in RiskInput) (domain.RiskAssessment, error)
	FinalSignal(ctx context.Context, in SignalInput) (domain.TradingDecision, error)
	Allocate(ctx context.Context, in AllocationInput) (domain.AllocationPlan, error)
}

// MarketInput feeds the market analysis for one symbol.
type MarketInput struct {
	Symbol     string
	Interval   string
	Klines     []domain.Kline
	Indicators domain.Indicators
	Position   *domain.Position
}

// StrategyInput feeds the strategy advice for one symbol.
type StrategyInput struct {
	Symbol   string
	Report   domain.MarketReport
	Position *domain.Position
}

// RiskInput feeds the risk assessment for one symbol.
type RiskInput struct {
	Symbol      string
	Report      domain.MarketReport
	Advice      domain.StrategyAdvice
	Account     domain.AccountSnapshot
	Allocation  domain.Allocation
	Position    *domain.Position
	MinAmount   float64
	MaxAmount   float64
	MaxPosition float64
}

// SignalInput feeds the final decision for one symbol.
type SignalInput struct {
	Symbol    string
	Report    domain.MarketReport
	Advice    domain.StrategyAdvice
	Risk      domain.RiskAssessment
	Position  *domain.Position
	MinAmount float64
	MaxAmount float64
}

// SymbolReport pairs a symbol with its market report.
type SymbolReport struct {
	Symbol string
	Report domain.MarketReport
}

// AllocationInput feeds the single portfolio allocation call of a cycle.
type AllocationInput struct {
	Reports        []SymbolReport
	TotalAvailable float64
	Strategy       domain.PortfolioStrategy
}
