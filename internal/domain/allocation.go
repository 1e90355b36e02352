package domain

// Priority ranks a symbol inside an allocation plan.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PrioritySkip   Priority = "skip"
)

// PortfolioStrategy is the operator-selected allocation style.
type PortfolioStrategy string

const (
	StrategyBalanced     PortfolioStrategy = "balanced"
	StrategyAggressive   PortfolioStrategy = "aggressive"
	StrategyConservative PortfolioStrategy = "conservative"
)

// Allocation is the budget assigned to one symbol for the current cycle.
type Allocation struct {
	Symbol            string   `json:"symbol"`
	AllocatedBalance  float64  `json:"allocated_balance"`
	Weight            float64  `json:"weight"`
	Priority          Priority `json:"priority"`
	MaxAmountOverride *float64 `json:"max_amount_override,omitempty"`
}

// AllocationPlan is produced once per cycle from all symbols' analyses.
type AllocationPlan struct {
	Allocations    map[string]Allocation `json:"allocations"`
	TotalAvailable float64               `json:"total_available"`
	Strategy       PortfolioStrategy     `json:"strategy"`
	Reasoning      string                `json:"reasoning"`
}
