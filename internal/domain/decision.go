package domain

// Trend is the direction reported by the market analysis provider.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// TrendStrength grades a trend.
type TrendStrength string

const (
	StrengthStrong TrendStrength = "strong"
	StrengthMedium TrendStrength = "medium"
	StrengthWeak   TrendStrength = "weak"
)

// MarketPhase is the Wyckoff-style phase of the market.
type MarketPhase string

const (
	PhaseAccumulation MarketPhase = "accumulation"
	PhaseMarkup       MarketPhase = "markup"
	PhaseDistribution MarketPhase = "distribution"
	PhaseMarkdown     MarketPhase = "markdown"
)

// MarketReport is the output of the market analysis provider.
type MarketReport struct {
	Trend       Trend         `json:"trend"`
	Strength    TrendStrength `json:"strength"`
	MarketPhase MarketPhase   `json:"market_phase"`
	Support     float64       `json:"support"`
	Resistance  float64       `json:"resistance"`
	Analysis    string        `json:"analysis"`
}

// StrategyAction is the action suggested by the strategy provider.
type StrategyAction string

const (
	ActionOpenLong      StrategyAction = "open_long"
	ActionOpenShort     StrategyAction = "open_short"
	ActionAddPosition   StrategyAction = "add_position"
	ActionClosePosition StrategyAction = "close_position"
	ActionHold          StrategyAction = "hold"
)

// StrategyAdvice is the output of the strategy provider.
type StrategyAdvice struct {
	Action      StrategyAction `json:"action"`
	Reasoning   string         `json:"reasoning"`
	TimingScore int            `json:"timing_score"`
	TargetSide  *PositionSide  `json:"target_side,omitempty"`
}

// RiskLevel grades the risk of a proposed trade.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Approval is the risk provider's verdict.
type Approval string

const (
	ApprovalApproved Approval = "approved"
	ApprovalAdjusted Approval = "adjusted"
	ApprovalRejected Approval = "rejected"
)

// RiskAssessment is the output of the risk provider.
type RiskAssessment struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	SuggestedAmount float64   `json:"suggested_amount"`
	Approval        Approval  `json:"approval"`
	Warnings        []string  `json:"warnings"`
	Reason          string    `json:"reason"`
}

// Signal is the final trade direction.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Confidence grades a final decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// TradingDecision is the final signal for one symbol in one cycle.
type TradingDecision struct {
	Signal     Signal     `json:"signal"`
	Amount     float64    `json:"amount"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}

// Neutral reports whether the decision asks for no trade.
func (d TradingDecision) Neutral() bool {
	return d.Signal != SignalBuy && d.Signal != SignalSell
}
