package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	raw, err := extractJSON("Sure!\n```json\n{\"a\":{\"b\":1}}\n```\nDone.")
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":1}}`, string(raw))

	_, err = extractJSON("no object here")
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = extractJSON("} backwards {")
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}

func TestParseMarketReport(t *testing.T) {
	r, err := parseMarketReport(`{"trend":"Bullish","strength":"STRONG","market_phase":"markup",
		"support":"114500.5","resistance":116000,"analysis":"breakout on volume"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendBullish, r.Trend)
	assert.Equal(t, domain.StrengthStrong, r.Strength)
	assert.Equal(t, domain.PhaseMarkup, r.MarketPhase)
	assert.Equal(t, 114500.5, r.Support)
	assert.Equal(t, 116000.0, r.Resistance)

	_, err = parseMarketReport(`{"trend":"sideways","strength":"weak","market_phase":"markup"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = parseMarketReport(`{"trend":"neutral","strength":"weak","market_phase":"markup","support":-1}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}

func TestParseStrategyAdvice(t *testing.T) {
	a, err := parseStrategyAdvice(`{"action":"OPEN_LONG","reasoning":"trend","timing_score":14,"target_side":"long"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOpenLong, a.Action)
	assert.Equal(t, 10, a.TimingScore)
	require.NotNil(t, a.TargetSide)
	assert.Equal(t, domain.SideLong, *a.TargetSide)

	a, err = parseStrategyAdvice(`{"action":"hold","timing_score":3,"target_side":null}`)
	require.NoError(t, err)
	assert.Nil(t, a.TargetSide)

	a, err = parseStrategyAdvice(`{"action":"hold","target_side":"null"}`)
	require.NoError(t, err)
	assert.Nil(t, a.TargetSide)

	_, err = parseStrategyAdvice(`{"action":"hold","target_side":"sideways"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = parseStrategyAdvice(`{"action":"buy_the_dip"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}

func TestParseRiskAssessment(t *testing.T) {
	r, err := parseRiskAssessment(`{"risk_level":"Medium","suggested_amount":0.004,"approval":"adjusted","reason":"size down"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskMedium, r.RiskLevel)
	assert.Equal(t, domain.ApprovalAdjusted, r.Approval)
	assert.Equal(t, 0.004, r.SuggestedAmount)
	assert.NotNil(t, r.Warnings)

	_, err = parseRiskAssessment(`{"risk_level":"low","suggested_amount":-0.1,"approval":"approved"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}

func TestParseTradingDecision(t *testing.T) {
	d, err := parseTradingDecision("```json\n{\"signal\":\"sell\",\"amount\":0.01,\"confidence\":\"high\",\"reason\":\"breakdown\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalSell, d.Signal)
	assert.Equal(t, domain.ConfidenceHigh, d.Confidence)
	assert.Equal(t, 0.01, d.Amount)

	_, err = parseTradingDecision(`{"signal":"SHORT","amount":0.01,"confidence":"HIGH"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = parseTradingDecision(`{"signal":"BUY","amount":"lots","confidence":"HIGH"}`)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}

func TestParseAllocationPlan(t *testing.T) {
	reply := `{"allocations":[
		{"symbol":"btcusdt","allocated_balance":300,"weight":0.3,"priority":"High","max_amount_override":0.005},
		{"symbol":"ETHUSDT","allocated_balance":200,"weight":1.7,"priority":"medium","max_amount_override":null},
		{"symbol":"DOGEUSDT","allocated_balance":100,"weight":0.1,"priority":"low"},
		{"symbol":"SOLUSDT","allocated_balance":0,"weight":-0.2,"priority":"skip","max_amount_override":0}
	],"total_available":1000,"strategy":"","reasoning":"spread"}`

	plan, err := parseAllocationPlan(reply, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, domain.StrategyConservative)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyConservative, plan.Strategy)
	assert.Equal(t, 1000.0, plan.TotalAvailable)
	require.Len(t, plan.Allocations, 3, "unknown symbols are dropped")

	btc := plan.Allocations["BTCUSDT"]
	assert.Equal(t, domain.PriorityHigh, btc.Priority)
	require.NotNil(t, btc.MaxAmountOverride)
	assert.Equal(t, 0.005, *btc.MaxAmountOverride)

	assert.Equal(t, 1.0, plan.Allocations["ETHUSDT"].Weight)
	assert.Nil(t, plan.Allocations["ETHUSDT"].MaxAmountOverride)

	sol := plan.Allocations["SOLUSDT"]
	assert.Equal(t, 0.0, sol.Weight)
	assert.Equal(t, domain.PrioritySkip, sol.Priority)
	assert.Nil(t, sol.MaxAmountOverride)
}

func TestParseAllocationPlanRejectsBadValues(t *testing.T) {
	_, err := parseAllocationPlan(`{"allocations":[{"symbol":"BTCUSDT","allocated_balance":-5,"priority":"high"}]}`,
		[]string{"BTCUSDT"}, domain.StrategyBalanced)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = parseAllocationPlan(`{"allocations":[{"symbol":"BTCUSDT","allocated_balance":5,"priority":"urgent"}]}`,
		[]string{"BTCUSDT"}, domain.StrategyBalanced)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)

	_, err = parseAllocationPlan(`{"allocations":[],"strategy":"yolo"}`, nil, domain.StrategyBalanced)
	assert.ErrorIs(t, err, domain.ErrMalformedDecision)
}
