package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// extractJSON returns the text between the first '{' and the last '}',
// which strips markdown fences and prose around the object.
func extractJSON(reply string) ([]byte, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("agent: no JSON object in reply: %w", domain.ErrMalformedDecision)
	}
	return []byte(reply[start : end+1]), nil
}

func decodeReply(reply string, out any) error {
	raw, err := extractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("agent: decode reply: %w: %v", domain.ErrMalformedDecision, err)
	}
	return nil
}

// number accepts a JSON number, a numeric string or null.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = number(v)
	return nil
}

func malformed(field, value string) error {
	return fmt.Errorf("agent: %s %q: %w", field, value, domain.ErrMalformedDecision)
}

// enum matches value case-insensitively against allowed.
func enum[T ~string](field, value string, allowed ...T) (T, error) {
	v := strings.TrimSpace(value)
	for _, a := range allowed {
		if strings.EqualFold(v, string(a)) {
			return a, nil
		}
	}
	var zero T
	return zero, malformed(field, value)
}

func nonNegative(field string, v number) (float64, error) {
	if v < 0 {
		return 0, malformed(field, strconv.FormatFloat(float64(v), 'f', -1, 64))
	}
	return float64(v), nil
}

type wireMarketReport struct {
	Trend       string `json:"trend"`
	Strength    string `json:"strength"`
	MarketPhase string `json:"market_phase"`
	Support     number `json:"support"`
	Resistance  number `json:"resistance"`
	Analysis    string `json:"analysis"`
}

func parseMarketReport(reply string) (domain.MarketReport, error) {
	var w wireMarketReport
	if err := decodeReply(reply, &w); err != nil {
		return domain.MarketReport{}, err
	}
	trend, err := enum("trend", w.Trend, domain.TrendBullish, domain.TrendBearish, domain.TrendNeutral)
	if err != nil {
		return domain.MarketReport{}, err
	}
	strength, err := enum("strength", w.Strength, domain.StrengthStrong, domain.StrengthMedium, domain.StrengthWeak)
	if err != nil {
		return domain.MarketReport{}, err
	}
	phase, err := enum("market_phase", w.MarketPhase,
		domain.PhaseAccumulation, domain.PhaseMarkup, domain.PhaseDistribution, domain.PhaseMarkdown)
	if err != nil {
		return domain.MarketReport{}, err
	}
	support, err := nonNegative("support", w.Support)
	if err != nil {
		return domain.MarketReport{}, err
	}
	resistance, err := nonNegative("resistance", w.Resistance)
	if err != nil {
		return domain.MarketReport{}, err
	}
	return domain.MarketReport{
		Trend:       trend,
		Strength:    strength,
		MarketPhase: phase,
		Support:     support,
		Resistance:  resistance,
		Analysis:    w.Analysis,
	}, nil
}

type wireStrategyAdvice struct {
	Action      string  `json:"action"`
	Reasoning   string  `json:"reasoning"`
	TimingScore number  `json:"timing_score"`
	TargetSide  *string `json:"target_side"`
}

func parseStrategyAdvice(reply string) (domain.StrategyAdvice, error) {
	var w wireStrategyAdvice
	if err := decodeReply(reply, &w); err != nil {
		return domain.StrategyAdvice{}, err
	}
	action, err := enum("action", w.Action,
		domain.ActionOpenLong, domain.ActionOpenShort, domain.ActionAddPosition,
		domain.ActionClosePosition, domain.ActionHold)
	if err != nil {
		return domain.StrategyAdvice{}, err
	}

	score := int(w.TimingScore)
	score = max(0, min(10, score))

	adv := domain.StrategyAdvice{
		Action:      action,
		Reasoning:   w.Reasoning,
		TimingScore: score,
	}
	if w.TargetSide != nil {
		switch v := strings.TrimSpace(*w.TargetSide); strings.ToLower(v) {
		case "", "null", "none":
		default:
			side, err := enum("target_side", v, domain.SideLong, domain.SideShort)
			if err != nil {
				return domain.StrategyAdvice{}, err
			}
			adv.TargetSide = &side
		}
	}
	return adv, nil
}

type wireRiskAssessment struct {
	RiskLevel       string   `json:"risk_level"`
	SuggestedAmount number   `json:"suggested_amount"`
	Approval        string   `json:"approval"`
	Warnings        []string `json:"warnings"`
	Reason          string   `json:"reason"`
}

func parseRiskAssessment(reply string) (domain.RiskAssessment, error) {
	var w wireRiskAssessment
	if err := decodeReply(reply, &w); err != nil {
		return domain.RiskAssessment{}, err
	}
	level, err := enum("risk_level", w.RiskLevel, domain.RiskLow, domain.RiskMedium, domain.RiskHigh)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	approval, err := enum("approval", w.Approval,
		domain.ApprovalApproved, domain.ApprovalAdjusted, domain.ApprovalRejected)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	amount, err := nonNegative("suggested_amount", w.SuggestedAmount)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	warnings := w.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return domain.RiskAssessment{
		RiskLevel:       level,
		SuggestedAmount: amount,
		Approval:        approval,
		Warnings:        warnings,
		Reason:          w.Reason,
	}, nil
}

type wireTradingDecision struct {
	Signal     string `json:"signal"`
	Amount     number `json:"amount"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

func parseTradingDecision(reply string) (domain.TradingDecision, error) {
	var w wireTradingDecision
	if err := decodeReply(reply, &w); err != nil {
		return domain.TradingDecision{}, err
	}
	signal, err := enum("signal", w.Signal, domain.SignalBuy, domain.SignalSell, domain.SignalHold)
	if err != nil {
		return domain.TradingDecision{}, err
	}
	confidence, err := enum("confidence", w.Confidence,
		domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow)
	if err != nil {
		return domain.TradingDecision{}, err
	}
	amount, err := nonNegative("amount", w.Amount)
	if err != nil {
		return domain.TradingDecision{}, err
	}
	return domain.TradingDecision{
		Signal:     signal,
		Amount:     amount,
		Confidence: confidence,
		Reason:     w.Reason,
	}, nil
}

type wireAllocation struct {
	Symbol            string  `json:"symbol"`
	AllocatedBalance  number  `json:"allocated_balance"`
	Weight            number  `json:"weight"`
	Priority          string  `json:"priority"`
	MaxAmountOverride *number `json:"max_amount_override"`
}

type wireAllocationPlan struct {
	Allocations    []wireAllocation `json:"allocations"`
	TotalAvailable number           `json:"total_available"`
	Strategy       string           `json:"strategy"`
	Reasoning      string           `json:"reasoning"`
}

// parseAllocationPlan keeps only allocations for known symbols. Weights are
// clamped to [0,1]; an empty strategy tag becomes requested.
func parseAllocationPlan(reply string, known []string, requested domain.PortfolioStrategy) (domain.AllocationPlan, error) {
	var w wireAllocationPlan
	if err := decodeReply(reply, &w); err != nil {
		return domain.AllocationPlan{}, err
	}

	strategy := requested
	if strings.TrimSpace(w.Strategy) != "" {
		s, err := enum("strategy", w.Strategy,
			domain.StrategyBalanced, domain.StrategyAggressive, domain.StrategyConservative)
		if err != nil {
			return domain.AllocationPlan{}, err
		}
		strategy = s
	}
	total, err := nonNegative("total_available", w.TotalAvailable)
	if err != nil {
		return domain.AllocationPlan{}, err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, s := range known {
		knownSet[s] = struct{}{}
	}

	plan := domain.AllocationPlan{
		Allocations:    make(map[string]domain.Allocation, len(w.Allocations)),
		TotalAvailable: total,
		Strategy:       strategy,
		Reasoning:      w.Reasoning,
	}
	for _, a := range w.Allocations {
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if _, ok := knownSet[sym]; !ok {
			continue
		}
		priority, err := enum("priority", a.Priority,
			domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow, domain.PrioritySkip)
		if err != nil {
			return domain.AllocationPlan{}, err
		}
		balance, err := nonNegative("allocated_balance", a.AllocatedBalance)
		if err != nil {
			return domain.AllocationPlan{}, err
		}
		alloc := domain.Allocation{
			Symbol:           sym,
			AllocatedBalance: balance,
			Weight:           max(0, min(1, float64(a.Weight))),
			Priority:         priority,
		}
		if a.MaxAmountOverride != nil {
			override, err := nonNegative("max_amount_override", *a.MaxAmountOverride)
			if err != nil {
				return domain.AllocationPlan{}, err
			}
			if override > 0 {
				alloc.MaxAmountOverride = &override
			}
		}
		plan.Allocations[sym] = alloc
	}
	return plan, nil
}
