package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// rateLimitKey is shared by every replica talking to the same provider.
const rateLimitKey = "perpbot:ratelimit:agent"

// Completer sends one system and one user message and returns the reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLMProvider implements Provider with prompts over a chat model. Calls are
// never retried.
type LLMProvider struct {
	chat        Completer
	limiter     domain.RateLimiter
	callsPerMin int
	logger      *slog.Logger
}

// ProviderOption customises an LLMProvider.
type ProviderOption func(*LLMProvider)

// WithRateLimit caps model calls per minute across all replicas sharing the
// limiter's backend. A non-positive limit disables it.
func WithRateLimit(limiter domain.RateLimiter, callsPerMinute int) ProviderOption {
	return func(p *LLMProvider) {
		if limiter != nil && callsPerMinute > 0 {
			p.limiter = limiter
			p.callsPerMin = callsPerMinute
		}
	}
}

// NewLLMProvider creates a provider on top of chat.
func NewLLMProvider(chat Completer, logger *slog.Logger, opts ...ProviderOption) *LLMProvider {
	p := &LLMProvider{
		chat:   chat,
		logger: logger.With(slog.String("component", "agent")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *LLMProvider) ask(ctx context.Context, role, symbol, system, user string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rateLimitKey, p.callsPerMin, time.Minute); err != nil {
			return "", fmt.Errorf("agent: %s: rate limit: %w", role, err)
		}
	}

	start := time.Now()
	reply, err := p.chat.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("agent: %s: %w", role, err)
	}
	p.logger.Debug("provider replied",
		slog.String("role", role),
		slog.String("symbol", symbol),
		slog.Duration("took", time.Since(start)),
	)
	return reply, nil
}

func (p *LLMProvider) MarketAnalysis(ctx context.Context, in MarketInput) (domain.MarketReport, error) {
	reply, err := p.ask(ctx, "market_analyst", in.Symbol, marketAnalystSystem, buildMarketPrompt(in))
	if err != nil {
		return domain.MarketReport{}, err
	}
	return parseMarketReport(reply)
}

func (p *LLMProvider) StrategyAdvice(ctx context.Context, in StrategyInput) (domain.StrategyAdvice, error) {
	reply, err := p.ask(ctx, "strategy_researcher", in.Symbol, strategyResearcherSystem, buildStrategyPrompt(in))
	if err != nil {
		return domain.StrategyAdvice{}, err
	}
	return parseStrategyAdvice(reply)
}

func (p *LLMProvider) RiskAssessment(ctx context.Context, in RiskInput) (domain.RiskAssessment, error) {
	reply, err := p.ask(ctx, "risk_manager", in.Symbol, riskManagerSystem, buildRiskPrompt(in))
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return parseRiskAssessment(reply)
}

func (p *LLMProvider) FinalSignal(ctx context.Context, in SignalInput) (domain.TradingDecision, error) {
	reply, err := p.ask(ctx, "trade_executor", in.Symbol, tradeExecutorSystem, buildSignalPrompt(in))
	if err != nil {
		return domain.TradingDecision{}, err
	}
	return parseTradingDecision(reply)
}

func (p *LLMProvider) Allocate(ctx context.Context, in AllocationInput) (domain.AllocationPlan, error) {
	reply, err := p.ask(ctx, "portfolio_coordinator", "", portfolioCoordinatorSystem, buildAllocationPrompt(in))
	if err != nil {
		return domain.AllocationPlan{}, err
	}
	known := make([]string, len(in.Reports))
	for i, r := range in.Reports {
		known[i] = r.Symbol
	}
	return parseAllocationPlan(reply, known, in.Strategy)
}
