package agent

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// recentKlines is how many candles the market prompt lists verbatim.
const recentKlines = 10

const marketAnalystSystem = `You are a senior crypto market analyst for USDT-margined perpetual futures.
Read the candles and indicators you are given and classify the market:
- trend direction and strength, confirmed by moving average alignment, momentum and volume;
- market phase (accumulation, markup, distribution, markdown);
- the nearest support and resistance levels from recent lows/highs and moving averages.

Reply with JSON only:
{"trend":"bullish|bearish|neutral","strength":"strong|medium|weak","market_phase":"accumulation|markup|distribution|markdown","support":0.0,"resistance":0.0,"analysis":"one or two sentences"}`

const strategyResearcherSystem = `You are a futures strategy researcher. Given a market report and the current
position, choose one action:
- open_long / open_short when flat and the trend is clear;
- add_position when the trend confirms an existing position;
- close_position when the trend turns against the position or profit should be taken;
- hold when signals conflict.
Score entry timing from 0 (terrible) to 10 (ideal). target_side is the side
you want to hold afterwards, or null.

Reply with JSON only:
{"action":"open_long|open_short|add_position|close_position|hold","reasoning":"short","timing_score":7,"target_side":"Long|Short|null"}`

const riskManagerSystem = `You are the risk manager of a leveraged futures book. You may approve,
adjust or reject a proposed trade. Consider the available balance, the
symbol's allocation, the current position against the position limit and the
distance to support and resistance. suggested_amount is in base asset units
and must stay within the given minimum and maximum.

Reply with JSON only:
{"risk_level":"low|medium|high","suggested_amount":0.001,"approval":"approved|adjusted|rejected","warnings":["..."],"reason":"short"}`

const tradeExecutorSystem = `You are the execution trader. Combine the market report, the strategy
advice and the risk verdict into one final signal:
- BUY opens a long, or closes a short and then opens a long;
- SELL opens a short, or closes a long and then opens a short;
- HOLD does nothing.
A rejected risk verdict means HOLD. amount is in base asset units within the
given limits.

Reply with JSON only:
{"signal":"BUY|SELL|HOLD","amount":0.001,"confidence":"HIGH|MEDIUM|LOW","reason":"short"}`

const portfolioCoordinatorSystem = `You are the portfolio coordinator. Split the available balance across the
symbols using their market reports and the requested strategy:
- balanced: spread evenly across tradable symbols;
- aggressive: about 80% to strong signals, 20% to medium ones;
- conservative: strong signals only, keep at least half in cash.
Rules: no single weight above 0.6, keep at least 30% of the balance
unallocated, total weight at most 1.0. Priority is high, medium, low or skip.
max_amount_override optionally raises or lowers the per-trade quantity cap.
Include every symbol in allocations.

Reply with JSON only:
{"allocations":[{"symbol":"BTCUSDT","allocated_balance":300.0,"weight":0.3,"priority":"high|medium|low|skip","max_amount_override":null}],"total_available":0.0,"strategy":"balanced|aggressive|conservative","reasoning":"short"}`

func describePosition(pos *domain.Position) string {
	if pos == nil {
		return "flat (no open position)"
	}
	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Amount; notional > 0 {
		pnlPct = pos.UnrealizedPnL / notional * 100
	}
	return fmt.Sprintf("%s %.4f @ %.2f, unrealized PnL %.2f USDT (%+.2f%%)",
		pos.Side, pos.Amount, pos.EntryPrice, pos.UnrealizedPnL, pnlPct)
}

func buildMarketPrompt(in MarketInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s (interval %s)\n", in.Symbol, in.Interval)
	fmt.Fprintf(&b, "Position: %s\n\n", describePosition(in.Position))

	klines := in.Klines
	if len(klines) > recentKlines {
		klines = klines[len(klines)-recentKlines:]
	}
	b.WriteString("Recent candles (oldest first): time open high low close volume\n")
	for _, k := range klines {
		fmt.Fprintf(&b, "%s %.4f %.4f %.4f %.4f %.2f\n",
			k.OpenTime.Format("01-02 15:04"), k.Open, k.High, k.Low, k.Close, k.Volume)
	}

	ind := in.Indicators
	alignment := "bearish (SMA5 below SMA20)"
	if ind.SMA5 > ind.SMA20 {
		alignment = "bullish (SMA5 above SMA20)"
	}
	fmt.Fprintf(&b, "\nIndicators:\n")
	fmt.Fprintf(&b, "SMA5 %.4f, SMA20 %.4f, SMA50 %.4f, SMA100 %.4f, alignment %s\n",
		ind.SMA5, ind.SMA20, ind.SMA50, ind.SMA100, alignment)
	fmt.Fprintf(&b, "Change 1/3/6/12 bars: %+.2f%% %+.2f%% %+.2f%% %+.2f%%\n",
		ind.Change1, ind.Change3, ind.Change6, ind.Change12)
	fmt.Fprintf(&b, "ATR14 %.4f (%.2f%% of price), volume ratio %.2f, RSI14 %.1f\n",
		ind.ATR14, ind.ATRPercent, ind.VolumeRatio, ind.RSI14)
	return b.String()
}

func writeReport(b *strings.Builder, r domain.MarketReport) {
	fmt.Fprintf(b, "Market report: trend %s (%s), phase %s, support %.2f, resistance %.2f\n",
		r.Trend, r.Strength, r.MarketPhase, r.Support, r.Resistance)
	fmt.Fprintf(b, "Analysis: %s\n", r.Analysis)
}

func writeAdvice(b *strings.Builder, a domain.StrategyAdvice) {
	target := "none"
	if a.TargetSide != nil {
		target = string(*a.TargetSide)
	}
	fmt.Fprintf(b, "Strategy advice: %s, timing %d/10, target side %s\n", a.Action, a.TimingScore, target)
	fmt.Fprintf(b, "Reasoning: %s\n", a.Reasoning)
}

func buildStrategyPrompt(in StrategyInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", in.Symbol)
	writeReport(&b, in.Report)
	fmt.Fprintf(&b, "Position: %s\n", describePosition(in.Position))
	return b.String()
}

func buildRiskPrompt(in RiskInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", in.Symbol)
	writeReport(&b, in.Report)
	writeAdvice(&b, in.Advice)

	held := 0.0
	if in.Position != nil {
		held = in.Position.Amount
	}
	utilisation := 0.0
	if in.MaxPosition > 0 {
		utilisation = held / in.MaxPosition * 100
	}
	fmt.Fprintf(&b, "Account: total %.2f USDT, available %.2f USDT, margin in use %.2f USDT\n",
		in.Account.TotalBalance, in.Account.AvailableBalance, in.Account.TotalBalance-in.Account.AvailableBalance)
	fmt.Fprintf(&b, "Allocation: %.2f USDT (weight %.2f, priority %s)\n",
		in.Allocation.AllocatedBalance, in.Allocation.Weight, in.Allocation.Priority)
	fmt.Fprintf(&b, "Position: %s\n", describePosition(in.Position))
	fmt.Fprintf(&b, "Limits: trade amount %.4f..%.4f, max position %.4f (%.0f%% used)\n",
		in.MinAmount, in.MaxAmount, in.MaxPosition, utilisation)
	return b.String()
}

func buildSignalPrompt(in SignalInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", in.Symbol)
	writeReport(&b, in.Report)
	writeAdvice(&b, in.Advice)
	fmt.Fprintf(&b, "Risk verdict: %s, risk %s, suggested amount %.4f\n",
		in.Risk.Approval, in.Risk.RiskLevel, in.Risk.SuggestedAmount)
	if len(in.Risk.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings: %s\n", strings.Join(in.Risk.Warnings, "; "))
	}
	fmt.Fprintf(&b, "Reason: %s\n", in.Risk.Reason)
	fmt.Fprintf(&b, "Position: %s\n", describePosition(in.Position))
	fmt.Fprintf(&b, "Amount limits: %.4f..%.4f\n", in.MinAmount, in.MaxAmount)
	return b.String()
}

func signalQuality(r domain.MarketReport) string {
	switch {
	case r.Strength == domain.StrengthStrong && r.MarketPhase == domain.PhaseMarkup:
		return "excellent"
	case r.Strength == domain.StrengthStrong:
		return "good"
	case r.Strength == domain.StrengthMedium:
		return "fair"
	default:
		return "weak"
	}
}

func buildAllocationPrompt(in AllocationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Available balance: %.2f USDT\n", in.TotalAvailable)
	fmt.Fprintf(&b, "Symbols: %d\nStrategy: %s\n\n", len(in.Reports), in.Strategy)
	for i, sr := range in.Reports {
		fmt.Fprintf(&b, "%d. %s (signal quality %s)\n", i+1, sr.Symbol, signalQuality(sr.Report))
		writeReport(&b, sr.Report)
		b.WriteString("\n")
	}
	return b.String()
}
