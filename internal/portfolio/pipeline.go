// Package portfolio runs the trading cycle: parallel per-symbol analysis, a
// single cross-symbol allocation, then parallel per-symbol decisions and
// orders with failures isolated per symbol.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/agent"
	"github.com/alanyoungcy/perpbot/internal/constraint"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/sizing"
)

const cycleLockKey = "perpbot:cycle"

// CycleStream is the durable stream of cycle summaries.
const CycleStream = "perpbot:cycles"

// FailurePolicy decides what an analysis failure does to the cycle.
type FailurePolicy string

const (
	// FailAbort aborts the whole cycle on any analysis failure.
	FailAbort FailurePolicy = "abort"
	// FailExclude drops only the failed symbols from allocation and execution.
	FailExclude FailurePolicy = "exclude"
)

// Config holds the cycle parameters.
type Config struct {
	Symbols         []string
	KlineInterval   string
	KlineLimit      int
	MinAmount       float64
	MaxAmount       float64
	MaxPosition     float64
	Strategy        domain.PortfolioStrategy
	AnalysisFailure FailurePolicy
	Interval        time.Duration
	CycleTimeout    time.Duration
}

// Exchange is the slice of the exchange the cycle needs.
type Exchange interface {
	OrderPlacer
	Account(ctx context.Context) (domain.AccountSnapshot, error)
	Position(ctx context.Context, symbol string) (*domain.Position, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// KlineSource returns recent candles for a symbol.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error)
}

// AccountReader returns the latest account snapshot.
type AccountReader interface {
	Read(ctx context.Context) (domain.AccountSnapshot, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option configures optional collaborators of a Pipeline.
type Option func(*Pipeline)

// WithLock guards every cycle with a distributed lock.
func WithLock(lm domain.LockManager) Option {
	return func(p *Pipeline) { p.lock = lm }
}

// WithNotifier sends cycle failures to the operator.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithAudit writes cycle failures to the audit log.
func WithAudit(a domain.AuditStore) Option {
	return func(p *Pipeline) { p.audit = a }
}

// WithBus appends cycle summaries to the event stream.
func WithBus(b domain.SignalBus) Option {
	return func(p *Pipeline) { p.bus = b }
}

// Pipeline owns the cycle cache and runs cycles.
type Pipeline struct {
	cfg         Config
	exchange    Exchange
	accounts    AccountReader
	klines      KlineSource
	provider    agent.Provider
	sink        domain.TradeSink
	constraints map[string]domain.SymbolConstraints
	executor    *Executor

	lock     domain.LockManager
	notifier Notifier
	audit    domain.AuditStore
	bus      domain.SignalBus

	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache domain.CycleCache
	last  *domain.CycleSummary
}

// New creates a Pipeline. constraints must hold every configured symbol the
// bot is allowed to trade; a symbol without constraints is never executed.
func New(
	cfg Config,
	exchange Exchange,
	accounts AccountReader,
	klines KlineSource,
	provider agent.Provider,
	sink domain.TradeSink,
	constraints map[string]domain.SymbolConstraints,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	if cfg.AnalysisFailure == "" {
		cfg.AnalysisFailure = FailAbort
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	p := &Pipeline{
		cfg:         cfg,
		exchange:    exchange,
		accounts:    accounts,
		klines:      klines,
		provider:    provider,
		sink:        sink,
		constraints: constraints,
		executor:    NewExecutor(exchange, cfg.MaxPosition),
		logger:      logger.With(slog.String("component", "portfolio")),
		now:         func() time.Time { return time.Now().UTC() },
		cache:       make(domain.CycleCache),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Cache returns a copy of the cycle cache.
func (p *Pipeline) Cache() domain.CycleCache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache.Clone()
}

// LastCycle returns the summary of the most recent cycle, if any.
func (p *Pipeline) LastCycle() (domain.CycleSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return domain.CycleSummary{}, false
	}
	return *p.last, true
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. A failed cycle never stops the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("portfolio pipeline starting",
		slog.Any("symbols", p.cfg.Symbols),
		slog.Duration("interval", p.cfg.Interval),
		slog.String("strategy", string(p.cfg.Strategy)),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("portfolio pipeline stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	err := p.RunCycle(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	p.logger.Error("cycle failed", slog.String("error", err.Error()))
	p.resetCache()

	if p.notifier != nil {
		if nerr := p.notifier.Notify(ctx, "cycle_failed", "Cycle failed", err.Error()); nerr != nil {
			p.logger.Warn("cycle failure notification failed", slog.String("error", nerr.Error()))
		}
	}
	if p.audit != nil {
		if aerr := p.audit.Log(ctx, "cycle_failed", map[string]any{"error": err.Error()}); aerr != nil {
			p.logger.Warn("audit log failed", slog.String("error", aerr.Error()))
		}
	}
}

// RunCycle runs one full cycle.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	if p.lock != nil {
		unlock, err := p.lock.Acquire(ctx, cycleLockKey, p.cfg.Interval)
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.Warn("cycle lock held by another instance, skipping cycle")
			return nil
		}
		if err != nil {
			return fmt.Errorf("portfolio: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	if p.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CycleTimeout)
		defer cancel()
	}

	summary := domain.CycleSummary{
		ID:        uuid.NewString(),
		StartedAt: p.now(),
		Strategy:  p.cfg.Strategy,
	}
	err := p.runPhases(ctx, &summary)
	summary.FinishedAt = p.now()
	if err != nil {
		summary.Error = err.Error()
	}
	p.finish(ctx, summary)
	return err
}

// analysis is the Phase 1 output for one symbol.
type analysis struct {
	symbol   string
	report   domain.MarketReport
	position *domain.Position
}

// outcome is the Phase 3 output for one symbol. A nil entry keeps the prior
// cache entry; drop removes it so the next cycle queries afresh.
type outcome struct {
	entry  *domain.CacheEntry
	drop   bool
	traded bool
}

func (p *Pipeline) runPhases(ctx context.Context, summary *domain.CycleSummary) error {
	prior := p.Cache()

	analyses, excluded, err := p.analyze(ctx, prior)
	if err != nil {
		return err
	}
	for _, a := range analyses {
		summary.Analyzed = append(summary.Analyzed, a.symbol)
	}
	summary.Excluded = excluded

	plan, err := p.allocate(ctx, analyses)
	if err != nil {
		return err
	}

	next := prior.Clone()
	for _, sym := range excluded {
		delete(next, sym)
	}

	type task struct {
		a       analysis
		alloc   domain.Allocation
		ceiling float64
	}
	var tasks []task
	for _, a := range analyses {
		alloc, ceiling, reason := p.eligible(a.symbol, plan)
		if reason != "" {
			p.logger.Info("symbol not executed",
				slog.String("symbol", a.symbol),
				slog.String("reason", reason),
			)
			next[a.symbol] = domain.CacheEntry{Position: a.position}
			continue
		}
		tasks = append(tasks, task{a: a, alloc: alloc, ceiling: ceiling})
	}

	outcomes := make([]outcome, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = p.decideAndExecute(ctx, t.a, t.alloc, t.ceiling)
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range tasks {
		o := outcomes[i]
		summary.Executed = append(summary.Executed, t.a.symbol)
		if o.traded {
			summary.Trades++
		}
		switch {
		case o.drop:
			delete(next, t.a.symbol)
		case o.entry != nil:
			next[t.a.symbol] = *o.entry
		}
	}

	p.mu.Lock()
	p.cache = next
	p.mu.Unlock()
	return nil
}

// analyze is Phase 1. Every symbol runs to completion; the failure policy is
// applied after the barrier.
func (p *Pipeline) analyze(ctx context.Context, prior domain.CycleCache) ([]analysis, []string, error) {
	results := make([]analysis, len(p.cfg.Symbols))
	errs := make([]error, len(p.cfg.Symbols))

	var g errgroup.Group
	for i, sym := range p.cfg.Symbols {
		entry, cached := prior[sym]
		g.Go(func() error {
			results[i], errs[i] = p.analyzeSymbol(ctx, sym, entry, cached)
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok       []analysis
		excluded []string
		failures []error
	)
	for i, sym := range p.cfg.Symbols {
		if errs[i] != nil {
			failures = append(failures, fmt.Errorf("%s: %w", sym, errs[i]))
			excluded = append(excluded, sym)
			continue
		}
		ok = append(ok, results[i])
	}

	if len(failures) > 0 {
		joined := errors.Join(failures...)
		if p.cfg.AnalysisFailure != FailExclude {
			return nil, nil, fmt.Errorf("portfolio: analysis: %w", joined)
		}
		p.logger.Warn("excluding symbols after analysis failure",
			slog.Any("symbols", excluded),
			slog.String("error", joined.Error()),
		)
	}
	if len(ok) == 0 {
		return nil, nil, errors.New("portfolio: analysis: no symbol could be analysed")
	}
	return ok, excluded, nil
}

func (p *Pipeline) analyzeSymbol(ctx context.Context, symbol string, entry domain.CacheEntry, cached bool) (analysis, error) {
	klines, err := p.klines.Klines(ctx, symbol, p.cfg.KlineInterval, p.cfg.KlineLimit)
	if err != nil {
		return analysis{}, fmt.Errorf("klines: %w", err)
	}
	ind, err := market.Compute(klines)
	if err != nil {
		return analysis{}, fmt.Errorf("indicators: %w", err)
	}

	pos := entry.Position
	if !cached || !entry.Usable {
		pos, err = p.exchange.Position(ctx, symbol)
		if err != nil {
			return analysis{}, fmt.Errorf("position: %w", err)
		}
	}

	report, err := p.provider.MarketAnalysis(ctx, agent.MarketInput{
		Symbol:     symbol,
		Interval:   p.cfg.KlineInterval,
		Klines:     klines,
		Indicators: ind,
		Position:   pos,
	})
	if err != nil {
		return analysis{}, fmt.Errorf("market analysis: %w", err)
	}

	p.logger.Info("symbol analysed",
		slog.String("symbol", symbol),
		slog.String("trend", string(report.Trend)),
		slog.String("strength", string(report.Strength)),
		slog.Bool("from_cache", cached && entry.Usable),
	)
	return analysis{symbol: symbol, report: report, position: pos}, nil
}

// allocate is Phase 2.
func (p *Pipeline) allocate(ctx context.Context, analyses []analysis) (domain.AllocationPlan, error) {
	acct, err := p.accounts.Read(ctx)
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("portfolio: read account: %w", err)
	}

	reports := make([]agent.SymbolReport, 0, len(analyses))
	for _, a := range analyses {
		reports = append(reports, agent.SymbolReport{Symbol: a.symbol, Report: a.report})
	}

	plan, err := p.provider.Allocate(ctx, agent.AllocationInput{
		Reports:        reports,
		TotalAvailable: acct.AvailableBalance,
		Strategy:       p.cfg.Strategy,
	})
	if err != nil {
		return domain.AllocationPlan{}, fmt.Errorf("portfolio: allocate: %w", err)
	}

	if plan.Strategy != p.cfg.Strategy {
		p.logger.Warn("allocation strategy differs from configured strategy, using configured",
			slog.String("plan", string(plan.Strategy)),
			slog.String("configured", string(p.cfg.Strategy)),
		)
		plan.Strategy = p.cfg.Strategy
	}

	p.logger.Info("allocation plan",
		slog.Float64("total_available", acct.AvailableBalance),
		slog.Int("symbols", len(plan.Allocations)),
		slog.String("reasoning", plan.Reasoning),
	)
	return plan, nil
}

// eligible returns the allocation and order ceiling for a symbol, or a
// non-empty reason why the symbol sits this cycle out.
func (p *Pipeline) eligible(symbol string, plan domain.AllocationPlan) (domain.Allocation, float64, string) {
	alloc, ok := plan.Allocations[symbol]
	if !ok {
		return alloc, 0, "no allocation"
	}
	if alloc.Priority == domain.PrioritySkip {
		return alloc, 0, "priority skip"
	}
	if _, ok := p.constraints[symbol]; !ok {
		return alloc, 0, "no trading constraints"
	}
	if !(alloc.AllocatedBalance > 0) {
		return alloc, 0, "no allocated balance"
	}
	ceiling := p.cfg.MaxAmount
	if alloc.MaxAmountOverride != nil {
		ceiling = *alloc.MaxAmountOverride
	}
	if !(ceiling > 0) || math.IsInf(ceiling, 0) {
		return alloc, 0, "no order ceiling"
	}
	return alloc, ceiling, ""
}

// decideAndExecute is the Phase 3 task for one symbol. It never returns an
// error: every failure is recorded and confined to this symbol.
func (p *Pipeline) decideAndExecute(ctx context.Context, a analysis, alloc domain.Allocation, ceiling float64) outcome {
	sym := a.symbol
	log := p.logger.With(slog.String("symbol", sym))
	c := p.constraints[sym]

	fail := func(price float64, err error) outcome {
		log.Error("symbol execution failed", slog.String("error", err.Error()))
		p.recordTrade(ctx, failedTrade(sym, price, p.now(), err))
		return outcome{}
	}

	acct, err := p.accounts.Read(ctx)
	if err != nil {
		return fail(0, fmt.Errorf("read account: %w", err))
	}
	pos, err := p.exchange.Position(ctx, sym)
	if err != nil {
		return fail(0, fmt.Errorf("position: %w", err))
	}

	advice, err := p.provider.StrategyAdvice(ctx, agent.StrategyInput{
		Symbol:   sym,
		Report:   a.report,
		Position: pos,
	})
	if err != nil {
		return fail(0, fmt.Errorf("strategy advice: %w", err))
	}
	risk, err := p.provider.RiskAssessment(ctx, agent.RiskInput{
		Symbol:      sym,
		Report:      a.report,
		Advice:      advice,
		Account:     acct,
		Allocation:  alloc,
		Position:    pos,
		MinAmount:   p.cfg.MinAmount,
		MaxAmount:   ceiling,
		MaxPosition: p.cfg.MaxPosition,
	})
	if err != nil {
		return fail(0, fmt.Errorf("risk assessment: %w", err))
	}
	decision, err := p.provider.FinalSignal(ctx, agent.SignalInput{
		Symbol:    sym,
		Report:    a.report,
		Advice:    advice,
		Risk:      risk,
		Position:  pos,
		MinAmount: p.cfg.MinAmount,
		MaxAmount: ceiling,
	})
	if err != nil {
		return fail(0, fmt.Errorf("final signal: %w", err))
	}

	p.recordDecision(ctx, domain.DecisionRecord{
		ID:        uuid.NewString(),
		Timestamp: p.now(),
		Symbol:    sym,
		Decision:  decision,
		Position:  pos,
	})
	log.Info("decision",
		slog.String("signal", string(decision.Signal)),
		slog.Float64("amount", decision.Amount),
		slog.String("confidence", string(decision.Confidence)),
		slog.String("risk", string(risk.Approval)),
	)

	if decision.Neutral() {
		p.recordTrade(ctx, p.holdTrade(sym, 0, decision.Reason))
		return outcome{}
	}

	price, err := p.exchange.Price(ctx, sym)
	if err != nil {
		return fail(0, fmt.Errorf("price: %w", err))
	}
	price = constraint.QuantizePrice(price, c.TickSize)

	sized := sizing.Resolve(sizing.Request{
		Desired:          decision.Amount,
		AllocatedMax:     ceiling,
		AllocatedBalance: alloc.AllocatedBalance,
		Price:            price,
		Constraints:      c,
	})
	if sized.Rejected {
		log.Info("order size rejected", slog.String("reason", sized.Reason))
		p.recordTrade(ctx, p.holdTrade(sym, price, "size rejected: "+sized.Reason))
		return outcome{}
	}

	trade, err := p.executor.Execute(ctx, sym, decision, pos, price, sized.Qty, c)
	if err != nil {
		// A flip may have filled its close leg, and a timed-out order may
		// have filled at all; the prior entry no longer describes the
		// position.
		out := fail(price, fmt.Errorf("order: %w", err))
		out.drop = true
		return out
	}
	p.recordTrade(ctx, trade)
	if trade.Action == domain.TradeHold {
		return outcome{}
	}

	// Post-trade state is queried, never derived from the order.
	fresh, err := p.exchange.Account(ctx)
	if err != nil {
		log.Warn("post-trade account refresh failed", slog.String("error", err.Error()))
		return outcome{drop: true, traded: true}
	}
	freshPos, err := p.exchange.Position(ctx, sym)
	if err != nil {
		log.Warn("post-trade position refresh failed", slog.String("error", err.Error()))
		return outcome{drop: true, traded: true}
	}
	return outcome{
		entry:  &domain.CacheEntry{Account: &fresh, Position: freshPos, Usable: true},
		traded: true,
	}
}

func (p *Pipeline) holdTrade(symbol string, price float64, reason string) domain.TradeResult {
	return domain.TradeResult{
		Symbol:    symbol,
		Action:    domain.TradeHold,
		Price:     price,
		Timestamp: p.now(),
		Reason:    reason,
	}
}

func (p *Pipeline) recordTrade(ctx context.Context, t domain.TradeResult) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := p.sink.RecordTrade(ctx, t); err != nil {
		p.logger.Warn("record trade failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) recordDecision(ctx context.Context, rec domain.DecisionRecord) {
	if err := p.sink.RecordDecision(ctx, rec); err != nil {
		p.logger.Warn("record decision failed",
			slog.String("symbol", rec.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) resetCache() {
	p.mu.Lock()
	p.cache = make(domain.CycleCache)
	p.mu.Unlock()
}

// finish stores the summary and appends it to the cycle stream.
func (p *Pipeline) finish(ctx context.Context, summary domain.CycleSummary) {
	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	p.logger.Info("cycle finished",
		slog.String("cycle_id", summary.ID),
		slog.Int("analyzed", len(summary.Analyzed)),
		slog.Int("executed", len(summary.Executed)),
		slog.Int("trades", summary.Trades),
		slog.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := p.bus.StreamAppend(context.WithoutCancel(ctx), CycleStream, payload); err != nil {
		p.logger.Warn("cycle stream append failed", slog.String("error", err.Error()))
	}
}
