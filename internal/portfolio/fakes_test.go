package portfolio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/agent"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/platform/binance"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type placedOrder struct {
	Symbol       string
	Side         binance.OrderSide
	PositionSide binance.PositionSide
	Qty          string
}

type fakeExchange struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	prices    map[string]float64
	failOrder map[string]error
	failOpen  map[string]error
	orders    []placedOrder
	posCalls  map[string]int
	account   domain.AccountSnapshot
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		positions: map[string]*domain.Position{},
		prices:    map[string]float64{},
		failOrder: map[string]error{},
		failOpen:  map[string]error{},
		posCalls:  map[string]int{},
		account:   domain.AccountSnapshot{TotalBalance: 1000, AvailableBalance: 800, Source: domain.SnapshotFromQuery},
	}
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side binance.OrderSide, ps binance.PositionSide, qty string) (binance.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOrder[symbol]; err != nil {
		return binance.OrderResult{}, err
	}
	closing := (side == binance.SideBuy && ps == binance.PositionShort) ||
		(side == binance.SideSell && ps == binance.PositionLong)
	if err := f.failOpen[symbol]; err != nil && !closing {
		return binance.OrderResult{}, err
	}
	f.orders = append(f.orders, placedOrder{Symbol: symbol, Side: side, PositionSide: ps, Qty: qty})
	if closing {
		delete(f.positions, symbol)
	}
	return binance.OrderResult{OrderID: int64(len(f.orders)), Status: "FILLED"}, nil
}

func (f *fakeExchange) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, nil
}

func (f *fakeExchange) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posCalls[symbol]++
	return f.positions[symbol], nil
}

func (f *fakeExchange) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeExchange) ordersFor(symbol string) []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []placedOrder
	for _, o := range f.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeExchange) positionCalls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posCalls[symbol]
}

type fakeAccounts struct{ snap domain.AccountSnapshot }

func (f fakeAccounts) Read(ctx context.Context) (domain.AccountSnapshot, error) { return f.snap, nil }

type fakeKlines struct {
	mu   sync.Mutex
	fail map[string]error
}

func (f *fakeKlines) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	f.mu.Lock()
	err := f.fail[symbol]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 30)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := 100 + float64(i)
		out[i] = domain.Kline{
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:     c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	return out, nil
}

func (f *fakeKlines) setFail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[symbol] = err
}

type fakeProvider struct {
	mu          sync.Mutex
	decisions   map[string]domain.TradingDecision
	plan        domain.AllocationPlan
	allocateErr error
	marketIn    []agent.MarketInput
	allocCalls  int
}

func (f *fakeProvider) MarketAnalysis(ctx context.Context, in agent.MarketInput) (domain.MarketReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketIn = append(f.marketIn, in)
	return domain.MarketReport{Trend: domain.TrendBullish, Strength: domain.StrengthMedium}, nil
}

func (f *fakeProvider) StrategyAdvice(ctx context.Context, in agent.StrategyInput) (domain.StrategyAdvice, error) {
	return domain.StrategyAdvice{Action: domain.ActionOpenLong, TimingScore: 7}, nil
}

func (f *fakeProvider) RiskAssessment(ctx context.Context, in agent.RiskInput) (domain.RiskAssessment, error) {
	return domain.RiskAssessment{RiskLevel: domain.RiskLow, Approval: domain.ApprovalApproved, SuggestedAmount: in.MaxAmount}, nil
}

func (f *fakeProvider) FinalSignal(ctx context.Context, in agent.SignalInput) (domain.TradingDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decisions[in.Symbol]
	if !ok {
		return domain.TradingDecision{Signal: domain.SignalHold, Reason: "wait"}, nil
	}
	return d, nil
}

func (f *fakeProvider) Allocate(ctx context.Context, in agent.AllocationInput) (domain.AllocationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocCalls++
	if f.allocateErr != nil {
		return domain.AllocationPlan{}, f.allocateErr
	}
	plan := f.plan
	plan.TotalAvailable = in.TotalAvailable
	return plan, nil
}

func (f *fakeProvider) setPlan(plan domain.AllocationPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plan = plan
}

func (f *fakeProvider) marketInputs(symbol string) []agent.MarketInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agent.MarketInput
	for _, in := range f.marketIn {
		if in.Symbol == symbol {
			out = append(out, in)
		}
	}
	return out
}

type fakeSink struct {
	mu        sync.Mutex
	trades    []domain.TradeResult
	decisions []domain.DecisionRecord
}

func (f *fakeSink) RecordTrade(ctx context.Context, t domain.TradeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeSink) RecordDecision(ctx context.Context, r domain.DecisionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, r)
	return nil
}

func (f *fakeSink) tradesFor(symbol string) []domain.TradeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeResult
	for _, t := range f.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() { f.released++ }, nil
}
