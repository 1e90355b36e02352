package portfolio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/platform/binance"
)

var testConstraints = domain.SymbolConstraints{
	StepSize:    0.001,
	MinQty:      0.001,
	MinNotional: 5,
	TickSize:    0.1,
}

type harness struct {
	ex       *fakeExchange
	klines   *fakeKlines
	provider *fakeProvider
	sink     *fakeSink
	pipeline *Pipeline
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ex:     newFakeExchange(),
		klines: &fakeKlines{},
		provider: &fakeProvider{
			decisions: map[string]domain.TradingDecision{},
		},
		sink: &fakeSink{},
	}
	if cfg.Symbols == nil {
		cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.StrategyBalanced
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = 1
	}
	if cfg.MaxPosition == 0 {
		cfg.MaxPosition = 2
	}
	cfg.KlineInterval = "15m"
	cfg.KlineLimit = 30

	constraints := map[string]domain.SymbolConstraints{}
	allocs := map[string]domain.Allocation{}
	for _, sym := range cfg.Symbols {
		c := testConstraints
		c.Symbol = sym
		constraints[sym] = c
		h.ex.prices[sym] = 100.04
		allocs[sym] = domain.Allocation{Symbol: sym, AllocatedBalance: 400, Weight: 0.5, Priority: domain.PriorityHigh}
	}
	h.provider.plan = domain.AllocationPlan{Allocations: allocs, Strategy: cfg.Strategy}

	h.pipeline = New(cfg, h.ex, fakeAccounts{snap: h.ex.account}, h.klines, h.provider, h.sink, constraints, quietLogger(), opts...)
	return h
}

func buy(amount float64) domain.TradingDecision {
	return domain.TradingDecision{Signal: domain.SignalBuy, Amount: amount, Confidence: domain.ConfidenceHigh, Reason: "breakout"}
}

func TestOrderFailureIsIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	h.provider.decisions["ETHUSDT"] = buy(0.05)
	h.ex.failOrder["BTCUSDT"] = errors.New("insufficient margin")

	require.NoError(t, h.pipeline.RunCycle(context.Background()))

	btc := h.sink.tradesFor("BTCUSDT")
	require.Len(t, btc, 1)
	assert.True(t, btc[0].Failed)
	assert.Equal(t, domain.TradeHold, btc[0].Action)
	assert.Zero(t, btc[0].Amount)
	assert.Contains(t, btc[0].Reason, "trade failed")
	assert.Contains(t, btc[0].OrderDetails, "insufficient margin")

	eth := h.sink.tradesFor("ETHUSDT")
	require.Len(t, eth, 1)
	assert.False(t, eth[0].Failed)
	assert.Equal(t, domain.TradeOpenLong, eth[0].Action)
	assert.InDelta(t, 0.05, eth[0].Amount, 1e-12)
	assert.InDelta(t, 100.0, eth[0].Price, 1e-9)
	assert.NotEmpty(t, eth[0].ID)

	orders := h.ex.ordersFor("ETHUSDT")
	require.Len(t, orders, 1)
	assert.Equal(t, placedOrder{Symbol: "ETHUSDT", Side: binance.SideBuy, PositionSide: binance.PositionLong, Qty: "0.050"}, orders[0])

	cache := h.pipeline.Cache()
	_, hasBTC := cache["BTCUSDT"]
	assert.False(t, hasBTC, "a failed order leaves no entry for the symbol")
	require.Contains(t, cache, "ETHUSDT")
	assert.True(t, cache["ETHUSDT"].Usable)
	require.NotNil(t, cache["ETHUSDT"].Account)
	assert.InDelta(t, 800.0, cache["ETHUSDT"].Account.AvailableBalance, 1e-9)

	last, ok := h.pipeline.LastCycle()
	require.True(t, ok)
	assert.Equal(t, 1, last.Trades)
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, last.Executed)
	assert.Len(t, h.sink.decisions, 2)
}

func TestUsableCacheReplacesPhaseOnePositionQuery(t *testing.T) {
	h := newHarness(t, Config{Symbols: []string{"BTCUSDT"}})
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	long := &domain.Position{Side: domain.SideLong, Amount: 0.05, EntryPrice: 100}

	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	// Phase 1, Phase 3 and the post-trade refresh.
	assert.Equal(t, 3, h.ex.positionCalls("BTCUSDT"))

	h.ex.mu.Lock()
	h.ex.positions["BTCUSDT"] = long
	h.ex.mu.Unlock()
	h.provider.decisions["BTCUSDT"] = domain.TradingDecision{Signal: domain.SignalHold, Reason: "wait"}

	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	// The second Phase 1 used the cached (flat) position; only Phase 3 queried.
	assert.Equal(t, 4, h.ex.positionCalls("BTCUSDT"))
	inputs := h.provider.marketInputs("BTCUSDT")
	require.Len(t, inputs, 2)
	assert.Nil(t, inputs[1].Position)

	// Hold leaves the prior entry untouched.
	assert.True(t, h.pipeline.Cache()["BTCUSDT"].Usable)
}

func TestFailedFlipDropsCacheEntry(t *testing.T) {
	h := newHarness(t, Config{Symbols: []string{"BTCUSDT"}})
	h.ex.mu.Lock()
	h.ex.positions["BTCUSDT"] = &domain.Position{Side: domain.SideLong, Amount: 0.05, EntryPrice: 100}
	h.ex.mu.Unlock()

	// Adding to the long leaves a usable entry holding the long.
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	entry := h.pipeline.Cache()["BTCUSDT"]
	require.True(t, entry.Usable)
	require.NotNil(t, entry.Position)

	// The close leg fills, the open short is rejected.
	h.ex.mu.Lock()
	h.ex.failOpen["BTCUSDT"] = errors.New("margin is insufficient")
	h.ex.mu.Unlock()
	h.provider.decisions["BTCUSDT"] = domain.TradingDecision{Signal: domain.SignalSell, Amount: 0.05, Reason: "reversal"}
	require.NoError(t, h.pipeline.RunCycle(context.Background()))

	trades := h.sink.tradesFor("BTCUSDT")
	require.Len(t, trades, 2)
	assert.True(t, trades[1].Failed)
	pos, err := h.ex.Position(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Nil(t, pos, "the close leg flattened the exchange position")
	_, cached := h.pipeline.Cache()["BTCUSDT"]
	assert.False(t, cached)

	// The next analysis sees the exchange state, not the closed long.
	h.provider.decisions["BTCUSDT"] = domain.TradingDecision{Signal: domain.SignalHold, Reason: "wait"}
	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	inputs := h.provider.marketInputs("BTCUSDT")
	require.Len(t, inputs, 3)
	assert.Nil(t, inputs[2].Position)
}

func TestSkippedSymbolResetsCacheEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	h.provider.decisions["ETHUSDT"] = buy(0.05)
	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	require.True(t, h.pipeline.Cache()["BTCUSDT"].Usable)

	short := &domain.Position{Side: domain.SideShort, Amount: 0.2, EntryPrice: 110}
	h.ex.mu.Lock()
	h.ex.positions["ETHUSDT"] = short
	h.ex.mu.Unlock()

	zero := 0.0
	plan := domain.AllocationPlan{
		Strategy: domain.StrategyBalanced,
		Allocations: map[string]domain.Allocation{
			"BTCUSDT": {Symbol: "BTCUSDT", AllocatedBalance: 400, Priority: domain.PrioritySkip},
			"ETHUSDT": {Symbol: "ETHUSDT", AllocatedBalance: 400, Priority: domain.PriorityLow, MaxAmountOverride: &zero},
		},
	}
	h.provider.setPlan(plan)
	require.NoError(t, h.pipeline.RunCycle(context.Background()))

	cache := h.pipeline.Cache()
	btc := cache["BTCUSDT"]
	assert.False(t, btc.Usable)
	assert.Nil(t, btc.Account)
	assert.Nil(t, btc.Position, "cached flat position carried over")

	eth := cache["ETHUSDT"]
	assert.False(t, eth.Usable)
	assert.Nil(t, eth.Account)

	last, _ := h.pipeline.LastCycle()
	assert.Empty(t, last.Executed)
}

func TestNoConstraintsOrBalanceExcludesSymbol(t *testing.T) {
	h := newHarness(t, Config{})
	delete(h.pipeline.constraints, "ETHUSDT")
	h.provider.plan.Allocations["BTCUSDT"] = domain.Allocation{Symbol: "BTCUSDT", AllocatedBalance: 0, Priority: domain.PriorityHigh}
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	h.provider.decisions["ETHUSDT"] = buy(0.05)

	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	assert.Empty(t, h.ex.ordersFor("BTCUSDT"))
	assert.Empty(t, h.ex.ordersFor("ETHUSDT"))
	assert.Empty(t, h.sink.decisions)
}

func TestAnalysisFailureAbortsCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.klines.setFail("ETHUSDT", errors.New("timeout"))

	err := h.pipeline.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ETHUSDT")
	assert.Zero(t, h.provider.allocCalls)
	// The healthy symbol still ran to completion.
	assert.Len(t, h.provider.marketInputs("BTCUSDT"), 1)

	last, ok := h.pipeline.LastCycle()
	require.True(t, ok)
	assert.NotEmpty(t, last.Error)
}

func TestAnalysisFailureExcludesSymbol(t *testing.T) {
	h := newHarness(t, Config{AnalysisFailure: FailExclude})
	h.klines.setFail("ETHUSDT", errors.New("timeout"))
	h.provider.decisions["BTCUSDT"] = buy(0.05)
	h.provider.decisions["ETHUSDT"] = buy(0.05)

	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	assert.Len(t, h.ex.ordersFor("BTCUSDT"), 1)
	assert.Empty(t, h.ex.ordersFor("ETHUSDT"))

	last, _ := h.pipeline.LastCycle()
	assert.Equal(t, []string{"ETHUSDT"}, last.Excluded)
	assert.Equal(t, []string{"BTCUSDT"}, last.Analyzed)
}

func TestAnalysisFailureExcludeAllFails(t *testing.T) {
	h := newHarness(t, Config{AnalysisFailure: FailExclude, Symbols: []string{"BTCUSDT"}})
	h.klines.setFail("BTCUSDT", errors.New("timeout"))
	require.Error(t, h.pipeline.RunCycle(context.Background()))
}

func TestConfiguredStrategyWins(t *testing.T) {
	h := newHarness(t, Config{Strategy: domain.StrategyConservative})
	plan := h.provider.plan
	plan.Strategy = domain.StrategyAggressive
	h.provider.setPlan(plan)

	got, err := h.pipeline.allocate(context.Background(), []analysis{{symbol: "BTCUSDT"}, {symbol: "ETHUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyConservative, got.Strategy)
	assert.Len(t, got.Allocations, 2)
	assert.InDelta(t, 800.0, got.TotalAvailable, 1e-9)
}

func TestSizingRejectionRecordsHold(t *testing.T) {
	h := newHarness(t, Config{Symbols: []string{"BTCUSDT"}, MaxAmount: 0.01})
	h.provider.decisions["BTCUSDT"] = buy(0.01)

	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	assert.Empty(t, h.ex.ordersFor("BTCUSDT"))
	trades := h.sink.tradesFor("BTCUSDT")
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeHold, trades[0].Action)
	assert.False(t, trades[0].Failed)
	assert.True(t, strings.HasPrefix(trades[0].Reason, "size rejected"))
	assert.NotContains(t, h.pipeline.Cache(), "BTCUSDT")
}

func TestLockHeldSkipsCycle(t *testing.T) {
	lock := &fakeLock{held: true}
	h := newHarness(t, Config{}, WithLock(lock))
	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	assert.Empty(t, h.provider.marketInputs("BTCUSDT"))

	lock.held = false
	require.NoError(t, h.pipeline.RunCycle(context.Background()))
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRunSurvivesFailedCycles(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newHarness(t, Config{Interval: 10 * time.Millisecond}, WithNotifier(notifier))
	h.provider.allocateErr = errors.New("provider down")

	h.pipeline.mu.Lock()
	h.pipeline.cache["BTCUSDT"] = domain.CacheEntry{Usable: true}
	h.pipeline.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipeline.Run(ctx) }()

	assert.Eventually(t, func() bool { return notifier.count("cycle_failed") >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, h.pipeline.Cache())
}
