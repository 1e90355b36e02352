package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradesChannel is the bus channel trade results are published on.
const TradesChannel = "perpbot:trades"

// PerformanceRecorder folds trades into running totals.
type PerformanceRecorder interface {
	Update(trade domain.TradeResult) bool
	Persist() error
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithStores enables the queryable stores. Records are written to them and
// ListTrades/ListDecisions read from them.
func WithStores(trades domain.TradeStore, decisions domain.DecisionStore) JournalOption {
	return func(j *Journal) {
		j.trades = trades
		j.decisions = decisions
	}
}

// WithPerformance feeds every trade into perf.
func WithPerformance(perf PerformanceRecorder) JournalOption {
	return func(j *Journal) { j.perf = perf }
}

// WithBus publishes every trade on TradesChannel.
func WithBus(bus domain.SignalBus) JournalOption {
	return func(j *Journal) { j.bus = bus }
}

// WithNotifier sends trade_executed and trade_failed notifications.
func WithNotifier(n Notifier) JournalOption {
	return func(j *Journal) { j.notifier = n }
}

// Journal implements domain.TradeSink by fanning records out to every
// configured sink. A failing sink never stops the others.
type Journal struct {
	sinks     []domain.TradeSink
	trades    domain.TradeStore
	decisions domain.DecisionStore
	perf      PerformanceRecorder
	bus       domain.SignalBus
	notifier  Notifier
	logger    *slog.Logger
}

// NewJournal creates a Journal writing to sinks.
func NewJournal(sinks []domain.TradeSink, logger *slog.Logger, opts ...JournalOption) *Journal {
	j := &Journal{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "journal")),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// RecordTrade writes the trade everywhere and returns the joined sink
// errors, if any.
func (j *Journal) RecordTrade(ctx context.Context, trade domain.TradeResult) error {
	var errs []error
	for _, s := range j.sinks {
		if err := s.RecordTrade(ctx, trade); err != nil {
			errs = append(errs, err)
		}
	}
	if j.trades != nil {
		if err := j.trades.Insert(ctx, trade); err != nil {
			errs = append(errs, err)
		}
	}

	if j.perf != nil && j.perf.Update(trade) {
		if err := j.perf.Persist(); err != nil {
			j.logger.WarnContext(ctx, "persist performance failed", slog.String("error", err.Error()))
		}
	}

	j.publish(ctx, trade)
	j.notify(ctx, trade)

	if len(errs) > 0 {
		return fmt.Errorf("journal: record trade %s: %w", trade.Symbol, errors.Join(errs...))
	}
	return nil
}

// RecordDecision writes the decision everywhere.
func (j *Journal) RecordDecision(ctx context.Context, rec domain.DecisionRecord) error {
	var errs []error
	for _, s := range j.sinks {
		if err := s.RecordDecision(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if j.decisions != nil {
		if err := j.decisions.Insert(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("journal: record decision %s: %w", rec.Symbol, errors.Join(errs...))
	}
	return nil
}

// ListTrades reads trades back from the trade store.
func (j *Journal) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeResult, error) {
	if j.trades == nil {
		return nil, fmt.Errorf("journal: trade store: %w", domain.ErrNotFound)
	}
	return j.trades.List(ctx, opts)
}

// ListDecisions reads decisions back from the decision store.
func (j *Journal) ListDecisions(ctx context.Context, opts domain.ListOpts) ([]domain.DecisionRecord, error) {
	if j.decisions == nil {
		return nil, fmt.Errorf("journal: decision store: %w", domain.ErrNotFound)
	}
	return j.decisions.List(ctx, opts)
}

func (j *Journal) publish(ctx context.Context, t domain.TradeResult) {
	if j.bus == nil {
		return
	}
	evt, err := json.Marshal(map[string]any{
		"event":     "trade",
		"id":        t.ID,
		"symbol":    t.Symbol,
		"action":    t.Action,
		"price":     t.Price,
		"amount":    t.Amount,
		"pnl":       t.PnL,
		"failed":    t.Failed,
		"timestamp": t.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := j.bus.Publish(ctx, TradesChannel, evt); err != nil {
		j.logger.WarnContext(ctx, "publish trade failed",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) notify(ctx context.Context, t domain.TradeResult) {
	if j.notifier == nil {
		return
	}

	var event, title, msg string
	switch {
	case t.Failed:
		event = "trade_failed"
		title = "Trade failed: " + t.Symbol
		msg = t.Reason
	case t.Action != domain.TradeHold:
		event = "trade_executed"
		title = fmt.Sprintf("%s %s", t.Action, t.Symbol)
		msg = fmt.Sprintf("amount %g @ %g", t.Amount, t.Price)
		if t.PnL != nil {
			msg += fmt.Sprintf(", realized pnl %.2f", *t.PnL)
		}
		msg += "\n" + t.Reason
	default:
		return
	}

	if err := j.notifier.Notify(ctx, event, title, msg); err != nil {
		j.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
