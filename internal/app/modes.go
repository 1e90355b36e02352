package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/portfolio"
	"github.com/alanyoungcy/perpbot/internal/server"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// Bootstrapper is the exchange surface used before the first cycle.
type Bootstrapper interface {
	Ping(ctx context.Context) error
	SetDualPosition(ctx context.Context, dual bool) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SymbolConstraints(ctx context.Context, symbols []string) (map[string]domain.SymbolConstraints, error)
	Account(ctx context.Context) (domain.AccountSnapshot, error)
	Position(ctx context.Context, symbol string) (*domain.Position, error)
}

// prepareExchange pings the exchange, switches to hedge mode, sets leverage
// per symbol and loads the symbol rules. Any failure is fatal; a symbol the
// exchange does not list fails the whole startup.
func prepareExchange(ctx context.Context, ex Bootstrapper, symbols []string, leverage int, logger *slog.Logger) (map[string]domain.SymbolConstraints, error) {
	if err := ex.Ping(ctx); err != nil {
		return nil, fmt.Errorf("startup: ping: %w", err)
	}
	if err := ex.SetDualPosition(ctx, true); err != nil {
		return nil, fmt.Errorf("startup: dual position mode: %w", err)
	}
	for _, sym := range symbols {
		if err := ex.SetLeverage(ctx, sym, leverage); err != nil {
			return nil, fmt.Errorf("startup: leverage %s: %w", sym, err)
		}
	}
	constraints, err := ex.SymbolConstraints(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("startup: symbol constraints: %w", err)
	}
	for sym, c := range constraints {
		logger.InfoContext(ctx, "symbol constraints",
			slog.String("symbol", sym),
			slog.Float64("step_size", c.StepSize),
			slog.Float64("min_qty", c.MinQty),
			slog.Float64("min_notional", c.MinNotional),
			slog.Float64("tick_size", c.TickSize),
		)
	}

	acc, err := ex.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("startup: account: %w", err)
	}
	logger.InfoContext(ctx, "account",
		slog.Float64("total_balance", acc.TotalBalance),
		slog.Float64("available_balance", acc.AvailableBalance),
	)
	for _, sym := range symbols {
		pos, err := ex.Position(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("startup: position %s: %w", sym, err)
		}
		if pos == nil {
			logger.InfoContext(ctx, "position", slog.String("symbol", sym), slog.String("side", "flat"))
			continue
		}
		logger.InfoContext(ctx, "position",
			slog.String("symbol", sym),
			slog.String("side", string(pos.Side)),
			slog.Float64("amount", pos.Amount),
			slog.Float64("entry_price", pos.EntryPrice),
		)
	}
	return constraints, nil
}

// TradeMode runs the full bot: trading cycles, status API, trade feed and
// archiver.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	tc := a.cfg.Trading
	constraints, err := prepareExchange(ctx, deps.Exchange, tc.Symbols, tc.Leverage, a.logger)
	if err != nil {
		return err
	}

	opts := []portfolio.Option{portfolio.WithNotifier(deps.Notifier)}
	if deps.Locks != nil {
		opts = append(opts, portfolio.WithLock(deps.Locks), portfolio.WithBus(deps.Bus))
	}
	if deps.Audit != nil {
		opts = append(opts, portfolio.WithAudit(deps.Audit))
	}
	pipeline := portfolio.New(portfolio.Config{
		Symbols:         tc.Symbols,
		KlineInterval:   tc.KlineInterval,
		KlineLimit:      tc.KlineLimit,
		MinAmount:       tc.MinAmount,
		MaxAmount:       tc.MaxAmount,
		MaxPosition:     tc.MaxPosition,
		Strategy:        domain.PortfolioStrategy(tc.PortfolioStrategy),
		AnalysisFailure: portfolio.FailurePolicy(tc.AnalysisFailure),
		Interval:        tc.Interval.Duration,
		CycleTimeout:    tc.CycleTimeout.Duration,
	}, deps.Exchange, deps.Accounts, deps.Klines, deps.Provider, deps.Journal, constraints, a.logger, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(ctx) })
	a.startCommon(ctx, g, deps, pipeline)

	a.announce(ctx, deps.Notifier, fmt.Sprintf("trading %s every %s, strategy %s",
		strings.Join(tc.Symbols, ", "), tc.Interval.Duration, tc.PortfolioStrategy))

	return g.Wait()
}

// MonitorMode keeps the account cache, status API and notifier running
// without a pipeline or orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if err := deps.Exchange.Ping(ctx); err != nil {
		return fmt.Errorf("startup: ping: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watchAccount(ctx, deps) })
	a.startCommon(ctx, g, deps, nil)

	a.announce(ctx, deps.Notifier, "monitoring account, no orders will be placed")
	return g.Wait()
}

// watchAccount starts the push session and logs the balance once per
// trading interval.
func (a *App) watchAccount(ctx context.Context, deps *Dependencies) error {
	every := a.cfg.Trading.Interval.Duration
	if every <= 0 {
		every = 15 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		snap, err := deps.Accounts.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.WarnContext(ctx, "account read failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "account",
				slog.Float64("total_balance", snap.TotalBalance),
				slog.Float64("available_balance", snap.AvailableBalance),
				slog.String("source", string(snap.Source)),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startCommon adds the status server, trade feed and archiver to g when
// they are enabled. pipeline may be nil.
func (a *App) startCommon(ctx context.Context, g *errgroup.Group, deps *Dependencies, pipeline *portfolio.Pipeline) {
	if deps.Archive != nil {
		g.Go(func() error { return deps.Archive.Run(ctx) })
	}
	if !a.cfg.Server.Enabled {
		return
	}

	var cycles handler.CycleView
	if pipeline != nil {
		cycles = pipeline
	}
	var history handler.CycleHistory
	var feed *ws.Hub
	if deps.Bus != nil {
		history = deps.Bus
		feed = ws.NewHub(deps.Bus, service.TradesChannel, a.logger)
		g.Go(func() error { return feed.Run(ctx) })
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, a.cfg.Trading.PortfolioStrategy, a.cfg.Trading.Symbols, time.Now()),
		Status:  handler.NewStatusHandler(deps.Accounts, cycles, history, portfolio.CycleStream, deps.Perf, a.logger),
		Journal: handler.NewJournalHandler(deps.Journal, a.logger),
		Feed:    feed,
	}

	var limiter domain.RateLimiter
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}
	srv := server.NewServer(server.Config{
		Addr:       fmt.Sprintf(":%d", a.cfg.Server.Port),
		APIKey:     a.cfg.Server.APIKey,
		RateLimit:  a.cfg.Server.RateLimit,
		RateWindow: a.cfg.Server.RateWindow.Duration,
	}, handlers, limiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) announce(ctx context.Context, n *notify.Notifier, message string) {
	if err := n.Notify(ctx, notify.EventStartup, "perpbot started ("+a.cfg.Mode+")", message); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
}
