package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/perpbot/internal/account"
	"github.com/alanyoungcy/perpbot/internal/agent"
	s3blob "github.com/alanyoungcy/perpbot/internal/blob/s3"
	"github.com/alanyoungcy/perpbot/internal/cache/redis"
	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/performance"
	"github.com/alanyoungcy/perpbot/internal/platform/binance"
	"github.com/alanyoungcy/perpbot/internal/service"
	"github.com/alanyoungcy/perpbot/internal/store/jsonl"
	"github.com/alanyoungcy/perpbot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. The Redis, Postgres and
// S3 backed fields are nil when that backend is disabled.
type Dependencies struct {
	Exchange *binance.Client
	Accounts *account.Cache
	Klines   *market.KlineFeed
	Provider agent.Provider
	Journal  *service.Journal
	Perf     *performance.Tracker
	Notifier *notify.Notifier

	// Redis
	Locks   *redis.LockManager
	Bus     *redis.SignalBus
	Limiter *redis.RateLimiter

	// Postgres
	Audit *postgres.AuditStore

	// S3
	Archive *s3blob.Scheduler
}

// endpoints picks the REST and stream roots, explicit overrides first.
func endpoints(cfg config.BinanceConfig) (rest, stream string) {
	rest, stream = binance.MainnetBaseURL, binance.MainnetStreamURL
	if cfg.Testnet {
		rest, stream = binance.TestnetBaseURL, binance.TestnetStreamURL
	}
	if cfg.BaseURL != "" {
		rest = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		stream = cfg.StreamURL
	}
	return rest, stream
}

// Wire builds the concrete dependencies and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Exchange ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Binance.APISecret,
		EncryptedPath: cfg.Binance.EncryptedSecretPath,
		Password:      cfg.Binance.SecretPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: binance secret: %w", err))
	}
	restURL, streamURL := endpoints(cfg.Binance)
	deps.Exchange = binance.NewClient(restURL, cfg.Binance.APIKey, secret,
		binance.WithRecvWindow(cfg.Binance.RecvWindow.Duration),
	)
	deps.Klines = market.NewKlineFeed(restURL, logger)

	// --- Redis ---
	var mirror *redis.SnapshotMirror
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Limiter = redis.NewRateLimiter(rc)
		mirror = redis.NewSnapshotMirror(rc)
	}

	// --- Account cache ---
	var accountOpts []account.Option
	if mirror != nil {
		accountOpts = append(accountOpts, account.WithOnUpdate(mirrorTo(mirror, logger)))
	}
	deps.Accounts = account.New(deps.Exchange,
		binance.NewUserStream(streamURL, cfg.Binance.MarginAsset, logger),
		account.Config{
			FirstPushWait:     cfg.Account.FirstPushWait.Duration,
			KeepaliveInterval: cfg.Account.KeepaliveInterval.Duration,
			BackoffBase:       cfg.Account.BackoffBase.Duration,
			BackoffMax:        cfg.Account.BackoffMax.Duration,
			RestartPause:      cfg.Account.RestartPause.Duration,
		},
		logger, accountOpts...,
	)
	closers = append(closers, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Accounts.Close(cctx); err != nil {
			logger.Warn("close account stream", slog.String("error", err.Error()))
		}
	})

	// --- Decision provider ---
	var providerOpts []agent.ProviderOption
	if deps.Limiter != nil && cfg.Agent.CallsPerMinute > 0 {
		providerOpts = append(providerOpts, agent.WithRateLimit(deps.Limiter, cfg.Agent.CallsPerMinute))
	}
	deps.Provider = agent.NewLLMProvider(
		agent.NewChatClient(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Model, cfg.Agent.Timeout.Duration),
		logger, providerOpts...,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Tag, logger)

	// --- Journal: JSONL files, performance, optional Postgres ---
	files, err := jsonl.New(cfg.Trading.DataDir)
	if err != nil {
		return fail(fmt.Errorf("wire: jsonl: %w", err))
	}
	deps.Perf, err = performance.NewTracker(filepath.Join(cfg.Trading.DataDir, "performance.json"))
	if err != nil {
		return fail(fmt.Errorf("wire: performance: %w", err))
	}

	journalOpts := []service.JournalOption{
		service.WithPerformance(deps.Perf),
		service.WithNotifier(deps.Notifier),
	}
	if deps.Bus != nil {
		journalOpts = append(journalOpts, service.WithBus(deps.Bus))
	}

	var trades *postgres.TradeStore
	var decisions *postgres.DecisionStore
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		trades = postgres.NewTradeStore(pg.Pool())
		decisions = postgres.NewDecisionStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		journalOpts = append(journalOpts, service.WithStores(trades, decisions))
	}
	deps.Journal = service.NewJournal([]domain.TradeSink{files}, logger, journalOpts...)

	// --- S3 archive ---
	if cfg.S3.Enabled && trades != nil {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := sc.Health(ctx); err != nil {
			logger.WarnContext(ctx, "archive bucket not reachable yet", slog.String("error", err.Error()))
		}
		archiver := s3blob.NewArchiver(s3blob.NewWriter(sc), trades, decisions, deps.Audit)
		deps.Archive = s3blob.NewScheduler(archiver, deps.Perf, cfg.S3.ArchiveAfter.Duration, logger)
	}

	return deps, cleanup, nil
}

// mirrorTo copies every pushed account snapshot to Redis.
func mirrorTo(m domain.SnapshotMirror, logger *slog.Logger) func(domain.AccountSnapshot) {
	return func(s domain.AccountSnapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.SetAccount(ctx, s); err != nil {
			logger.Warn("mirror account snapshot", slog.String("error", err.Error()))
		}
	}
}
