// Package account keeps the latest futures account snapshot in memory, fed
// by the exchange user-data stream, so cycle code can read balances without
// a REST round trip.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Exchange is the REST side the cache needs.
type Exchange interface {
	Account(ctx context.Context) (domain.AccountSnapshot, error)
	StartListenKey(ctx context.Context) (string, error)
	KeepaliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Streamer delivers push updates for one listen key until the stream ends.
// A nil return means a normal end.
type Streamer interface {
	Stream(ctx context.Context, listenKey string, onUpdate func(domain.AccountSnapshot)) error
}

// Config tunes the cache and its background session.
type Config struct {
	FirstPushWait     time.Duration
	KeepaliveInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RestartPause      time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		FirstPushWait:     3 * time.Second,
		KeepaliveInterval: 30 * time.Minute,
		BackoffBase:       5 * time.Second,
		BackoffMax:        60 * time.Second,
		RestartPause:      time.Second,
	}
}

// Option customises a Cache.
type Option func(*Cache)

// WithOnUpdate registers a hook called from the session goroutine after
// every snapshot update.
func WithOnUpdate(fn func(domain.AccountSnapshot)) Option {
	return func(c *Cache) { c.session.onUpdate = fn }
}

// Cache serves account snapshots. The exchange client it is built with
// carries the API credentials.
type Cache struct {
	exchange Exchange
	cfg      Config
	cell     *cell
	start    lazyStart
	session  *session
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache. Nothing touches the network until the first Read.
func New(exchange Exchange, stream Streamer, cfg Config, logger *slog.Logger, opts ...Option) *Cache {
	logger = logger.With(slog.String("component", "account_cache"))
	ctx, cancel := context.WithCancel(context.Background())
	cl := newCell()
	c := &Cache{
		exchange: exchange,
		cfg:      cfg,
		cell:     cl,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		session: &session{
			cfg:      cfg,
			exchange: exchange,
			stream:   stream,
			cell:     cl,
			sleep:    sleepCtx,
			logger:   logger,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Read returns the latest snapshot. The first call starts the stream
// session. With nothing cached yet it waits up to FirstPushWait, counting
// the session start, for a push and then falls back to one direct query,
// which is not cached.
func (c *Cache) Read(ctx context.Context) (domain.AccountSnapshot, error) {
	if s, ok := c.cell.Get(); ok {
		return s, nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.FirstPushWait)
	defer cancel()

	if err := c.start.Do(wctx, c.startSession); err != nil {
		if ctx.Err() != nil {
			return domain.AccountSnapshot{}, ctx.Err()
		}
		c.logger.Warn("account stream unavailable, querying directly", slog.String("error", err.Error()))
		return c.query(ctx)
	}

	s, err := c.cell.Wait(wctx)
	if err == nil {
		return s, nil
	}
	if ctx.Err() != nil {
		return domain.AccountSnapshot{}, ctx.Err()
	}
	c.logger.Info("no account push yet, querying directly", slog.Duration("waited", c.cfg.FirstPushWait))
	return c.query(ctx)
}

// Latest returns the cached snapshot without any network call.
func (c *Cache) Latest() (domain.AccountSnapshot, bool) {
	return c.cell.Get()
}

// Close stops the session and releases the listen key.
func (c *Cache) Close(ctx context.Context) error {
	c.cancel()
	c.wg.Wait()

	if !c.start.Started() {
		return nil
	}
	key := c.session.currentListenKey()
	if key == "" {
		return nil
	}
	if err := c.exchange.CloseListenKey(ctx, key); err != nil {
		return fmt.Errorf("account: close: %w", err)
	}
	return nil
}

func (c *Cache) startSession(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return fmt.Errorf("account: start session: %w", domain.ErrNoSession)
	}
	key, err := c.exchange.StartListenKey(ctx)
	if err != nil {
		return fmt.Errorf("account: start session: %w", err)
	}
	c.logger.Info("account stream session starting")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.session.run(c.ctx, key)
	}()
	return nil
}

func (c *Cache) query(ctx context.Context) (domain.AccountSnapshot, error) {
	s, err := c.exchange.Account(ctx)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("account: direct query: %w", err)
	}
	return s, nil
}
