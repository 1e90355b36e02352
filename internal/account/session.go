package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// session owns the user-data stream and is the only writer of the cell.
//
//	RequestSessionToken -> Connect -> Streaming -> Reconnect -> RequestSessionToken
type session struct {
	cfg      Config
	exchange Exchange
	stream   Streamer
	cell     *cell
	onUpdate func(domain.AccountSnapshot)
	sleep    func(context.Context, time.Duration) bool
	logger   *slog.Logger

	mu        sync.Mutex
	listenKey string
}

// run drives the state machine until ctx is done. firstKey, when set, skips
// the first token request.
func (s *session) run(ctx context.Context, firstKey string) {
	bo := newBackoff(s.cfg.BackoffBase, s.cfg.BackoffMax)
	key := firstKey

	for {
		if key == "" {
			var err error
			key, err = s.exchange.StartListenKey(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				delay := bo.Next()
				s.logger.Warn("listen key request failed",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", delay),
				)
				if !s.sleep(ctx, delay) {
					return
				}
				continue
			}
		}
		s.setListenKey(key)

		started := time.Now()
		err := s.streaming(ctx, key)
		key = ""
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			bo.Reset()
			s.logger.Info("account stream ended, restarting", slog.Duration("retry_in", s.cfg.RestartPause))
			if !s.sleep(ctx, s.cfg.RestartPause) {
				return
			}
			continue
		}

		// A session that stayed up past the backoff cap counts as healthy.
		if time.Since(started) >= s.cfg.BackoffMax {
			bo.Reset()
		}
		delay := bo.Next()
		s.logger.Warn("account stream failed, reconnecting",
			slog.String("error", err.Error()),
			slog.Bool("session_expired", errors.Is(err, domain.ErrSessionExpired)),
			slog.Duration("retry_in", delay),
		)
		if !s.sleep(ctx, delay) {
			return
		}
	}
}

// streaming seeds the cell with a direct query, keeps the listen key alive
// and pumps stream updates until the stream ends.
func (s *session) streaming(ctx context.Context, key string) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if snap, err := s.exchange.Account(sctx); err != nil {
		s.logger.Warn("account seed query failed", slog.String("error", err.Error()))
	} else {
		s.publish(snap)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(sctx, key)
	}()
	defer wg.Wait()

	return s.stream.Stream(sctx, key, s.publish)
}

func (s *session) keepalive(ctx context.Context, key string) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.exchange.KeepaliveListenKey(ctx, key); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("listen key keepalive failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("listen key renewed")
		}
	}
}

func (s *session) publish(snap domain.AccountSnapshot) {
	s.cell.Set(snap)
	if s.onUpdate != nil {
		s.onUpdate(snap)
	}
}

func (s *session) setListenKey(key string) {
	s.mu.Lock()
	s.listenKey = key
	s.mu.Unlock()
}

func (s *session) currentListenKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenKey
}
