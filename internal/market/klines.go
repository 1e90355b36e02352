// Package market fetches candles from the futures exchange and derives the
// technical indicators fed to the market analysis provider.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	klineAttempts   = 3
	klineRetryPause = 2 * time.Second
)

// KlineFeed loads candles over the public futures REST API.
type KlineFeed struct {
	client     *futures.Client
	retryPause time.Duration
	logger     *slog.Logger
}

// NewKlineFeed creates a feed against baseURL (the same REST root the
// trading client uses).
func NewKlineFeed(baseURL string, logger *slog.Logger) *KlineFeed {
	client := futures.NewClient("", "")
	client.BaseURL = baseURL
	return &KlineFeed{
		client:     client,
		retryPause: klineRetryPause,
		logger:     logger.With(slog.String("component", "kline_feed")),
	}
}

// Klines returns up to limit candles for symbol, oldest first. Transport
// failures are retried up to three attempts with a fixed pause.
func (f *KlineFeed) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	var lastErr error
	for attempt := 1; attempt <= klineAttempts; attempt++ {
		raw, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return convertKlines(raw)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < klineAttempts {
			f.logger.Warn("kline fetch failed, retrying",
				slog.String("symbol", symbol),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("market: klines %s: %w", symbol, ctx.Err())
			case <-time.After(f.retryPause):
			}
		}
	}
	return nil, fmt.Errorf("market: klines %s after %d attempts: %w", symbol, klineAttempts, lastErr)
}

func convertKlines(raw []*futures.Kline) ([]domain.Kline, error) {
	out := make([]domain.Kline, 0, len(raw))
	for _, k := range raw {
		if k == nil {
			continue
		}
		dk := domain.Kline{OpenTime: time.UnixMilli(k.OpenTime).UTC()}
		for _, field := range []struct {
			dst *float64
			src string
		}{
			{&dk.Open, k.Open},
			{&dk.High, k.High},
			{&dk.Low, k.Low},
			{&dk.Close, k.Close},
			{&dk.Volume, k.Volume},
		} {
			v, err := strconv.ParseFloat(field.src, 64)
			if err != nil {
				return nil, fmt.Errorf("market: parse kline value %q: %w", field.src, err)
			}
			*field.dst = v
		}
		out = append(out, dk)
	}
	return out, nil
}
