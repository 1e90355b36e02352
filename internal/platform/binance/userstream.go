package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a control frame to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence between frames. The server pings every
	// three minutes, so this leaves room for one missed ping.
	readWait = 7 * time.Minute
)

// UserStream reads the account user-data stream for a listen key.
type UserStream struct {
	streamURL   string
	marginAsset string
	dialer      websocket.Dialer
	logger      *slog.Logger
}

// NewUserStream creates a user-data stream reader. streamURL is
// MainnetStreamURL, TestnetStreamURL or a test server; marginAsset selects
// the balance entries that make up a snapshot (usually "USDT").
func NewUserStream(streamURL, marginAsset string, logger *slog.Logger) *UserStream {
	return &UserStream{
		streamURL:   strings.TrimRight(streamURL, "/"),
		marginAsset: marginAsset,
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("component", "binance_user_stream")),
	}
}

// Stream connects to the stream for listenKey and calls onUpdate for every
// balance update until the connection ends. It returns nil when the server
// closes the connection normally, an error wrapping domain.ErrSessionExpired
// when the listen key expires, and an error wrapping domain.ErrWSDisconnect
// for any other transport failure. Cancelling ctx returns ctx.Err().
func (u *UserStream) Stream(ctx context.Context, listenKey string, onUpdate func(domain.AccountSnapshot)) error {
	conn, _, err := u.dialer.DialContext(ctx, u.streamURL+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w: %v", domain.ErrWSDisconnect, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("binance/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		ev, err := decodeUserEvent(message, u.marginAsset)
		if err != nil {
			u.logger.Warn("undecodable user stream frame", slog.String("error", err.Error()))
			continue
		}
		switch {
		case ev.expired:
			return fmt.Errorf("binance/ws: listen key expired: %w", domain.ErrSessionExpired)
		case ev.snapshot != nil:
			onUpdate(*ev.snapshot)
		}
	}
}

type apiUserEvent struct {
	Event     string            `json:"e"`
	EventTime int64             `json:"E"`
	Account   *apiAccountUpdate `json:"a"`
}

type apiAccountUpdate struct {
	Reason   string       `json:"m"`
	Balances []apiBalance `json:"B"`
}

type apiBalance struct {
	Asset              string `json:"a"`
	WalletBalance      string `json:"wb"`
	CrossWalletBalance string `json:"cw"`
}

type userEvent struct {
	snapshot *domain.AccountSnapshot
	expired  bool
}

// decodeUserEvent turns one stream frame into a snapshot or an expiry
// signal. Events that carry no balance for marginAsset yield neither.
//
// ACCOUNT_UPDATE carries wallet ("wb") and cross wallet ("cw") balances but
// no free margin figure. AvailableBalance takes the cross wallet balance,
// which still includes margin held by open cross positions, so a pushed
// snapshot can overstate free funds until the next direct query.
func decodeUserEvent(data []byte, marginAsset string) (userEvent, error) {
	var raw apiUserEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return userEvent{}, err
	}

	switch raw.Event {
	case "listenKeyExpired":
		return userEvent{expired: true}, nil
	case "ACCOUNT_UPDATE":
	default:
		return userEvent{}, nil
	}
	if raw.Account == nil {
		return userEvent{}, nil
	}

	var (
		total, available float64
		found            bool
	)
	for _, b := range raw.Account.Balances {
		if !strings.EqualFold(b.Asset, marginAsset) {
			continue
		}
		found = true
		total += parseFloat(b.WalletBalance)
		available += parseFloat(b.CrossWalletBalance)
	}
	if !found {
		return userEvent{}, nil
	}

	at := time.Now().UTC()
	if raw.EventTime > 0 {
		at = time.UnixMilli(raw.EventTime).UTC()
	}
	return userEvent{snapshot: &domain.AccountSnapshot{
		TotalBalance:     total,
		AvailableBalance: available,
		Source:           domain.SnapshotFromStream,
		UpdatedAt:        at,
	}}, nil
}
