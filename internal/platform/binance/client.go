// Package binance is the Binance USDⓈ-M Futures boundary: REST calls through
// the go-binance futures client and the user-data WebSocket stream.
package binance

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	MainnetBaseURL   = "https://fapi.binance.com"
	TestnetBaseURL   = "https://testnet.binancefuture.com"
	MainnetStreamURL = "wss://fstream.binance.com/ws"
	TestnetStreamURL = "wss://stream.binancefuture.com/ws"

	defaultRecvWindow = 5 * time.Second
)

// Error codes the bot reacts to.
const (
	// CodeNoNeedToChangePositionSide is returned when dual position mode is
	// already in the requested state.
	CodeNoNeedToChangePositionSide = -4059
	// CodeMarginInsufficient rejects an order the wallet cannot margin.
	CodeMarginInsufficient = -2019

	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015
	codeBadSignature    = -1022
	codeBadAPIKeyFormat = -2014
	codeRejectedMbxKey  = -2015
)

// IsCode reports whether err carries an exchange API error with the given
// code.
func IsCode(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// wrap prefixes err with the operation and, for throttling and credential
// failures, the matching domain sentinel. The API error stays reachable
// through errors.As.
func wrap(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests, codeTooManyOrders:
			return fmt.Errorf("binance: %s: %w: %w", op, domain.ErrRateLimited, err)
		case codeBadSignature, codeBadAPIKeyFormat, codeRejectedMbxKey:
			return fmt.Errorf("binance: %s: %w: %w", op, domain.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("binance: %s: %w", op, err)
}

// Client is the trading client for Binance Futures. It owns the API
// credentials; every signed call carries the configured recvWindow.
type Client struct {
	api        *futures.Client
	recvWindow int64
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.api.HTTPClient = hc }
}

// WithRecvWindow sets the recvWindow sent with signed requests.
func WithRecvWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.recvWindow = d.Milliseconds()
		}
	}
}

// NewClient creates a trading client. baseURL is MainnetBaseURL,
// TestnetBaseURL or a test server.
func NewClient(baseURL, apiKey, secretKey string, opts ...Option) *Client {
	api := futures.NewClient(apiKey, secretKey)
	api.BaseURL = baseURL
	api.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	api.Logger = log.New(io.Discard, "", 0)

	c := &Client{
		api:        api,
		recvWindow: defaultRecvWindow.Milliseconds(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the REST root the client talks to.
func (c *Client) BaseURL() string { return c.api.BaseURL }

func (c *Client) window() futures.RequestOption {
	return futures.WithRecvWindow(c.recvWindow)
}
