package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
	ErrSessionExpired     = errors.New("stream session expired")
	ErrNoSession          = errors.New("stream session not started")
	ErrMalformedDecision  = errors.New("malformed decision provider output")
	ErrInsufficientKlines = errors.New("insufficient klines")
	ErrUnknownSymbol      = errors.New("unknown symbol")
)
