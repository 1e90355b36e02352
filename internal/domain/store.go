package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Symbol string
	Since  *time.Time
	Until  *time.Time
}

// TradeSink is an append-only record of trade outcomes and decisions, keyed
// by symbol and timestamp.
type TradeSink interface {
	RecordTrade(ctx context.Context, trade TradeResult) error
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// TradeStore persists trade results.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeResult) error
	List(ctx context.Context, opts ListOpts) ([]TradeResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeResult, error)
}

// DecisionStore persists final decisions.
type DecisionStore interface {
	Insert(ctx context.Context, rec DecisionRecord) error
	List(ctx context.Context, opts ListOpts) ([]DecisionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]DecisionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
