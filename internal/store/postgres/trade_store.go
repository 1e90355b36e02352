package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, action, price, amount, ts, reason, pnl, order_details, failed`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeResult, error) {
	defer rows.Close()
	var trades []domain.TradeResult
	for rows.Next() {
		var (
			t      domain.TradeResult
			action string
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &action, &t.Price, &t.Amount,
			&t.Timestamp, &t.Reason, &t.PnL, &t.OrderDetails, &t.Failed,
		); err != nil {
			return nil, err
		}
		t.Action = domain.TradeAction(action)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a trade outcome, failed orders included. A trade whose ID
// is already stored is silently skipped via ON CONFLICT DO NOTHING, so a
// retried write never duplicates a row.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeResult) error {
	const query = `
		INSERT INTO trades (` + tradeSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Action), t.Price, t.Amount,
		t.Timestamp, t.Reason, t.PnL, t.OrderDetails, t.Failed,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns trades newest first, optionally filtered by symbol and time.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeResult, error) {
	tail, args := listTail(opts, "ts", true)
	rows, err := s.pool.Query(ctx, `SELECT `+tradeSelectCols+` FROM trades`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns every trade with a timestamp strictly before the
// cutoff, oldest first. The archiver uses it; nothing is deleted.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}
