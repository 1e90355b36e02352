package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// DecisionStore implements domain.DecisionStore. The position at decision
// time is stored as JSONB; NULL means flat.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a DecisionStore backed by pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionSelectCols = `id, symbol, ts, signal, amount, confidence, reason, position`

func scanDecisionRows(rows pgx.Rows) ([]domain.DecisionRecord, error) {
	defer rows.Close()
	var out []domain.DecisionRecord
	for rows.Next() {
		var (
			r                  domain.DecisionRecord
			signal, confidence string
			posJSON            []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.Timestamp, &signal, &r.Decision.Amount,
			&confidence, &r.Decision.Reason, &posJSON,
		); err != nil {
			return nil, err
		}
		r.Decision.Signal = domain.Signal(signal)
		r.Decision.Confidence = domain.Confidence(confidence)
		if len(posJSON) > 0 && string(posJSON) != "null" {
			var pos domain.Position
			if err := json.Unmarshal(posJSON, &pos); err != nil {
				return nil, fmt.Errorf("unmarshal position: %w", err)
			}
			r.Position = &pos
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert appends a decision. A decision whose ID is already stored is
// silently skipped via ON CONFLICT DO NOTHING.
func (s *DecisionStore) Insert(ctx context.Context, r domain.DecisionRecord) error {
	var posJSON []byte
	if r.Position != nil {
		b, err := json.Marshal(r.Position)
		if err != nil {
			return fmt.Errorf("postgres: marshal decision position: %w", err)
		}
		posJSON = b
	}

	const query = `
		INSERT INTO decisions (` + decisionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Symbol, r.Timestamp, string(r.Decision.Signal), r.Decision.Amount,
		string(r.Decision.Confidence), r.Decision.Reason, posJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", r.ID, err)
	}
	return nil
}

// List returns decisions newest first.
func (s *DecisionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.DecisionRecord, error) {
	tail, args := listTail(opts, "ts", true)
	rows, err := s.pool.Query(ctx, `SELECT `+decisionSelectCols+` FROM decisions`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	out, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return out, nil
}

// ListBefore returns every decision strictly before the cutoff, oldest first.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+` FROM decisions WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before: %w", err)
	}
	out, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return out, nil
}
