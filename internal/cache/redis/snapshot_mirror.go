package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// AccountKey is the hash holding the latest account snapshot.
const AccountKey = "perpbot:account"

// SnapshotMirror implements domain.SnapshotMirror on a Redis hash and
// publishes each update on AccountKey. Every field is written on each update,
// so readers of the hash never see a mix of two snapshots.
type SnapshotMirror struct {
	rdb *redis.Client
}

// NewSnapshotMirror creates a SnapshotMirror on c.
func NewSnapshotMirror(c *Client) *SnapshotMirror {
	return &SnapshotMirror{rdb: c.Underlying()}
}

// SetAccount stores snap and publishes its balances in one MULTI/EXEC
// transaction.
func (m *SnapshotMirror) SetAccount(ctx context.Context, snap domain.AccountSnapshot) error {
	fields := encodeSnapshot(snap)
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, AccountKey, values)
	pipe.Publish(ctx, AccountKey, fields["total_balance"]+" "+fields["available_balance"])
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set account: %w", err)
	}
	return nil
}

func encodeSnapshot(s domain.AccountSnapshot) map[string]string {
	return map[string]string{
		"total_balance":     strconv.FormatFloat(s.TotalBalance, 'f', -1, 64),
		"available_balance": strconv.FormatFloat(s.AvailableBalance, 'f', -1, 64),
		"source":            string(s.Source),
		"updated_at":        s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

var _ domain.SnapshotMirror = (*SnapshotMirror)(nil)
