package domain

import (
	"context"
	"time"
)

// SnapshotSource tells where an AccountSnapshot came from.
type SnapshotSource string

const (
	SnapshotFromStream SnapshotSource = "stream"
	SnapshotFromQuery  SnapshotSource = "query"
)

// AccountSnapshot is the latest known account balance. A newer snapshot
// always replaces an older one in full.
type AccountSnapshot struct {
	TotalBalance     float64        `json:"total_balance"`
	AvailableBalance float64        `json:"available_balance"`
	Source           SnapshotSource `json:"source"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SnapshotMirror publishes account snapshots outside the process.
type SnapshotMirror interface {
	SetAccount(ctx context.Context, snap AccountSnapshot) error
}
