// Package performance keeps running totals of realized trade results.
package performance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Tracker accumulates a PerformanceSnapshot and persists it as JSON.
type Tracker struct {
	path string
	now  func() time.Time

	mu   sync.RWMutex
	snap domain.PerformanceSnapshot
}

// NewTracker loads the snapshot at path if one exists. An empty path keeps
// the tracker in memory only.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{path: path, now: func() time.Time { return time.Now().UTC() }}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("performance: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &t.snap); err != nil {
		return nil, fmt.Errorf("performance: decode %s: %w", path, err)
	}
	return t, nil
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() domain.PerformanceSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copySnapshot(t.snap)
}

// Update folds one trade into the totals. Hold results, including failed
// trades, are ignored and report false.
func (t *Tracker) Update(trade domain.TradeResult) bool {
	if trade.Action == domain.TradeHold {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.snap
	s.TotalTrades++

	if trade.PnL != nil {
		pnl := *trade.PnL
		s.TotalRealizedPnL += pnl

		if s.BestTrade == nil || pnl > *s.BestTrade {
			s.BestTrade = &pnl
		}
		if s.WorstTrade == nil || pnl < *s.WorstTrade {
			worst := pnl
			s.WorstTrade = &worst
		}

		switch {
		case pnl > 0:
			s.WinningTrades++
		case pnl < 0:
			s.LosingTrades++
		}

		equity := s.TotalRealizedPnL
		if equity > s.EquityPeak {
			s.EquityPeak = equity
		} else if dd := s.EquityPeak - equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}

	now := t.now()
	s.LastUpdate = &now
	return true
}

// Persist writes the snapshot as indented JSON, replacing the file
// atomically.
func (t *Tracker) Persist() error {
	if t.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("performance: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("performance: create dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("performance: write: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("performance: rename: %w", err)
	}
	return nil
}

func copySnapshot(s domain.PerformanceSnapshot) domain.PerformanceSnapshot {
	out := s
	if s.BestTrade != nil {
		v := *s.BestTrade
		out.BestTrade = &v
	}
	if s.WorstTrade != nil {
		v := *s.WorstTrade
		out.WorstTrade = &v
	}
	if s.LastUpdate != nil {
		v := *s.LastUpdate
		out.LastUpdate = &v
	}
	return out
}
