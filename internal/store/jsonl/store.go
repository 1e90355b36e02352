// Package jsonl is the always-on local trade journal: one JSON object per
// line under a log directory.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	tradesFile    = "trades.jsonl"
	decisionsFile = "decisions.jsonl"
)

// Store implements domain.TradeSink on append-only files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// RecordTrade appends a trade line to trades.jsonl.
func (s *Store) RecordTrade(ctx context.Context, trade domain.TradeResult) error {
	return s.append(tradesFile, trade)
}

// RecordDecision appends a decision line to decisions.jsonl.
func (s *Store) RecordDecision(ctx context.Context, rec domain.DecisionRecord) error {
	return s.append(decisionsFile, rec)
}

func (s *Store) append(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("jsonl: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("jsonl: close %s: %w", name, err)
	}
	return nil
}
