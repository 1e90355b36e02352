package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestRecordTradeAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	s, err := New(dir)
	require.NoError(t, err)

	pnl := 3.5
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordTrade(context.Background(), domain.TradeResult{
		ID: "t1", Symbol: "BTCUSDT", Action: domain.TradeOpenLong, Price: 100, Amount: 0.05, Timestamp: ts, PnL: &pnl,
	}))
	require.NoError(t, s.RecordTrade(context.Background(), domain.TradeResult{
		ID: "t2", Symbol: "ETHUSDT", Action: domain.TradeHold, Timestamp: ts, Failed: true, OrderDetails: "ERROR: boom",
	}))

	lines := readLines(t, filepath.Join(dir, "trades.jsonl"))
	require.Len(t, lines, 2)

	var first domain.TradeResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "BTCUSDT", first.Symbol)
	require.NotNil(t, first.PnL)
	assert.InDelta(t, 3.5, *first.PnL, 1e-12)
	assert.Contains(t, lines[1], `"failed":true`)
}

func TestRecordDecisionSeparateFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.RecordDecision(context.Background(), domain.DecisionRecord{
		ID: "d1", Symbol: "BTCUSDT", Decision: domain.TradingDecision{Signal: domain.SignalHold},
	}))
	assert.Len(t, readLines(t, filepath.Join(dir, "decisions.jsonl")), 1)
	_, err = os.Stat(filepath.Join(dir, "trades.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestConcurrentAppendsKeepLinesWhole(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordTrade(context.Background(), domain.TradeResult{ID: fmt.Sprint(i), Symbol: "BTCUSDT"}))
		}()
	}
	wg.Wait()

	lines := readLines(t, filepath.Join(dir, "trades.jsonl"))
	require.Len(t, lines, 50)
	for _, l := range lines {
		var tr domain.TradeResult
		assert.NoError(t, json.Unmarshal([]byte(l), &tr))
	}
}
