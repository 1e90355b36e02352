package performance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func closed(pnl float64) domain.TradeResult {
	return domain.TradeResult{Symbol: "BTCUSDT", Action: domain.TradeOpenLong, PnL: &pnl}
}

func TestUpdateSkipsHold(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)

	assert.False(t, tr.Update(domain.TradeResult{Action: domain.TradeHold}))
	assert.False(t, tr.Update(domain.TradeResult{Action: domain.TradeHold, Failed: true}))
	assert.Zero(t, tr.Snapshot().TotalTrades)
	assert.Nil(t, tr.Snapshot().LastUpdate)
}

func TestUpdateTracksDrawdown(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	require.True(t, tr.Update(closed(10)))
	require.True(t, tr.Update(closed(-4)))
	require.True(t, tr.Update(closed(-3)))
	require.True(t, tr.Update(domain.TradeResult{Action: domain.TradeOpenShort}))
	require.True(t, tr.Update(closed(12)))

	s := tr.Snapshot()
	assert.EqualValues(t, 5, s.TotalTrades)
	assert.EqualValues(t, 2, s.WinningTrades)
	assert.EqualValues(t, 2, s.LosingTrades)
	assert.InDelta(t, 15.0, s.TotalRealizedPnL, 1e-9)
	require.NotNil(t, s.BestTrade)
	require.NotNil(t, s.WorstTrade)
	assert.InDelta(t, 12.0, *s.BestTrade, 1e-9)
	assert.InDelta(t, -4.0, *s.WorstTrade, 1e-9)
	assert.InDelta(t, 15.0, s.EquityPeak, 1e-9)
	assert.InDelta(t, 7.0, s.MaxDrawdown, 1e-9)
	require.NotNil(t, s.LastUpdate)
	assert.Equal(t, fixed, *s.LastUpdate)
}

func TestZeroPnLIsNeitherWinNorLoss(t *testing.T) {
	tr, _ := NewTracker("")
	tr.Update(closed(0))
	s := tr.Snapshot()
	assert.EqualValues(t, 1, s.TotalTrades)
	assert.Zero(t, s.WinningTrades)
	assert.Zero(t, s.LosingTrades)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr, _ := NewTracker("")
	tr.Update(closed(5))
	s := tr.Snapshot()
	*s.BestTrade = 999
	assert.InDelta(t, 5.0, *tr.Snapshot().BestTrade, 1e-9)
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "performance.json")
	tr, err := NewTracker(path)
	require.NoError(t, err)
	tr.Update(closed(2.5))
	require.NoError(t, tr.Persist())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"total_realized_pnl\": 2.5")

	again, err := NewTracker(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.Snapshot().TotalTrades)
	assert.InDelta(t, 2.5, again.Snapshot().TotalRealizedPnL, 1e-9)
}

func TestNewTrackerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "performance.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := NewTracker(path)
	assert.Error(t, err)
}
