package domain

import "time"

// CacheEntry is what one cycle learned about a symbol. Usable means the
// position may stand in for a fresh query in the next cycle.
type CacheEntry struct {
	Account  *AccountSnapshot `json:"account,omitempty"`
	Position *Position        `json:"position,omitempty"`
	Usable   bool             `json:"usable"`
}

// CycleCache maps symbols to their cache entries.
type CycleCache map[string]CacheEntry

// Clone returns a shallow copy of the map.
func (c CycleCache) Clone() CycleCache {
	out := make(CycleCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// CycleSummary describes a finished (or failed) cycle.
type CycleSummary struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Analyzed   []string          `json:"analyzed"`
	Excluded   []string          `json:"excluded,omitempty"`
	Executed   []string          `json:"executed,omitempty"`
	Strategy   PortfolioStrategy `json:"strategy,omitempty"`
	Trades     int               `json:"trades"`
	Error      string            `json:"error,omitempty"`
}
