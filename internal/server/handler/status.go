package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// AccountView exposes the cached account snapshot.
type AccountView interface {
	Latest() (domain.AccountSnapshot, bool)
}

// CycleView exposes the pipeline's last cycle and cycle cache.
type CycleView interface {
	LastCycle() (domain.CycleSummary, bool)
	Cache() domain.CycleCache
}

// CycleHistory reads recent cycle summaries from the durable stream.
type CycleHistory interface {
	StreamLatest(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// PerformanceView exposes the running performance snapshot.
type PerformanceView interface {
	Snapshot() domain.PerformanceSnapshot
}

// StatusHandler serves the live state of the bot.
type StatusHandler struct {
	accounts AccountView
	cycles   CycleView
	history  CycleHistory
	stream   string
	perf     PerformanceView
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler. cycles and history may be nil
// when no pipeline runs in this process (monitor mode) or Redis is off.
func NewStatusHandler(accounts AccountView, cycles CycleView, history CycleHistory, stream string, perf PerformanceView, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		accounts: accounts,
		cycles:   cycles,
		history:  history,
		stream:   stream,
		perf:     perf,
		logger:   logger.With(slog.String("handler", "status")),
	}
}

// Account handles GET /api/account.
func (h *StatusHandler) Account(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.accounts.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no account snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type cycleResponse struct {
	Last    *domain.CycleSummary  `json:"last"`
	Cache   domain.CycleCache     `json:"cache"`
	History []domain.CycleSummary `json:"history,omitempty"`
}

// Cycle handles GET /api/cycle. ?history=N adds up to N recent summaries
// from the cycle stream.
func (h *StatusHandler) Cycle(w http.ResponseWriter, r *http.Request) {
	var resp cycleResponse
	if h.cycles != nil {
		if last, ok := h.cycles.LastCycle(); ok {
			resp.Last = &last
		}
		resp.Cache = h.cycles.Cache()
	}

	if v := r.URL.Query().Get("history"); v != "" && h.history != nil {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errBadParam("history").Error())
			return
		}
		msgs, err := h.history.StreamLatest(r.Context(), h.stream, min(n, maxLimit))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "read cycle history", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cycle history unavailable")
			return
		}
		for _, m := range msgs {
			var s domain.CycleSummary
			if err := json.Unmarshal(m.Payload, &s); err != nil {
				h.logger.WarnContext(r.Context(), "skip malformed cycle entry", slog.String("id", m.ID))
				continue
			}
			resp.History = append(resp.History, s)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Performance handles GET /api/performance.
func (h *StatusHandler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.perf.Snapshot())
}
