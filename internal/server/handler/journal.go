package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// JournalReader lists persisted trades and decisions.
type JournalReader interface {
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TradeResult, error)
	ListDecisions(ctx context.Context, opts domain.ListOpts) ([]domain.DecisionRecord, error)
}

// JournalHandler serves trade and decision history.
type JournalHandler struct {
	journal JournalReader
	logger  *slog.Logger
}

func NewJournalHandler(journal JournalReader, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, logger: logger.With(slog.String("handler", "journal"))}
}

// ListTrades handles GET /api/trades.
func (h *JournalHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.journal.ListTrades(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeResult{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListDecisions handles GET /api/decisions.
func (h *JournalHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.journal.ListDecisions(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "list decisions", err)
		return
	}
	if recs == nil {
		recs = []domain.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *JournalHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	h.logger.ErrorContext(r.Context(), op, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}
