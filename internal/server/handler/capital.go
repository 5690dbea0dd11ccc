package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/ledger"
)

// CapitalHandler serves capital-account queries and the entries-resume
// control.
type CapitalHandler struct {
	book      *ledger.Ledger
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewCapitalHandler creates a CapitalHandler over the ledger.
func NewCapitalHandler(book *ledger.Ledger, snapshots domain.SnapshotStore, logger *slog.Logger) *CapitalHandler {
	return &CapitalHandler{book: book, snapshots: snapshots, logger: logger}
}

// GetCapital returns the capital account with derived deployed capital.
// GET /api/capital/{strategy}
func (h *CapitalHandler) GetCapital(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.PathValue("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}

	acct, err := h.book.Account(r.Context(), strategy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	deployed, err := h.book.Deployed(r.Context(), strategy)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":          acct,
		"deployed_capital": deployed,
		"total_equity":     acct.TotalEquity(deployed),
	})
}

// ResumeEntries clears the entries-halted flag after manual reconciliation.
// POST /api/capital/{strategy}/resume
func (h *CapitalHandler) ResumeEntries(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.PathValue("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}

	if err := h.book.ResumeEntries(r.Context(), strategy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "entries resumed"})
}

// GetSnapshot returns the daily snapshot for a strategy and date.
// GET /api/capital/{strategy}/snapshots/{date}
func (h *CapitalHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.PathValue("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}
	date, err := time.Parse("2006-01-02", r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	snap, err := h.snapshots.Get(r.Context(), strategy, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
