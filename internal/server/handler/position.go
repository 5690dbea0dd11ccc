package handler

import (
	"log/slog"
	"net/http"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// PositionHandler serves position queries.
type PositionHandler struct {
	positions domain.PositionStore
	trades    domain.TradeStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the required stores.
func NewPositionHandler(positions domain.PositionStore, trades domain.TradeStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, trades: trades, logger: logger}
}

// ListPositions returns the open positions for a strategy.
// GET /api/positions?strategy=swing
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}

	positions, err := h.positions.ListOpen(r.Context(), strategy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":  strategy,
		"positions": positions,
		"count":     len(positions),
	})
}

// GetPosition returns one position with its trade history.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.positions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	trades, err := h.trades.ListByPosition(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position": p,
		"trades":   trades,
	})
}
