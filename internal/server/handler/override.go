package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/service"
)

// OverrideHandler serves the manual-intervention endpoints.
type OverrideHandler struct {
	overrides *service.OverrideService
	logger    *slog.Logger
}

// NewOverrideHandler creates an OverrideHandler over the override service.
func NewOverrideHandler(overrides *service.OverrideService, logger *slog.Logger) *OverrideHandler {
	return &OverrideHandler{overrides: overrides, logger: logger}
}

type applyOverrideRequest struct {
	Ticker   string `json:"ticker"`
	Strategy string `json:"strategy"`
	Kind     string `json:"kind"`
	Source   string `json:"source"`
}

// ApplyOverride places a hold, force-exit, or smart-stop on a live position.
// POST /api/overrides
func (h *OverrideHandler) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	var req applyOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	strategy, ok := strategyParam(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}
	if req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	o, err := h.overrides.Apply(r.Context(), req.Ticker, strategy, domain.OverrideKind(req.Kind), source)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOverride returns the active override for a position, if any.
// GET /api/overrides/{ticker}/{strategy}
func (h *OverrideHandler) GetOverride(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.PathValue("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}
	ticker := r.PathValue("ticker")

	o, err := h.overrides.Get(r.Context(), ticker, strategy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "no active override")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ClearOverride lifts an override before it expires.
// DELETE /api/overrides/{ticker}/{strategy}
func (h *OverrideHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	strategy, ok := strategyParam(r.PathValue("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
		return
	}
	ticker := r.PathValue("ticker")

	if err := h.overrides.Clear(r.Context(), ticker, strategy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "override cleared"})
}
