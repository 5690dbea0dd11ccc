package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alphadeck/stockpilot/internal/domain"
	"github.com/alphadeck/stockpilot/internal/service"
)

// AllocationHandler serves the entry-planning endpoints. Plan is a dry run;
// Execute sizes and opens positions in one call.
type AllocationHandler struct {
	entries *service.EntryService
	logger  *slog.Logger
}

// NewAllocationHandler creates an AllocationHandler over the entry service.
func NewAllocationHandler(entries *service.EntryService, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{entries: entries, logger: logger}
}

type allocationRequest struct {
	Strategy   string             `json:"strategy"`
	Regime     string             `json:"regime"`
	Candidates []domain.Candidate `json:"candidates"`
}

func (req *allocationRequest) parse() (domain.Strategy, domain.Regime, string) {
	strategy, ok := strategyParam(req.Strategy)
	if !ok {
		return "", "", "strategy must be daily or swing"
	}
	regime := domain.Regime(req.Regime)
	switch regime {
	case domain.RegimeRiskOn, domain.RegimeNeutral, domain.RegimeRiskOff:
	case "":
		regime = domain.RegimeNeutral
	default:
		return "", "", "regime must be risk-on, neutral, or risk-off"
	}
	if len(req.Candidates) == 0 {
		return "", "", "candidates is required"
	}
	return strategy, regime, ""
}

// PlanAllocations sizes the candidate list without opening anything.
// POST /api/allocations/plan
func (h *AllocationHandler) PlanAllocations(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	strategy, regime, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	plan, err := h.entries.Plan(r.Context(), strategy, req.Candidates, regime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":    strategy,
		"regime":      regime,
		"budget":      plan.Budget,
		"allocations": plan.Allocations,
		"rejections":  plan.Rejections,
	})
}

// ExecuteAllocations sizes the candidate list and opens the resulting
// positions. Per-allocation failures are reported alongside the opens that
// succeeded.
// POST /api/allocations/execute
func (h *AllocationHandler) ExecuteAllocations(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	strategy, regime, msg := req.parse()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	plan, err := h.entries.Plan(r.Context(), strategy, req.Candidates, regime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	opened, errs := h.entries.OpenAll(r.Context(), strategy, plan)

	failures := make([]string, 0, len(errs))
	for _, e := range errs {
		failures = append(failures, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":   strategy,
		"regime":     regime,
		"opened":     opened,
		"failures":   failures,
		"rejections": plan.Rejections,
	})
}
