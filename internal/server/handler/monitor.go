package handler

import (
	"log/slog"
	"net/http"

	"github.com/alphadeck/stockpilot/internal/service"
)

// MonitorHandler exposes an on-demand monitor pass, used by schedulers and
// operators between the built-in ticks.
type MonitorHandler struct {
	monitor *service.MonitorService
	logger  *slog.Logger
}

type tickReportJSON struct {
	Strategy     string   `json:"strategy"`
	Evaluated    int      `json:"evaluated"`
	Closed       int      `json:"closed"`
	Held         int      `json:"held"`
	Skipped      int      `json:"skipped"`
	StopsUpdated int      `json:"stops_updated"`
	ProfitLocks  int      `json:"profit_locks"`
	Errors       []string `json:"errors,omitempty"`
}

func toReportJSON(reports []service.TickReport) []tickReportJSON {
	out := make([]tickReportJSON, 0, len(reports))
	for _, r := range reports {
		j := tickReportJSON{
			Strategy:     string(r.Strategy),
			Evaluated:    r.Evaluated,
			Closed:       r.Closed,
			Held:         r.Held,
			Skipped:      r.Skipped,
			StopsUpdated: r.StopsUpdated,
			ProfitLocks:  r.ProfitLocks,
		}
		for _, e := range r.Errors {
			j.Errors = append(j.Errors, e.Error())
		}
		out = append(out, j)
	}
	return out
}

// NewMonitorHandler creates a MonitorHandler over the monitor service.
func NewMonitorHandler(monitor *service.MonitorService, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, logger: logger}
}

// RunTick evaluates all open positions once. With ?strategy= it covers one
// pool, otherwise both.
// POST /api/monitor/tick
func (h *MonitorHandler) RunTick(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("strategy"); raw != "" {
		strategy, ok := strategyParam(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "strategy must be daily or swing")
			return
		}
		report, err := h.monitor.Tick(r.Context(), strategy)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": toReportJSON([]service.TickReport{report})})
		return
	}

	reports, err := h.monitor.TickAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": toReportJSON(reports)})
}
