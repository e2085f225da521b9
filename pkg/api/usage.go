package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/trcoder/trcoder/pkg/artifacts"
	"github.com/trcoder/trcoder/pkg/cost"
	"github.com/trcoder/trcoder/pkg/types"
)

func (s *Server) handleUsageMonth(w http.ResponseWriter, r *http.Request) {
	usage, err := cost.UsageForMonth(s.store, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleUsageToday(w http.ResponseWriter, r *http.Request) {
	usage, err := cost.UsageForDay(s.store, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleInvoicePreview(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	preview, err := cost.PreviewInvoice(s.cfg, s.store, identity.BillingPlan, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleCostExplain returns the persisted router decisions for a run, or for
// one task within it.
func (s *Server) handleCostExplain(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	taskID := r.URL.Query().Get("task_id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "run_id is required"})
		return
	}

	execs, err := s.store.ListTaskExecutionsByRun(runID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type explained struct {
		TaskID   string                `json:"task_id"`
		Decision *types.RouterDecision `json:"decision"`
		CostUSD  float64               `json:"cost_usd"`
	}
	var out []explained
	for _, exec := range execs {
		if taskID != "" && exec.PlanTaskID != taskID {
			continue
		}
		out = append(out, explained{
			TaskID:   exec.PlanTaskID,
			Decision: exec.RouterDecision,
			CostUSD:  exec.CostUSD,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "tasks": out})
}

func (s *Server) handleLogsTail(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "run_id is required"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.store.TailEventsForRun(runID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleLedgerExport streams the full ledger as JSON lines
func (s *Server) handleLedgerExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.AllEvents()
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := artifacts.ExportLedger(w, events); err != nil {
		s.logger.Error().Err(err).Msg("ledger export aborted")
	}
}
