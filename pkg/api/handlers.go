package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trcoder/trcoder/pkg/cost"
)

func (s *Server) handleConnectProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RepoName     string `json:"repo_name"`
		RepoRootHash string `json:"repo_root_hash"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "invalid body"})
		return
	}

	project, err := s.orch.ConnectProject(identityFrom(r), req.RepoName, req.RepoRootHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	usage, err := cost.UsageForMonth(s.store, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	credits, err := s.bill.CreditBalance(identity.OrgID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity":       identity,
		"month_usage":    usage,
		"credit_balance": credits,
	})
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text        string            `json:"text,omitempty"`
		Attachments map[string]string `json:"attachments,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "invalid body"})
		return
	}

	plan, err := s.orch.CreatePlan(identityFrom(r), chi.URLParam(r, "projectID"), req.Text, req.Attachments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID     string `json:"plan_id,omitempty"`
		RepoCommit string `json:"repo_commit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "invalid body"})
		return
	}

	planID := req.PlanID
	if planID == "" {
		latest, err := s.store.LatestPlan(chi.URLParam(r, "projectID"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not_found", "message": "no plan to approve"})
			return
		}
		planID = latest.ID
	}

	plan, err := s.orch.ApprovePlan(identityFrom(r), planID, req.RepoCommit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handlePlanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.PlanStatusFor(r.Context(), identityFrom(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePlanTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.orch.ApprovedTasks(chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}
