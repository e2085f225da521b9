package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trcoder/trcoder/pkg/types"
)

// pack introspection: every endpoint first loads the pack, then reaches the
// working tree through the runner bridge. The server itself never opens a
// repository file.

func (s *Server) loadPack(w http.ResponseWriter, r *http.Request) *types.ContextPack {
	pack, err := s.store.GetPack(chi.URLParam(r, "packID"))
	if err != nil {
		s.writeError(w, err)
		return nil
	}
	return pack
}

func (s *Server) handlePackStats(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pack_id":         pack.PackID,
		"run_id":          pack.RunID,
		"task_id":         pack.TaskID,
		"mode":            string(pack.Mode),
		"pinned_sources":  len(pack.PinnedSources),
		"file_entries":    len(pack.FileEntries),
		"budgets":         pack.Budgets,
		"redaction_stats": pack.RedactionStats,
		"created_at":      pack.CreatedAt,
	})
}

func (s *Server) handlePackRebuild(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}

	var req struct {
		Budgets *types.Budgets `json:"budgets,omitempty"`
		Pins    []string       `json:"pins,omitempty"`
	}
	decodeBody(r, &req)

	rebuilt, err := s.packs.Rebuild(pack.PackID, req.Budgets, req.Pins)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebuilt)
}

func (s *Server) handlePackList(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	res, err := s.bridge.List(r.Context(), pack.ProjectID, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "entries": res.Stdout, "exit_code": res.ExitCode})
}

func (s *Server) handlePackRead(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "path is required"})
		return
	}

	content, err := s.bridge.ReadFile(r.Context(), pack.ProjectID, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "content": content})
}

func (s *Server) handlePackSearch(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation_failed", "message": "pattern is required"})
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	res, err := s.bridge.Grep(r.Context(), pack.ProjectID, pattern, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": res.Stdout, "exit_code": res.ExitCode})
}

func (s *Server) handlePackDiff(w http.ResponseWriter, r *http.Request) {
	s.packExec(w, r, "git diff")
}

func (s *Server) handlePackGitLog(w http.ResponseWriter, r *http.Request) {
	s.packExec(w, r, "git log --oneline -20")
}

func (s *Server) packExec(w http.ResponseWriter, r *http.Request, command string) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}

	res, err := s.orch.ExecReadOnly(r.Context(), pack.ProjectID, command)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"output": res.Stdout, "exit_code": res.ExitCode})
}

// handlePackFailures returns the run's failed verify events
func (s *Server) handlePackFailures(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}

	events, err := s.store.TailEventsForRun(pack.RunID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var failures []*types.LedgerEvent
	for _, e := range events {
		if e.EventType != types.EventVerifyFinished {
			continue
		}
		if passed, ok := e.Payload["passed"].(bool); ok && !passed {
			failures = append(failures, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failures": failures})
}

func (s *Server) handlePackLogs(w http.ResponseWriter, r *http.Request) {
	pack := s.loadPack(w, r)
	if pack == nil {
		return
	}

	events, err := s.store.TailEventsForRun(pack.RunID, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": pack.RunID,
		"events": events,
	})
}
