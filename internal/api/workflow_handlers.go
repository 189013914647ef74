package api

import (
	"encoding/json"
	"net/http"

	"promptplay/internal/workflow"
)

// handleWorkflowNotify is the external notification channel: the upstream
// system posts terminal workflow states here and the hub routes them to
// whichever tracker is bound to the id. Unmatched or stale notifications
// are accepted and dropped.
func (s *Server) handleWorkflowNotify(w http.ResponseWriter, r *http.Request) {
	var n workflow.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if n.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	if n.State != "completed" && n.State != "failed" {
		writeError(w, http.StatusBadRequest, "state must be completed or failed")
		return
	}

	s.hub.Notify(n)
	w.WriteHeader(http.StatusAccepted)
}

// handleWorkflowStatus reports the tracker state for a workflow id.
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok := s.hub.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no tracker bound to workflow id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflowId": id,
		"status":     status,
	})
}
