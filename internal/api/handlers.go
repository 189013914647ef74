package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"promptplay/internal/session"
)

// handleListSessions returns sessions, optionally filtered to active ones.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []session.Session
	if r.URL.Query().Get("active") == "true" {
		sessions = s.store.ActiveSessions()
	} else {
		sessions = s.store.Sessions()
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleCreateSession creates a new session from the request body.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID              string                 `json:"id"`
		Name            string                 `json:"name"`
		Deployment      *session.DeploymentRef `json:"selectedDeployment"`
		PromptID        string                 `json:"promptId"`
		IsPromptSession bool                   `json:"isPromptSession"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.CreateSession(r.Context(), session.Session{
		ID:              req.ID,
		Name:            req.Name,
		Deployment:      req.Deployment,
		PromptID:        req.PromptID,
		IsPromptSession: req.IsPromptSession,
	})
	if err != nil {
		if errors.Is(err, session.ErrDuplicateID) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateSession merges the provided fields into an existing session.
// Unknown ids are a silent no-op, matching the store semantics.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                     *string                `json:"name"`
		TotalTokens              *int                   `json:"totalTokens"`
		Active                   *bool                  `json:"active"`
		Deployment               *session.DeploymentRef `json:"selectedDeployment"`
		PromptID                 *string                `json:"promptId"`
		IsPromptSession          *bool                  `json:"isPromptSession"`
		DeploymentLocked         *bool                  `json:"deploymentLocked"`
		InputWorkflowID          *string                `json:"inputWorkflowId"`
		OutputWorkflowID         *string                `json:"outputWorkflowId"`
		SystemPromptWorkflowID   *string                `json:"systemPromptWorkflowId"`
		PromptMessagesWorkflowID *string                `json:"promptMessagesWorkflowId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.store.UpdateSession(r.Context(), r.PathValue("id"), session.SessionUpdate{
		Name:                     req.Name,
		TotalTokens:              req.TotalTokens,
		Active:                   req.Active,
		Deployment:               req.Deployment,
		PromptID:                 req.PromptID,
		IsPromptSession:          req.IsPromptSession,
		DeploymentLocked:         req.DeploymentLocked,
		InputWorkflowID:          req.InputWorkflowID,
		OutputWorkflowID:         req.OutputWorkflowID,
		SystemPromptWorkflowID:   req.SystemPromptWorkflowID,
		PromptMessagesWorkflowID: req.PromptMessagesWorkflowID,
	})

	// A freshly reported workflow id means the matching save operation just
	// started; bind its tracker so notifications find it.
	s.trackWorkflow("save input schema", req.InputWorkflowID)
	s.trackWorkflow("save output schema", req.OutputWorkflowID)
	s.trackWorkflow("save system prompt", req.SystemPromptWorkflowID)
	s.trackWorkflow("save prompt messages", req.PromptMessagesWorkflowID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) trackWorkflow(operation string, workflowID *string) {
	if workflowID == nil || *workflowID == "" {
		return
	}
	s.hub.Track(s.trackers[operation], *workflowID)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.store.DeleteSession(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableSession(w http.ResponseWriter, r *http.Request) {
	s.store.EnableSession(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableSession(w http.ResponseWriter, r *http.Request) {
	s.store.DisableSession(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages returns the session's messages in append order.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Messages(id))
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role    string          `json:"role"`
		Content string          `json:"content"`
		Items   json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}

	added, err := s.store.AddMessage(r.Context(), r.PathValue("id"), session.Message{
		Role:    req.Role,
		Content: req.Content,
		Items:   req.Items,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// handleFeedback annotates one message in place.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.SetFeedback(r.Context(), r.PathValue("id"), r.PathValue("mid"), req.Value)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrInvalidFeedback):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusNotFound, err.Error())
	}
}

// handleTruncate drops the named message and everything after it, for
// edit-and-resend.
func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	if err := s.store.DeleteMessagesAfter(r.Context(), r.PathValue("id"), req.MessageID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, ok := s.store.Note(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no note for session")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handlePutNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.store.SetNote(r.Context(), r.PathValue("id"), req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// handleListPresets returns all presets plus the current selection.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	current := ""
	if p, ok := s.store.CurrentPreset(); ok {
		current = p.Name
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": s.store.Presets(),
		"current": current,
	})
}

func (s *Server) handleUpsertPreset(w http.ResponseWriter, r *http.Request) {
	var preset session.Preset
	if err := json.NewDecoder(r.Body).Decode(&preset); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(preset.Name) == "" {
		writeError(w, http.StatusBadRequest, "preset name is required")
		return
	}
	s.store.UpsertPreset(r.Context(), preset)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCurrentPreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SetCurrentPreset(r.Context(), req.Name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
