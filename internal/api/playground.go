package api

import (
	"net/http"
	"strings"

	"promptplay/internal/session"
)

// handlePlayground bootstraps a playground view from query parameters.
//
// `access_key` switches the storage identity before anything else.
// `promptIds` (comma-separated) establishes prompt mode: default sessions
// are cleared and one locked session per prompt id is ensured. Without it
// the playground runs in default mode: prompt sessions are cleared and at
// least one ordinary session exists. The two modes never intermingle.
// `show_form` is relayed to embedders over the websocket.
func (s *Server) handlePlayground(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if key := q.Get("access_key"); key != "" {
		s.store.SwitchIdentity(ctx, session.DeriveKey(key))
	}

	model := q.Get("model")
	var deployment *session.DeploymentRef
	if model != "" {
		deployment = &session.DeploymentRef{ID: model, Name: model, Status: "succeeded"}
	}

	promptIDs := splitIDs(q.Get("promptIds"))
	singleChat := q.Get("is_single_chat") == "true"
	if singleChat && len(promptIDs) > 1 {
		promptIDs = promptIDs[:1]
	}

	mode := "default"
	if len(promptIDs) > 0 {
		mode = "prompt"
		s.store.ClearDefaultSessions(ctx)
		s.store.SetPromptIDs(ctx, promptIDs)
		s.ensurePromptSessions(r, promptIDs, deployment)
	} else {
		s.store.ClearPromptSessions(ctx)
		if len(s.store.ActiveSessions()) == 0 {
			if _, err := s.store.CreateSession(ctx, session.Session{Deployment: deployment}); err != nil {
				s.logger.Error("failed to create default session: %v", err)
			}
		}
	}

	if v := q.Get("show_form"); v != "" {
		s.wsHub.BroadcastJSON(map[string]interface{}{
			"type":     "SET_TYPE_FORM",
			"typeForm": v == "true",
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":      mode,
		"version":   q.Get("version"),
		"sessions":  s.store.ActiveSessions(),
		"promptIds": s.store.PromptIDs(),
	})
}

// ensurePromptSessions creates one locked session per prompt id that does
// not already have one.
func (s *Server) ensurePromptSessions(r *http.Request, promptIDs []string, deployment *session.DeploymentRef) {
	existing := make(map[string]bool)
	for _, sess := range s.store.Sessions() {
		if session.IsPromptOrigin(sess) {
			existing[sess.PromptID] = true
		}
	}

	for _, id := range promptIDs {
		if existing[id] {
			continue
		}
		_, err := s.store.CreateSession(r.Context(), session.Session{
			IsPromptSession:  true,
			PromptID:         id,
			Deployment:       deployment,
			DeploymentLocked: deployment != nil,
		})
		if err != nil {
			s.logger.Error("failed to create prompt session for %s: %v", id, err)
		}
	}
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
