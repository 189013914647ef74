package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"promptplay/internal/chat"
	"promptplay/internal/schema"
	"promptplay/internal/session"
)

// handleChat runs one streaming completion against a session, writing raw
// content deltas to the response as they arrive. SSE headers go out with the
// first delta, so failures before any content map to plain JSON error
// responses; failures mid-stream become a terminal SSE error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string                 `json:"sessionId"`
		Content   string                 `json:"content"`
		Values    map[string]string      `json:"values"`
		Payload   map[string]interface{} `json:"payload"`
		Params    map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := s.store.GetSession(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Deployment == nil || sess.Deployment.ID == "" {
		writeError(w, http.StatusBadRequest, "no deployment selected for session")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	// Preset params apply unless the request overrides them.
	params := req.Params
	if params == nil {
		if preset, ok := s.store.CurrentPreset(); ok {
			params = map[string]interface{}{
				"temperature": preset.Temperature,
				"top_p":       preset.TopP,
			}
			if preset.MaxTokens > 0 {
				params["max_tokens"] = preset.MaxTokens
			}
			if len(preset.StopSequences) > 0 {
				params["stop"] = preset.StopSequences
			}
		}
	}

	// Prompt-origin sessions build their payload from the prompt's input
	// schema and the submitted form values.
	payload := req.Payload
	if payload == nil && session.IsPromptOrigin(sess) && sess.PromptID != "" {
		built, err := s.buildSchemaPayload(r, sess.PromptID, req.Values, req.Content)
		if err != nil {
			s.logger.Warn("falling back to unstructured input for prompt %s: %v", sess.PromptID, err)
			built = schema.BuildPayload(schema.Flat{}, nil, req.Content)
		}
		payload = built
	}

	sw := &streamWriter{w: w, sessionID: req.SessionID}
	err := s.runner.Send(r.Context(), chat.SendRequest{
		SessionID:  req.SessionID,
		Deployment: sess.Deployment,
		Content:    req.Content,
		Payload:    payload,
		Params:     params,
	}, sw)
	if err != nil {
		s.writeChatError(w, sw, err)
		return
	}

	// A successful submit invalidates the saved draft for the prompt.
	if s.drafts != nil && session.IsPromptOrigin(sess) && sess.PromptID != "" {
		if err := s.drafts.Clear(r.Context(), sess.PromptID); err != nil {
			s.logger.Warn("failed to clear draft for prompt %s: %v", sess.PromptID, err)
		}
	}
}

// buildSchemaPayload fetches the prompt's input schema, coerces the raw form
// values against it, and assembles the request payload.
func (s *Server) buildSchemaPayload(r *http.Request, promptID string, values map[string]string, content string) (map[string]interface{}, error) {
	if s.schemas == nil {
		return nil, errors.New("no schema source configured")
	}
	raw, err := s.schemas.PromptSchema(r.Context(), promptID)
	if err != nil {
		return nil, err
	}
	flat, err := schema.Flatten(raw)
	if err != nil {
		return nil, err
	}

	coerced := make(map[string]interface{}, len(values))
	for name, field := range flat.Properties {
		if rawVal, ok := values[name]; ok {
			coerced[name] = schema.Coerce(field, rawVal)
		}
	}
	return schema.BuildPayload(flat, coerced, content), nil
}

// handleChatRetry resubmits the last request unchanged.
func (s *Server) handleChatRetry(w http.ResponseWriter, r *http.Request) {
	sw := &streamWriter{w: w}
	if err := s.runner.Retry(r.Context(), sw); err != nil {
		s.writeChatError(w, sw, err)
	}
}

// writeChatError maps a completion failure onto the response. Before any
// content streamed the connection is still a plain HTTP exchange, so upstream
// API errors pass through with their status and details and everything else
// becomes a gateway error. Once streaming began the status line is gone; the
// client gets a terminal SSE error event instead.
func (s *Server) writeChatError(w http.ResponseWriter, sw *streamWriter, err error) {
	if sw.wrote {
		s.logger.Error("completion failed mid-stream: %v", err)
		sw.writeErrorEvent(err)
		return
	}

	switch {
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrNothingToRetry):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNoDeployment):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		var apiErr *chat.APIError
		if errors.As(err, &apiErr) {
			status := apiErr.Status
			if status < 400 {
				status = http.StatusBadGateway
			}
			s.logger.Error("upstream rejected completion: %v", err)
			writeJSON(w, status, apiErr)
			return
		}
		s.logger.Error("completion failed: %v", err)
		writeError(w, http.StatusBadGateway, "completion failed")
	}
}

// handleChatStop cancels the in-flight completion. Partial content stays.
func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.runner.State().String()})
}

// handleDeployments proxies the upstream model catalog.
func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.models.ListDeployments(r.Context())
	if err != nil {
		s.logger.Error("failed to list deployments: %v", err)
		writeError(w, http.StatusBadGateway, "failed to list deployments")
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

// streamWriter defers the SSE headers until the first delta arrives, so
// pre-stream failures can still use a real status code, and flushes after
// every delta so clients see tokens as they stream.
type streamWriter struct {
	w         http.ResponseWriter
	sessionID string
	wrote     bool
}

func (f *streamWriter) Write(p []byte) (int, error) {
	if !f.wrote {
		f.wrote = true
		f.w.Header().Set("Content-Type", "text/event-stream")
		f.w.Header().Set("Cache-Control", "no-cache")
		f.w.Header().Set("Connection", "keep-alive")
		if f.sessionID != "" {
			f.w.Header().Set("X-Session-ID", f.sessionID)
		}
	}
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

// writeErrorEvent appends a terminal error event to an already-open stream.
func (f *streamWriter) writeErrorEvent(err error) {
	msg := "completion failed"
	var apiErr *chat.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	fmt.Fprintf(f.w, "\nevent: error\ndata: %s\n\n", data)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
}
