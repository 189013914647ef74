package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"promptplay/internal/chat"
	"promptplay/internal/schema"
)

// formField is one entry of the rendered form description, in presentation
// order.
type formField struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default"`
}

// handlePromptSchema fetches a prompt's input schema upstream and returns the
// flattened form description: fields in presentation order with type-aware
// initial values. Prompts without declared fields report hasFields=false so
// clients fall back to an unstructured input box.
func (s *Server) handlePromptSchema(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")

	raw, err := s.schemas.PromptSchema(r.Context(), promptID)
	if err != nil {
		var apiErr *chat.APIError
		if errors.As(err, &apiErr) {
			status := apiErr.Status
			if status < 400 {
				status = http.StatusBadGateway
			}
			writeJSON(w, status, apiErr)
			return
		}
		s.logger.Error("failed to fetch schema for prompt %s: %v", promptID, err)
		writeError(w, http.StatusBadGateway, "failed to fetch prompt schema")
		return
	}

	flat, err := schema.Flatten(raw)
	if err != nil {
		s.logger.Error("failed to flatten schema for prompt %s: %v", promptID, err)
		writeError(w, http.StatusBadGateway, "prompt schema is malformed")
		return
	}

	required := make(map[string]bool, len(flat.Required))
	for _, name := range flat.Required {
		required[name] = true
	}

	fields := make([]formField, 0, len(flat.Properties))
	for _, name := range flat.FieldOrder() {
		f := flat.Properties[name]
		fields = append(fields, formField{
			Name:        name,
			Type:        f.Type,
			Title:       f.Title,
			Description: f.Description,
			Required:    required[name],
			Default:     schema.DefaultValue(f),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"promptId":  promptID,
		"hasFields": flat.HasFields(),
		"fields":    fields,
	})
}

// handleGetDraft returns the saved form values for a prompt.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")
	values, ok := s.drafts.Load(r.Context(), promptID)
	if !ok {
		writeError(w, http.StatusNotFound, "no draft for prompt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"promptId": promptID,
		"values":   values,
	})
}

// handlePutDraft saves in-progress form values for a prompt.
func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")

	var req struct {
		Values map[string]interface{} `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Values == nil {
		writeError(w, http.StatusBadRequest, "values is required")
		return
	}

	s.drafts.Save(r.Context(), promptID, req.Values)
	writeJSON(w, http.StatusOK, map[string]string{"promptId": promptID})
}

// handleDeleteDraft discards the saved draft for a prompt.
func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")
	if err := s.drafts.Clear(r.Context(), promptID); err != nil {
		s.logger.Error("failed to clear draft for prompt %s: %v", promptID, err)
		writeError(w, http.StatusInternalServerError, "failed to clear draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
