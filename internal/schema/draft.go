package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"promptplay/internal/logging"
	"promptplay/internal/slot"
)

const draftKeyPrefix = "draft:"

// DraftStore mirrors in-progress form values to a slot so a half-filled
// form survives a reload. Drafts are keyed by the prompt id the form was
// built for; a prompt change invalidates the old draft.
type DraftStore struct {
	slot   slot.Slot
	logger *logging.Logger
}

// NewDraftStore creates a draft store backed by the given slot.
func NewDraftStore(s slot.Slot, logger *logging.Logger) *DraftStore {
	return &DraftStore{
		slot:   s,
		logger: logger.Component("drafts"),
	}
}

// Save persists the current form values for a prompt. Storage failures are
// logged and swallowed; a lost draft is not worth failing the edit.
func (d *DraftStore) Save(ctx context.Context, promptID string, values map[string]interface{}) {
	if promptID == "" {
		return
	}
	data, err := json.Marshal(values)
	if err != nil {
		d.logger.WithContext("prompt_id", promptID).Error("failed to marshal draft: %v", err)
		return
	}
	if err := d.slot.Write(ctx, draftKeyPrefix+promptID, data); err != nil {
		d.logger.WithContext("prompt_id", promptID).Error("failed to persist draft: %v", err)
	}
}

// Load returns the saved form values for a prompt, or (nil, false) when no
// draft exists.
func (d *DraftStore) Load(ctx context.Context, promptID string) (map[string]interface{}, bool) {
	if promptID == "" {
		return nil, false
	}
	data, err := d.slot.Read(ctx, draftKeyPrefix+promptID)
	if err != nil {
		if !errors.Is(err, slot.ErrNotFound) {
			d.logger.WithContext("prompt_id", promptID).Error("failed to load draft: %v", err)
		}
		return nil, false
	}
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		d.logger.WithContext("prompt_id", promptID).Warn("discarding corrupt draft: %v", err)
		return nil, false
	}
	return values, true
}

// Clear removes the draft for a prompt, typically after a successful submit.
func (d *DraftStore) Clear(ctx context.Context, promptID string) error {
	if promptID == "" {
		return nil
	}
	if err := d.slot.Delete(ctx, draftKeyPrefix+promptID); err != nil && !errors.Is(err, slot.ErrNotFound) {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}
