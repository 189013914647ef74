package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptplay/internal/logging"
	"promptplay/internal/slot"
)

var (
	// ErrDuplicateID is returned when creating a session whose id already
	// exists in the active collection.
	ErrDuplicateID = errors.New("session: duplicate session id")

	// ErrSessionNotFound is returned by message operations on unknown sessions.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrMessageNotFound is returned when a message id is not in the session.
	ErrMessageNotFound = errors.New("session: message not found")

	// ErrInvalidFeedback is returned for feedback values outside
	// "", "positive", "negative".
	ErrInvalidFeedback = errors.New("session: invalid feedback value")
)

// maxNameLength bounds the display label derived from the first user message.
const maxNameLength = 50

// Store is the single source of truth for sessions, messages, presets, and
// notes for one identity at a time. Every mutation mirrors the full state to
// the persistent slot; slot failures are logged and the store keeps
// operating in memory.
type Store struct {
	mu     sync.Mutex
	slot   slot.Slot
	logger *logging.Logger

	storage StorageContext

	sessions      []Session
	messages      map[string][]Message
	presets       []Preset
	currentPreset string
	notes         map[string]Note
	promptIDs     []string
}

// NewStore creates an empty store backed by the given slot.
func NewStore(s slot.Slot, logger *logging.Logger) *Store {
	return &Store{
		slot:     s,
		logger:   logger,
		messages: make(map[string][]Message),
		notes:    make(map[string]Note),
	}
}

// Load installs the storage context and reads that identity's snapshot from
// the slot. A missing snapshot yields an empty store; a failed read is
// logged and the store operates in-memory-only for the session.
func (st *Store) Load(ctx context.Context, sc StorageContext) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.storage = sc
	st.resetLocked()

	data, err := st.slot.Read(ctx, sc.Key)
	if errors.Is(err, slot.ErrNotFound) {
		return
	}
	if err != nil {
		st.logger.WithContext("error", err.Error()).Warn("failed to read snapshot, continuing in memory")
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		st.logger.WithContext("error", err.Error()).Warn("failed to parse snapshot, continuing in memory")
		return
	}

	normalizeSnapshot(&snap)
	st.installLocked(snap)
}

// SwitchIdentity fully clears in-memory state before loading the new key's
// data, so one identity's history cannot leak into another's view. Writes
// are suppressed for the duration of the switch.
func (st *Store) SwitchIdentity(ctx context.Context, newKey string) {
	st.mu.Lock()
	st.storage.Transitioning = true
	st.resetLocked()
	st.mu.Unlock()

	st.Load(ctx, StorageContext{Key: newKey})

	st.mu.Lock()
	st.storage.Transitioning = false
	st.mu.Unlock()
}

// StorageKey returns the active identity key.
func (st *Store) StorageKey() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.storage.Key
}

// CreateSession appends a session to the active collection and persists.
// An empty id gets a generated one; the id must be unique. The session is
// created active, named DefaultSessionName unless a name is given.
func (st *Store) CreateSession(ctx context.Context, s Session) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if st.indexLocked(s.ID) >= 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
	}
	if s.Name == "" {
		s.Name = DefaultSessionName
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.Active = true
	normalizeSession(&s)

	st.sessions = append(st.sessions, s)
	st.persistLocked(ctx)
	return s, nil
}

// GetSession returns the session with the given id.
func (st *Store) GetSession(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.indexLocked(id)
	if i < 0 {
		return Session{}, false
	}
	return st.sessions[i], true
}

// Sessions returns a copy of the whole collection in creation order.
func (st *Store) Sessions() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Session, len(st.sessions))
	copy(out, st.sessions)
	return out
}

// ActiveSessions returns only the sessions whose tab is open. At most this
// set is rendered.
func (st *Store) ActiveSessions() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []Session
	for _, s := range st.sessions {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// UpdateSession merges the non-nil fields of upd into the matching session
// and persists. Unknown ids are a silent no-op.
func (st *Store) UpdateSession(ctx context.Context, id string, upd SessionUpdate) {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.indexLocked(id)
	if i < 0 {
		return
	}

	s := &st.sessions[i]
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.TotalTokens != nil {
		s.TotalTokens = *upd.TotalTokens
	}
	if upd.Active != nil {
		s.Active = *upd.Active
	}
	if upd.Deployment != nil {
		dep := *upd.Deployment
		s.Deployment = &dep
	}
	if upd.PromptID != nil {
		s.PromptID = *upd.PromptID
	}
	if upd.IsPromptSession != nil {
		s.IsPromptSession = *upd.IsPromptSession
	}
	if upd.DeploymentLocked != nil {
		s.DeploymentLocked = *upd.DeploymentLocked
	}
	if upd.InputWorkflowID != nil {
		s.InputWorkflowID = *upd.InputWorkflowID
	}
	if upd.OutputWorkflowID != nil {
		s.OutputWorkflowID = *upd.OutputWorkflowID
	}
	if upd.SystemPromptWorkflowID != nil {
		s.SystemPromptWorkflowID = *upd.SystemPromptWorkflowID
	}
	if upd.PromptMessagesWorkflowID != nil {
		s.PromptMessagesWorkflowID = *upd.PromptMessagesWorkflowID
	}

	// An update can flip a session to prompt origin without supplying the
	// prompt reference; keep the derived fields in sync like load does.
	normalizeSession(s)

	st.persistLocked(ctx)
}

// DeleteSession removes the session and its messages. The collection may be
// left transiently empty; the next CreateSession must still succeed.
func (st *Store) DeleteSession(ctx context.Context, id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.indexLocked(id)
	if i < 0 {
		return
	}

	st.sessions = append(st.sessions[:i], st.sessions[i+1:]...)
	delete(st.messages, id)
	delete(st.notes, id)
	st.persistLocked(ctx)
}

// DisableSession closes the session tab without losing history.
func (st *Store) DisableSession(ctx context.Context, id string) {
	active := false
	st.UpdateSession(ctx, id, SessionUpdate{Active: &active})
}

// EnableSession reopens a previously closed session tab.
func (st *Store) EnableSession(ctx context.Context, id string) {
	active := true
	st.UpdateSession(ctx, id, SessionUpdate{Active: &active})
}

// AddMessage appends to the session's ordered message list and persists.
// The first user message overwrites the default session name.
func (st *Store) AddMessage(ctx context.Context, sessionID string, m Message) (Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.indexLocked(sessionID)
	if i < 0 {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	st.messages[sessionID] = append(st.messages[sessionID], m)

	if m.Role == "user" && st.sessions[i].Name == DefaultSessionName {
		st.sessions[i].Name = deriveName(m.Content)
	}

	st.persistLocked(ctx)
	return m, nil
}

// Messages returns a copy of the session's message list in append order.
func (st *Store) Messages(sessionID string) []Message {
	st.mu.Lock()
	defer st.mu.Unlock()

	msgs := st.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// DeleteMessagesAfter truncates the message list to everything strictly
// before the given message id, dropping the named message too. Used for
// edit-and-resend: the edited message is replayed afterwards.
func (st *Store) DeleteMessagesAfter(ctx context.Context, sessionID, messageID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.indexLocked(sessionID) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	msgs := st.messages[sessionID]
	for i, m := range msgs {
		if m.ID == messageID {
			st.messages[sessionID] = msgs[:i]
			st.persistLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
}

// SetFeedback updates the feedback annotation on a message in place.
func (st *Store) SetFeedback(ctx context.Context, sessionID, messageID, value string) error {
	if value != FeedbackNone && value != FeedbackPositive && value != FeedbackNegative {
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, value)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.indexLocked(sessionID) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	msgs := st.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Feedback = value
			st.persistLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
}

// AddTokens bumps the session's running token counter after an exchange.
func (st *Store) AddTokens(ctx context.Context, sessionID string, n int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	i := st.indexLocked(sessionID)
	if i < 0 {
		return
	}
	st.sessions[i].TotalTokens += n
	st.persistLocked(ctx)
}

// IsPromptOrigin reports whether a session came from an external prompt
// reference, recognizing both the explicit flag and the legacy id prefix.
func IsPromptOrigin(s Session) bool {
	return s.IsPromptSession || strings.HasPrefix(s.ID, legacyPromptPrefix)
}

// HasSessionsMatching reports whether any session satisfies pred, without
// mutating state.
func (st *Store) HasSessionsMatching(pred func(Session) bool) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, s := range st.sessions {
		if pred(s) {
			return true
		}
	}
	return false
}

// HasPromptSessions reports whether any prompt-origin session exists.
func (st *Store) HasPromptSessions() bool {
	return st.HasSessionsMatching(IsPromptOrigin)
}

// ClearSessionsMatching removes the sessions satisfying pred together with
// their messages and notes, and returns how many were removed. Sessions not
// matching are untouched.
func (st *Store) ClearSessionsMatching(ctx context.Context, pred func(Session) bool) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	kept := st.sessions[:0]
	removed := 0
	for _, s := range st.sessions {
		if pred(s) {
			delete(st.messages, s.ID)
			delete(st.notes, s.ID)
			removed++
			continue
		}
		kept = append(kept, s)
	}
	st.sessions = kept

	if removed > 0 {
		st.persistLocked(ctx)
	}
	return removed
}

// ClearPromptSessions removes all prompt-origin sessions and resets the
// tracked prompt-id list. Prompt mode and default chat mode must never have
// sessions intermingled; entering default mode calls this.
func (st *Store) ClearPromptSessions(ctx context.Context) int {
	removed := st.ClearSessionsMatching(ctx, IsPromptOrigin)

	st.mu.Lock()
	st.promptIDs = nil
	st.persistLocked(ctx)
	st.mu.Unlock()

	return removed
}

// ClearDefaultSessions removes all ad-hoc chat sessions; entering prompt
// mode calls this.
func (st *Store) ClearDefaultSessions(ctx context.Context) int {
	return st.ClearSessionsMatching(ctx, func(s Session) bool {
		return !IsPromptOrigin(s)
	})
}

// SetPromptIDs replaces the tracked prompt-id list for prompt mode.
func (st *Store) SetPromptIDs(ctx context.Context, ids []string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.promptIDs = append([]string(nil), ids...)
	st.persistLocked(ctx)
}

// PromptIDs returns the tracked prompt-id list.
func (st *Store) PromptIDs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	return append([]string(nil), st.promptIDs...)
}

// UpsertPreset adds or replaces a settings preset by name.
func (st *Store) UpsertPreset(ctx context.Context, p Preset) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.presets {
		if st.presets[i].Name == p.Name {
			st.presets[i] = p
			st.persistLocked(ctx)
			return
		}
	}
	st.presets = append(st.presets, p)
	if st.currentPreset == "" {
		st.currentPreset = p.Name
	}
	st.persistLocked(ctx)
}

// SetCurrentPreset marks the named preset as current. The preset must exist.
func (st *Store) SetCurrentPreset(ctx context.Context, name string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.presets {
		if st.presets[i].Name == name {
			st.currentPreset = name
			st.persistLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("session: preset not found: %s", name)
}

// CurrentPreset returns the current settings preset.
func (st *Store) CurrentPreset() (Preset, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, p := range st.presets {
		if p.Name == st.currentPreset {
			return p, true
		}
	}
	return Preset{}, false
}

// Presets returns a copy of all presets.
func (st *Store) Presets() []Preset {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Preset, len(st.presets))
	copy(out, st.presets)
	return out
}

// SetNote attaches or replaces the free-text annotation on a session id.
func (st *Store) SetNote(ctx context.Context, sessionID, text string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.notes[sessionID] = Note{
		SessionID: sessionID,
		Text:      text,
		UpdatedAt: time.Now(),
	}
	st.persistLocked(ctx)
}

// Note returns the annotation for a session id.
func (st *Store) Note(sessionID string) (Note, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	n, ok := st.notes[sessionID]
	return n, ok
}

// Snapshot returns a copy of the full store state, in the shape written to
// the slot.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked()
}

// indexLocked returns the position of a session id, or -1.
func (st *Store) indexLocked(id string) int {
	for i := range st.sessions {
		if st.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// resetLocked drops all in-memory state.
func (st *Store) resetLocked() {
	st.sessions = nil
	st.messages = make(map[string][]Message)
	st.presets = nil
	st.currentPreset = ""
	st.notes = make(map[string]Note)
	st.promptIDs = nil
}

// installLocked replaces in-memory state with a normalized snapshot.
func (st *Store) installLocked(snap Snapshot) {
	st.sessions = snap.Sessions
	st.messages = snap.Messages
	st.presets = snap.Presets
	st.currentPreset = snap.CurrentPreset
	st.notes = snap.Notes
	st.promptIDs = snap.PromptIDs
	if st.messages == nil {
		st.messages = make(map[string][]Message)
	}
	if st.notes == nil {
		st.notes = make(map[string]Note)
	}
}

func (st *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Sessions:      append([]Session(nil), st.sessions...),
		Messages:      make(map[string][]Message, len(st.messages)),
		Presets:       append([]Preset(nil), st.presets...),
		CurrentPreset: st.currentPreset,
		Notes:         make(map[string]Note, len(st.notes)),
		PromptIDs:     append([]string(nil), st.promptIDs...),
	}
	for id, msgs := range st.messages {
		snap.Messages[id] = append([]Message(nil), msgs...)
	}
	for id, n := range st.notes {
		snap.Notes[id] = n
	}
	return snap
}

// persistLocked mirrors the full state to the slot. Writes are suppressed
// during identity transitions; failures are logged and never propagated.
func (st *Store) persistLocked(ctx context.Context) {
	if st.storage.Transitioning {
		st.logger.Debug("skipping snapshot write during identity transition")
		return
	}
	if st.storage.Key == "" {
		return
	}

	data, err := json.Marshal(st.snapshotLocked())
	if err != nil {
		st.logger.WithContext("error", err.Error()).Error("failed to marshal snapshot")
		return
	}
	if err := st.slot.Write(ctx, st.storage.Key, data); err != nil {
		st.logger.WithContext("error", err.Error()).Error("failed to write snapshot")
	}
}

// normalizeSession folds the legacy id-prefix signal into the explicit flag
// and synthesizes a missing prompt id, so runtime code only checks one field.
func normalizeSession(s *Session) {
	if strings.HasPrefix(s.ID, legacyPromptPrefix) {
		s.IsPromptSession = true
	}
	if s.IsPromptSession && s.PromptID == "" {
		if trimmed := strings.TrimPrefix(s.ID, legacyPromptPrefix); trimmed != "" {
			s.PromptID = trimmed
		} else {
			s.PromptID = s.ID
		}
	}
}

// normalizeSnapshot migrates legacy records once at load time.
func normalizeSnapshot(snap *Snapshot) {
	for i := range snap.Sessions {
		normalizeSession(&snap.Sessions[i])
	}
	for i := range snap.Sessions {
		if snap.Sessions[i].Name == "" {
			snap.Sessions[i].Name = DefaultSessionName
		}
	}
}

// deriveName produces a session label from the first user message.
func deriveName(content string) string {
	name := strings.TrimSpace(content)
	if name == "" {
		return DefaultSessionName
	}
	runes := []rune(name)
	if len(runes) > maxNameLength {
		return string(runes[:maxNameLength])
	}
	return name
}
