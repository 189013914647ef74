package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"promptplay/internal/chat"
	"promptplay/internal/logging"
	"promptplay/internal/schema"
	"promptplay/internal/session"
	"promptplay/internal/workflow"
)

// Server holds dependencies and provides HTTP handlers
type Server struct {
	store    SessionStore
	runner   Runner
	models   DeploymentLister
	schemas  SchemaFetcher
	drafts   *schema.DraftStore
	hub      WorkflowHub
	wsHub    *WebSocketHub
	trackers map[string]*workflow.Tracker // save operation -> tracker
	logger   *logging.Logger
}

// The async save operations a session PATCH can report workflow ids for.
var saveOperations = []string{
	"save input schema",
	"save output schema",
	"save system prompt",
	"save prompt messages",
}

// SessionStore is the store surface the handlers consume.
type SessionStore interface {
	SwitchIdentity(ctx context.Context, newKey string)

	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	Sessions() []session.Session
	ActiveSessions() []session.Session
	GetSession(id string) (session.Session, bool)
	UpdateSession(ctx context.Context, id string, upd session.SessionUpdate)
	DeleteSession(ctx context.Context, id string)
	EnableSession(ctx context.Context, id string)
	DisableSession(ctx context.Context, id string)

	AddMessage(ctx context.Context, sessionID string, m session.Message) (session.Message, error)
	Messages(sessionID string) []session.Message
	DeleteMessagesAfter(ctx context.Context, sessionID, messageID string) error
	SetFeedback(ctx context.Context, sessionID, messageID, value string) error

	SetNote(ctx context.Context, sessionID, text string)
	Note(sessionID string) (session.Note, bool)

	UpsertPreset(ctx context.Context, p session.Preset)
	Presets() []session.Preset
	SetCurrentPreset(ctx context.Context, name string) error
	CurrentPreset() (session.Preset, bool)

	HasPromptSessions() bool
	ClearPromptSessions(ctx context.Context) int
	ClearDefaultSessions(ctx context.Context) int
	SetPromptIDs(ctx context.Context, ids []string)
	PromptIDs() []string
}

// Runner drives streaming completions.
type Runner interface {
	Send(ctx context.Context, req chat.SendRequest, w io.Writer) error
	Retry(ctx context.Context, w io.Writer) error
	Stop()
	State() chat.RunState
}

// DeploymentLister fetches the upstream model catalog.
type DeploymentLister interface {
	ListDeployments(ctx context.Context) ([]chat.Deployment, error)
}

// SchemaFetcher fetches raw prompt input schemas from the upstream API.
type SchemaFetcher interface {
	PromptSchema(ctx context.Context, promptID string) (json.RawMessage, error)
}

// WorkflowHub receives external notifications and answers status lookups.
type WorkflowHub interface {
	Track(tracker *workflow.Tracker, workflowID string)
	Release(tracker *workflow.Tracker)
	Notify(n workflow.Notification)
	Status(workflowID string) (workflow.Status, bool)
}

// NewServer creates a server with dependencies and starts the websocket hub.
// One tracker per save operation is created up front; its transitions are
// broadcast to websocket clients.
func NewServer(store SessionStore, runner Runner, models DeploymentLister, schemas SchemaFetcher, drafts *schema.DraftStore, hub WorkflowHub, resetDelay time.Duration, logger *logging.Logger) *Server {
	srv := &Server{
		store:    store,
		runner:   runner,
		models:   models,
		schemas:  schemas,
		drafts:   drafts,
		hub:      hub,
		wsHub:    NewWebSocketHub(logger),
		trackers: make(map[string]*workflow.Tracker),
		logger:   logger.Component("api"),
	}

	for _, op := range saveOperations {
		srv.trackers[op] = workflow.NewTracker(op, logger,
			workflow.WithResetDelay(resetDelay),
			workflow.WithOnChange(srv.wsHub.BroadcastChange))
	}

	go srv.wsHub.Run()

	return srv
}

// SetResetDelay applies a new terminal-to-idle delay to all trackers.
func (s *Server) SetResetDelay(d time.Duration) {
	for _, tr := range s.trackers {
		tr.SetResetDelay(d)
	}
}

// Close unsubscribes the save trackers from the hub and stops them, so a
// late notification cannot fire into a torn-down server.
func (s *Server) Close() {
	for _, tr := range s.trackers {
		s.hub.Release(tr)
		tr.Close()
	}
}

// RegisterRoutes sets up all HTTP routes
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/enable", s.handleEnableSession)
	mux.HandleFunc("POST /api/sessions/{id}/disable", s.handleDisableSession)

	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleAddMessage)
	mux.HandleFunc("POST /api/sessions/{id}/messages/{mid}/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/sessions/{id}/truncate", s.handleTruncate)

	mux.HandleFunc("GET /api/notes/{id}", s.handleGetNote)
	mux.HandleFunc("PUT /api/notes/{id}", s.handlePutNote)

	mux.HandleFunc("GET /api/presets", s.handleListPresets)
	mux.HandleFunc("PUT /api/presets", s.handleUpsertPreset)
	mux.HandleFunc("POST /api/presets/current", s.handleSetCurrentPreset)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/retry", s.handleChatRetry)
	mux.HandleFunc("POST /api/chat/stop", s.handleChatStop)
	mux.HandleFunc("GET /api/deployments", s.handleDeployments)

	mux.HandleFunc("GET /api/prompts/{id}/schema", s.handlePromptSchema)
	mux.HandleFunc("GET /api/prompts/{id}/draft", s.handleGetDraft)
	mux.HandleFunc("PUT /api/prompts/{id}/draft", s.handlePutDraft)
	mux.HandleFunc("DELETE /api/prompts/{id}/draft", s.handleDeleteDraft)

	mux.HandleFunc("POST /api/workflows/notify", s.handleWorkflowNotify)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleWorkflowStatus)

	mux.HandleFunc("GET /playground", s.handlePlayground)

	mux.HandleFunc("/ws", s.handleWebSocket)
}

// writeJSON serializes a response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError returns an inline error message as JSON.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
