package session

import (
	"encoding/json"
	"time"
)

// DefaultSessionName is the display label given to sessions until the
// first user message overwrites it.
const DefaultSessionName = "New Chat"

// legacyPromptPrefix marks prompt-origin sessions created before the
// explicit IsPromptSession flag existed. Recognized on load and normalized
// into the flagged representation.
const legacyPromptPrefix = "prompt_"

// DeploymentRef identifies the model endpoint a session targets.
type DeploymentRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Project string `json:"project,omitempty"`
}

// Session is one chat/agent conversation and its metadata. All optional
// fields the front end accreted over time are declared here explicitly.
type Session struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	TotalTokens int            `json:"totalTokens"`
	Active      bool           `json:"active"`
	Deployment  *DeploymentRef `json:"selectedDeployment,omitempty"`

	// Prompt-origin sessions carry the server-issued prompt reference and
	// are locked to the deployment the prompt was configured with.
	PromptID         string `json:"promptId,omitempty"`
	IsPromptSession  bool   `json:"isPromptSession"`
	DeploymentLocked bool   `json:"deploymentLocked"`

	// Workflow correlation ids for the async save operations tied to this
	// session's prompt.
	InputWorkflowID          string `json:"inputWorkflowId,omitempty"`
	OutputWorkflowID         string `json:"outputWorkflowId,omitempty"`
	SystemPromptWorkflowID   string `json:"systemPromptWorkflowId,omitempty"`
	PromptMessagesWorkflowID string `json:"promptMessagesWorkflowId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Feedback values attached to assistant messages.
const (
	FeedbackNone     = ""
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// Message is one conversation turn.
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"` // "system", "user", "assistant"
	Content   string          `json:"content"`
	Feedback  string          `json:"feedback"` // "", "positive", "negative"
	Items     json.RawMessage `json:"items,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Preset is a named bundle of generation parameters. Exactly one preset is
// current per store at a time.
type Preset struct {
	Name             string          `json:"name"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"topP"`
	MaxTokens        int             `json:"maxTokens"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	StructuredOutput bool            `json:"structuredOutput"`
	OutputSchema     json.RawMessage `json:"outputSchema,omitempty"`
}

// Note is a free-text annotation on a session, with a lifecycle independent
// from the session's messages.
type Note struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the JSON payload written to the persistent slot: the entire
// store state for one identity key.
type Snapshot struct {
	Sessions      []Session            `json:"sessions"`
	Messages      map[string][]Message `json:"messages"`
	Presets       []Preset             `json:"settingPresets"`
	CurrentPreset string               `json:"currentSettingPreset"`
	Notes         map[string]Note      `json:"notes"`
	PromptIDs     []string             `json:"promptIds,omitempty"`
}

// SessionUpdate carries the fields UpdateSession may merge into an existing
// session. Nil pointers leave the stored value untouched.
type SessionUpdate struct {
	Name                     *string
	TotalTokens              *int
	Active                   *bool
	Deployment               *DeploymentRef
	PromptID                 *string
	IsPromptSession          *bool
	DeploymentLocked         *bool
	InputWorkflowID          *string
	OutputWorkflowID         *string
	SystemPromptWorkflowID   *string
	PromptMessagesWorkflowID *string
}
