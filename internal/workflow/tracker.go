package workflow

import (
	"sync"
	"time"

	"promptplay/internal/logging"
)

// Status is the tracker state for one async server-side operation.
type Status int

const (
	Idle Status = iota
	Loading
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Succeeded:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its wire string.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// DefaultResetDelay is how long a terminal status stays visible before the
// tracker reverts to idle on its own.
const DefaultResetDelay = 3 * time.Second

// Change describes one observed transition, for owners that broadcast or
// surface errors.
type Change struct {
	Operation  string `json:"operation"`
	WorkflowID string `json:"workflowId"`
	Status     Status `json:"status"`
}

// Tracker follows one named operation through
// idle -> loading -> success|failed -> idle. It is bound to exactly one
// workflow id at a time; notifications for any other id, or for a previous
// binding of the same id, are discarded. The generation counter fences the
// id-churn race: a terminal notification that arrives after Start has been
// called again cannot touch the new flight.
type Tracker struct {
	mu         sync.Mutex
	operation  string
	status     Status
	workflowID string
	generation uint64
	resetDelay time.Duration
	timer      *time.Timer
	onChange   func(Change)
	logger     *logging.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithResetDelay overrides the terminal-to-idle delay.
func WithResetDelay(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.resetDelay = d }
}

// WithOnChange installs a callback invoked (outside the tracker lock) on
// every transition.
func WithOnChange(fn func(Change)) TrackerOption {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker creates an idle tracker for a named operation such as
// "save input schema" or "save system prompt".
func NewTracker(operation string, logger *logging.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		operation:  operation,
		status:     Idle,
		resetDelay: DefaultResetDelay,
		logger:     logger.WithContext("operation", operation),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start binds the tracker to a workflow id and moves it to loading. Called
// immediately after the triggering request is issued. Any previous flight's
// timer and pending notifications are invalidated.
func (t *Tracker) Start(workflowID string) {
	t.mu.Lock()
	t.generation++
	t.workflowID = workflowID
	t.status = Loading
	t.stopTimerLocked()
	change := t.changeLocked()
	t.mu.Unlock()

	t.logger.WithContext("workflow_id", workflowID).Debug("workflow started")
	t.emit(change)
}

// Complete records a "completed" notification for the given workflow id.
func (t *Tracker) Complete(workflowID string) {
	t.terminal(workflowID, Succeeded)
}

// Fail records a "failed" notification for the given workflow id.
func (t *Tracker) Fail(workflowID string) {
	t.terminal(workflowID, Failed)
}

// FailNow forces the failed state when the triggering request itself errored
// before any notification could arrive.
func (t *Tracker) FailNow() {
	t.mu.Lock()
	if t.status != Loading {
		t.mu.Unlock()
		return
	}
	t.status = Failed
	t.scheduleResetLocked()
	change := t.changeLocked()
	t.mu.Unlock()

	t.logger.Warn("workflow failed before notification")
	t.emit(change)
}

// Status returns the current state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// WorkflowID returns the currently bound workflow id.
func (t *Tracker) WorkflowID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workflowID
}

// Operation returns the tracked operation name.
func (t *Tracker) Operation() string {
	return t.operation
}

// SetResetDelay changes the terminal-to-idle delay for future flights.
func (t *Tracker) SetResetDelay(d time.Duration) {
	t.mu.Lock()
	t.resetDelay = d
	t.mu.Unlock()
}

// Close cancels any pending auto-reset timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.stopTimerLocked()
	t.mu.Unlock()
}

func (t *Tracker) terminal(workflowID string, status Status) {
	t.mu.Lock()
	if workflowID != t.workflowID {
		t.mu.Unlock()
		t.logger.WithFields(map[string]interface{}{
			"workflow_id": workflowID,
			"status":      status.String(),
		}).Debug("discarding notification for stale workflow id")
		return
	}
	if t.status != Loading {
		// Duplicate or out-of-order terminal notification
		t.mu.Unlock()
		return
	}
	t.status = status
	t.scheduleResetLocked()
	change := t.changeLocked()
	t.mu.Unlock()

	t.emit(change)
}

// scheduleResetLocked arms the terminal-to-idle timer, fenced by generation
// so a reset cannot fire into a newer flight.
func (t *Tracker) scheduleResetLocked() {
	t.stopTimerLocked()
	gen := t.generation
	t.timer = time.AfterFunc(t.resetDelay, func() {
		t.mu.Lock()
		if t.generation != gen || (t.status != Succeeded && t.status != Failed) {
			t.mu.Unlock()
			return
		}
		t.status = Idle
		change := t.changeLocked()
		t.mu.Unlock()
		t.emit(change)
	})
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) changeLocked() Change {
	return Change{
		Operation:  t.operation,
		WorkflowID: t.workflowID,
		Status:     t.status,
	}
}

func (t *Tracker) emit(c Change) {
	if t.onChange != nil {
		t.onChange(c)
	}
}
