package workflow

import (
	"context"
	"sync"

	"promptplay/internal/logging"
)

// Notification is one terminal event from the server-side channel (push or
// poll — the mechanism is the caller's concern).
type Notification struct {
	WorkflowID string `json:"workflowId"`
	State      string `json:"state"` // "completed" or "failed"
}

// Hub routes notifications to the tracker currently bound to each workflow
// id. Subscribing a tracker to a new id tears down its previous
// subscription, so a stale notification cannot be delivered into a new
// context.
type Hub struct {
	notify      chan Notification
	subscribe   chan subscription
	unsubscribe chan *Tracker
	done        chan struct{}

	mu       sync.RWMutex
	trackers map[string]*Tracker // workflow id -> tracker
	bound    map[*Tracker]string // tracker -> workflow id

	logger *logging.Logger
}

type subscription struct {
	workflowID string
	tracker    *Tracker
}

// NewHub creates a hub. Call Run to start the dispatch loop.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		notify:      make(chan Notification, 64),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan *Tracker),
		done:        make(chan struct{}),
		trackers:    make(map[string]*Tracker),
		bound:       make(map[*Tracker]string),
		logger:      logger,
	}
}

// Run starts the hub's event loop. Returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.subscribe:
			h.mu.Lock()
			if prev, ok := h.bound[sub.tracker]; ok {
				delete(h.trackers, prev)
			}
			h.trackers[sub.workflowID] = sub.tracker
			h.bound[sub.tracker] = sub.workflowID
			h.mu.Unlock()
			sub.tracker.Start(sub.workflowID)

		case tracker := <-h.unsubscribe:
			h.mu.Lock()
			if id, ok := h.bound[tracker]; ok {
				delete(h.trackers, id)
				delete(h.bound, tracker)
			}
			h.mu.Unlock()

		case n := <-h.notify:
			h.mu.RLock()
			tracker, ok := h.trackers[n.WorkflowID]
			h.mu.RUnlock()
			if !ok {
				h.logger.WithContext("workflow_id", n.WorkflowID).Debug("no tracker for notification")
				continue
			}
			switch n.State {
			case "completed":
				tracker.Complete(n.WorkflowID)
			case "failed":
				tracker.Fail(n.WorkflowID)
			default:
				h.logger.WithFields(map[string]interface{}{
					"workflow_id": n.WorkflowID,
					"state":       n.State,
				}).Warn("ignoring notification with unknown state")
			}
		}
	}
}

// Track binds a tracker to a workflow id (replacing any previous binding for
// that tracker) and starts it.
func (h *Hub) Track(tracker *Tracker, workflowID string) {
	select {
	case h.subscribe <- subscription{workflowID: workflowID, tracker: tracker}:
	case <-h.done:
	}
}

// Release removes a tracker's subscription.
func (h *Hub) Release(tracker *Tracker) {
	select {
	case h.unsubscribe <- tracker:
	case <-h.done:
	}
}

// Notify delivers a server notification to whichever tracker is bound to
// the workflow id. Unmatched notifications are dropped.
func (h *Hub) Notify(n Notification) {
	select {
	case h.notify <- n:
	case <-h.done:
	}
}

// Status reports the current state of the tracker bound to a workflow id.
func (h *Hub) Status(workflowID string) (Status, bool) {
	h.mu.RLock()
	tracker, ok := h.trackers[workflowID]
	h.mu.RUnlock()
	if !ok {
		return Idle, false
	}
	return tracker.Status(), true
}
