package chat

import (
	"context"
	"errors"
	"io"
	"sync"

	"promptplay/internal/logging"
	"promptplay/internal/session"
)

// RunState is the in-flight status of the runner.
type RunState int

const (
	RunIdle RunState = iota
	RunSubmitted
	RunStreaming
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunSubmitted:
		return "submitted"
	case RunStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

var (
	// ErrNoDeployment rejects a send before any network call when the
	// session has no deployment selected.
	ErrNoDeployment = errors.New("no deployment selected")

	// ErrBusy rejects a send while another completion is in flight.
	ErrBusy = errors.New("a completion is already in flight")

	// ErrNothingToRetry rejects a retry before any send happened.
	ErrNothingToRetry = errors.New("no previous request to retry")
)

// SendRequest is one user submission against a session.
type SendRequest struct {
	SessionID  string
	Deployment *session.DeploymentRef
	Content    string
	Payload    map[string]interface{}
	Params     map[string]interface{}
}

// Runner drives completions against the session store: it appends the user
// message, streams the assistant reply, and records the outcome. One
// completion runs at a time.
type Runner struct {
	client *Client
	store  *session.Store
	logger *logging.Logger

	mu     sync.Mutex
	state  RunState
	cancel context.CancelFunc
	last   *SendRequest
}

// NewRunner creates a runner bound to a client and a session store.
func NewRunner(client *Client, store *session.Store, logger *logging.Logger) *Runner {
	return &Runner{
		client: client,
		store:  store,
		logger: logger.Component("runner"),
	}
}

// State returns the current in-flight status.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Send validates and submits a completion, streaming deltas to w. The user
// message is appended to the session before the network call; the assistant
// reply is appended when the stream ends, including partial replies after a
// stop. Validation failures happen before any network call and mutate
// nothing.
func (r *Runner) Send(ctx context.Context, req SendRequest, w io.Writer) error {
	if req.Deployment == nil || req.Deployment.ID == "" {
		return ErrNoDeployment
	}
	return r.run(ctx, req, w, true)
}

// Retry resubmits the last request unchanged, appending a fresh assistant
// reply without duplicating the user message.
func (r *Runner) Retry(ctx context.Context, w io.Writer) error {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		return ErrNothingToRetry
	}
	return r.run(ctx, *last, w, false)
}

// Stop cancels the in-flight completion. Content already streamed stays in
// the session store; there is no rollback.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) run(ctx context.Context, req SendRequest, w io.Writer, appendUser bool) error {
	runCtx, err := r.begin(ctx, req)
	if err != nil {
		return err
	}
	defer r.finish()

	logger := r.logger.WithFields(map[string]interface{}{
		"session_id": req.SessionID,
		"deployment": req.Deployment.ID,
	})

	if appendUser {
		if _, err := r.store.AddMessage(runCtx, req.SessionID, session.Message{
			Role:    "user",
			Content: req.Content,
		}); err != nil {
			return err
		}
	}

	history := r.history(req.SessionID)
	result, streamErr := r.client.Stream(runCtx, Request{
		Model:    req.Deployment.ID,
		Messages: history,
		Payload:  req.Payload,
		Params:   req.Params,
	}, &stateWriter{runner: r, w: w})

	if result.Content != "" {
		if _, err := r.store.AddMessage(context.WithoutCancel(runCtx), req.SessionID, session.Message{
			Role:    "assistant",
			Content: result.Content,
		}); err != nil {
			logger.Error("failed to record assistant message: %v", err)
		}
		r.store.AddTokens(context.WithoutCancel(runCtx), req.SessionID, result.Tokens)
	}

	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) {
			logger.Info("completion stopped, keeping partial content")
			return nil
		}
		logger.Error("completion failed: %v", streamErr)
		return streamErr
	}
	return nil
}

// begin claims the single in-flight slot and records the request for retry.
func (r *Runner) begin(ctx context.Context, req SendRequest) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunIdle {
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.state = RunSubmitted
	r.cancel = cancel
	r.last = &req
	return runCtx, nil
}

func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.state = RunIdle
}

// history converts the session's message list into the wire shape, dropping
// feedback and metadata.
func (r *Runner) history(sessionID string) []Message {
	stored := r.store.Messages(sessionID)
	out := make([]Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// stateWriter flips the runner to streaming on the first delta.
type stateWriter struct {
	runner *Runner
	w      io.Writer
	wrote  bool
}

func (sw *stateWriter) Write(p []byte) (int, error) {
	if !sw.wrote {
		sw.wrote = true
		sw.runner.mu.Lock()
		if sw.runner.state == RunSubmitted {
			sw.runner.state = RunStreaming
		}
		sw.runner.mu.Unlock()
	}
	return sw.w.Write(p)
}
