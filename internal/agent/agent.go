// Package agent runs agent requests against a streaming endpoint and folds the
// resulting events into a session through the reducer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
)

const defaultMaxErrorBody = 64 << 10

var (
	// ErrEndpointRequired indicates a runner without an agent endpoint.
	ErrEndpointRequired = errors.New("agent endpoint is required")
	// ErrSinkRequired indicates a run without a session sink.
	ErrSinkRequired = errors.New("session sink is required")
	// ErrAborted indicates a run ended by cancellation. It is not a failure.
	ErrAborted = errors.New("agent run aborted")
)

// StatusError reports a non-success response from the agent endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Sink receives state transitions for one session. Update must apply fn to the
// current state atomically and must not call back into the Runner.
type Sink interface {
	Update(fn func(session.State) session.State)
}

// EventObserver is implemented by sinks that want every reduced event. Observe is
// called after the event is applied, outside any runner lock.
type EventObserver interface {
	Observe(ev agui.Event)
}

// Config configures a Runner.
type Config struct {
	Endpoint string
	// HTTPClient defaults to a client without a timeout. Deadlines come from the
	// context passed to Run.
	HTTPClient *http.Client
	Headers    HeaderResolver
	// MaxErrorBody caps how much of a failed response body is kept.
	MaxErrorBody int64
}

// Runner drives at most one run at a time. Starting a run cancels the previous one.
type Runner struct {
	endpoint     string
	client       *http.Client
	headers      HeaderResolver
	maxErrorBody int64

	mu     sync.Mutex
	active *run
}

// run is the cancellation token of one Run call. Once released it never touches
// its sink again.
type run struct {
	sink   Sink
	cancel context.CancelFunc

	mu       sync.Mutex
	released bool
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	maxErrorBody := cfg.MaxErrorBody
	if maxErrorBody <= 0 {
		maxErrorBody = defaultMaxErrorBody
	}
	return &Runner{
		endpoint:     endpoint,
		client:       client,
		headers:      cfg.Headers,
		maxErrorBody: maxErrorBody,
	}, nil
}

// Endpoint returns the agent run URL.
func (r *Runner) Endpoint() string {
	return r.endpoint
}

// Run performs one agent run and blocks until it ends. A canceled run, either
// by ctx, Abort, or a newer Run, leaves the session disconnected and returns an
// error matching ErrAborted. Any other failure is recorded in the session and
// returned.
func (r *Runner) Run(ctx context.Context, sink Sink, cfg agui.RunConfig) error {
	if sink == nil {
		return ErrSinkRequired
	}

	runCtx, cancel := context.WithCancel(ctx)
	current := &run{sink: sink, cancel: cancel}

	r.mu.Lock()
	previous := r.active
	r.active = current
	r.mu.Unlock()
	if previous != nil {
		previous.release(session.Disconnected)
	}
	defer r.finish(current)

	current.apply(session.Connecting)

	err := r.stream(runCtx, current, cfg)
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil {
		current.release(session.Disconnected)
		return fmt.Errorf("%w: %w", ErrAborted, runCtx.Err())
	}

	msg := err.Error()
	current.apply(func(s session.State) session.State {
		return session.Failed(s, msg)
	})
	return err
}

// Abort cancels the active run, if any, and marks its session disconnected.
func (r *Runner) Abort() {
	r.mu.Lock()
	current := r.active
	r.active = nil
	r.mu.Unlock()
	if current != nil {
		current.release(session.Disconnected)
	}
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Runner) finish(current *run) {
	r.mu.Lock()
	if r.active == current {
		r.active = nil
	}
	r.mu.Unlock()
	current.release(nil)
}

// apply runs fn against the sink unless the run has been released.
func (t *run) apply(fn func(session.State) session.State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return false
	}
	t.sink.Update(fn)
	return true
}

// release cancels the run and applies final, once.
func (t *run) release(final func(session.State) session.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.cancel()
	if final != nil {
		t.sink.Update(final)
	}
}
