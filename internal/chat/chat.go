// Package chat is the conversation facade used by front ends. It owns one
// session state and one runner, and builds a fresh run request for every send.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"goa.design/clue/log"

	"brewchat/internal/agent"
	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
)

var (
	// ErrRunnerRequired indicates a chat session without a runner.
	ErrRunnerRequired = errors.New("chat runner is required")
	// ErrRunFailed wraps failures of a send. Cancellation is not a failure.
	ErrRunFailed = errors.New("agent run failed")
)

// Runner is the run controller contract the facade drives. *agent.Runner implements it.
type Runner interface {
	Run(ctx context.Context, sink agent.Sink, cfg agui.RunConfig) error
	Abort()
	Running() bool
}

// Config configures a Session.
type Config struct {
	Runner Runner
	Tools  []agui.Tool
	State  map[string]any

	// OnEvent is called after every reduced event with the resulting state.
	OnEvent func(ev agui.Event, state session.State)
	// OnComplete is called when a send ends without an error recorded.
	OnComplete func(state session.State)
	// OnError is called when a send ends with an error recorded.
	OnError func(err error, state session.State)
}

// Session is one conversation. Its methods are safe for concurrent use.
type Session struct {
	runner     Runner
	onEvent    func(agui.Event, session.State)
	onComplete func(session.State)
	onError    func(error, session.State)

	mu       sync.Mutex
	state    session.State
	threadID string
	tools    []agui.Tool
	shared   map[string]any
}

// New creates a chat session.
func New(cfg Config) (*Session, error) {
	if cfg.Runner == nil {
		return nil, ErrRunnerRequired
	}
	c := &Session{
		runner:     cfg.Runner,
		onEvent:    cfg.OnEvent,
		onComplete: cfg.OnComplete,
		onError:    cfg.OnError,
		state:      session.Initial(),
		shared:     maps.Clone(cfg.State),
	}
	c.SetTools(cfg.Tools...)
	return c, nil
}

// SendOption customizes one Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	threadID string
}

// InThread continues the given thread instead of the active one.
func InThread(threadID string) SendOption {
	return func(o *sendOptions) {
		o.threadID = threadID
	}
}

// Send appends a user message and runs the agent over the whole conversation.
// It blocks until the run ends. A canceled run returns nil.
func (c *Session) Send(ctx context.Context, content string, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	msg := agui.Message{
		ID:        uuid.NewString(),
		Role:      agui.RoleUser,
		Content:   content,
		CreatedAt: &now,
	}

	c.mu.Lock()
	if o.threadID != "" {
		c.threadID = o.threadID
	}
	c.state = session.AppendMessage(c.state, msg)
	cfg := agui.RunConfig{
		ThreadID: c.threadID,
		Messages: agui.CloneMessages(c.state.Messages),
		Tools:    agui.CloneTools(c.tools),
	}
	if len(c.shared) > 0 {
		cfg.State = session.CloneValue(c.shared)
	}
	c.mu.Unlock()

	log.Debug(ctx,
		log.KV{K: "msg", V: "sending chat message"},
		log.KV{K: "thread", V: cfg.ThreadID},
		log.KV{K: "history", V: len(cfg.Messages)},
	)
	runErr := c.runner.Run(ctx, sink{c}, cfg)

	c.mu.Lock()
	if c.state.ThreadID != "" {
		c.threadID = c.state.ThreadID
	}
	final := c.state.Clone()
	c.mu.Unlock()

	if final.Error == "" {
		if c.onComplete != nil {
			c.onComplete(final)
		}
		return nil
	}

	var err error
	if runErr != nil && !errors.Is(runErr, agent.ErrAborted) {
		err = fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	} else {
		err = fmt.Errorf("%w: %s", ErrRunFailed, final.Error)
	}
	if c.onError != nil {
		c.onError(err, final)
	}
	return err
}

// LoadMessages replaces the conversation with a persisted one and makes
// threadID the active thread. Any run in flight is canceled first.
func (c *Session) LoadMessages(messages []agui.Message, threadID string) {
	c.runner.Abort()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = session.Loaded(messages, threadID)
	c.threadID = threadID
}

// Stop cancels the run in flight, if any.
func (c *Session) Stop() {
	c.runner.Abort()
}

// Clear cancels any run and resets the conversation. The next send starts a new thread.
func (c *Session) Clear() {
	c.runner.Abort()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = session.Initial()
	c.threadID = ""
}

// SetState merges values into the shared state sent with future runs.
func (c *Session) SetState(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared == nil {
		c.shared = make(map[string]any, len(values))
	}
	for key, value := range values {
		c.shared[key] = session.CloneValue(value)
	}
}

// SetTools adds or replaces tool definitions by name, keeping first-seen order.
func (c *Session) SetTools(tools ...agui.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tool := range agui.CloneTools(tools) {
		i := slices.IndexFunc(c.tools, func(t agui.Tool) bool { return t.Name == tool.Name })
		if i >= 0 {
			c.tools[i] = tool
			continue
		}
		c.tools = append(c.tools, tool)
	}
}

// Tools returns the tool definitions sent with future runs.
func (c *Session) Tools() []agui.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return agui.CloneTools(c.tools)
}

// SharedState returns the shared state sent with future runs.
func (c *Session) SharedState() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.shared) == 0 {
		return nil
	}
	out, _ := session.CloneValue(c.shared).(map[string]any)
	return out
}

// State returns a copy of the session state.
func (c *Session) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Status returns the connection status.
func (c *Session) Status() session.Status { return c.read().Status }

// Error returns the last run error text, or "".
func (c *Session) Error() string { return c.read().Error }

// CurrentStep returns the step the agent reported as in progress.
func (c *Session) CurrentStep() string { return c.read().CurrentStep }

// Running reports whether a run is in flight.
func (c *Session) Running() bool { return c.runner.Running() }

// Messages returns the finalized messages.
func (c *Session) Messages() []agui.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return agui.CloneMessages(c.state.Messages)
}

// AllMessages returns the finalized messages plus the one being streamed.
func (c *Session) AllMessages() []agui.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.AllMessages(c.state)
}

// ToolCalls returns the tool calls seen in this conversation.
func (c *Session) ToolCalls() []agui.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.state.ToolCalls)
}

// AgentState returns a copy of the state shared by the agent.
func (c *Session) AgentState() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.CloneValue(c.state.AgentState)
}

// Query evaluates a gjson path against the agent state, e.g. "recipe.hops.#.name".
func (c *Session) Query(path string) gjson.Result {
	raw, err := json.Marshal(c.AgentState())
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(raw, path)
}

// ThreadID returns the thread the next send continues, or "" for a new thread.
func (c *Session) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// read returns a shallow view of the state for scalar accessors.
func (c *Session) read() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// sink adapts a Session to agent.Sink without exposing Update on Session.
type sink struct {
	c *Session
}

func (s sink) Update(fn func(session.State) session.State) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.state = fn(s.c.state)
}

func (s sink) Observe(ev agui.Event) {
	if s.c.onEvent == nil {
		return
	}
	s.c.onEvent(ev, s.c.State())
}
