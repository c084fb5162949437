package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"brewchat/internal/agent"
	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
)

// scriptedRunner applies a fixed event script to the sink the way agent.Runner does.
type scriptedRunner struct {
	mu      sync.Mutex
	configs []agui.RunConfig
	events  []agui.Event
	err     error
	aborted bool
	aborts  int
}

func (r *scriptedRunner) Run(_ context.Context, sink agent.Sink, cfg agui.RunConfig) error {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	events, err, aborted := r.events, r.err, r.aborted
	r.mu.Unlock()

	sink.Update(session.Connecting)
	for _, ev := range events {
		sink.Update(func(s session.State) session.State { return session.Reduce(s, ev) })
		if observer, ok := sink.(agent.EventObserver); ok {
			observer.Observe(ev)
		}
	}
	if aborted {
		sink.Update(session.Disconnected)
		return fmt.Errorf("%w: %w", agent.ErrAborted, context.Canceled)
	}
	if err != nil {
		msg := err.Error()
		sink.Update(func(s session.State) session.State { return session.Failed(s, msg) })
		return err
	}
	return nil
}

func (r *scriptedRunner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
}

func (r *scriptedRunner) Running() bool { return false }

func (r *scriptedRunner) script(events ...agui.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = events
}

func (r *scriptedRunner) lastConfig() agui.RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configs[len(r.configs)-1]
}

func replyScript(threadID, messageID, text string) []agui.Event {
	return []agui.Event{
		&agui.RunStarted{ThreadID: threadID, RunID: "r-" + messageID},
		&agui.TextMessageStart{MessageID: messageID, Role: agui.RoleAssistant},
		&agui.TextMessageContent{MessageID: messageID, Delta: text},
		&agui.TextMessageEnd{MessageID: messageID},
		&agui.RunFinished{},
	}
}

func TestSendBuildsRunConfigAndAdoptsThread(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	runner.script(replyScript("t1", "m1", "Try a 60 minute boil")...)

	var completed int
	var seen []agui.EventType
	c, err := New(Config{
		Runner:     runner,
		Tools:      []agui.Tool{{Name: "scale_recipe"}},
		State:      map[string]any{"units": "metric"},
		OnEvent:    func(ev agui.Event, _ session.State) { seen = append(seen, ev.Type()) },
		OnComplete: func(session.State) { completed++ },
		OnError:    func(error, session.State) { t.Errorf("unexpected OnError") },
	})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "How long should I boil?"))

	cfg := runner.lastConfig()
	require.Empty(t, cfg.ThreadID)
	require.Len(t, cfg.Messages, 1)
	require.Equal(t, agui.RoleUser, cfg.Messages[0].Role)
	require.Equal(t, "How long should I boil?", cfg.Messages[0].Content)
	require.NotEmpty(t, cfg.Messages[0].ID)
	require.NotNil(t, cfg.Messages[0].CreatedAt)
	require.Equal(t, []agui.Tool{{Name: "scale_recipe"}}, cfg.Tools)
	require.Equal(t, map[string]any{"units": "metric"}, cfg.State)

	require.Equal(t, "t1", c.ThreadID())
	require.Equal(t, 1, completed)
	require.Len(t, seen, 5)
	require.Equal(t, session.StatusConnected, c.Status())

	runner.script(replyScript("t1", "m2", "Yes")...)
	require.NoError(t, c.Send(context.Background(), "Even for pilsner?"))

	cfg = runner.lastConfig()
	require.Equal(t, "t1", cfg.ThreadID)
	require.Len(t, cfg.Messages, 3)
	require.Equal(t, []agui.Role{agui.RoleUser, agui.RoleAssistant, agui.RoleUser},
		[]agui.Role{cfg.Messages[0].Role, cfg.Messages[1].Role, cfg.Messages[2].Role})
	require.Len(t, c.Messages(), 4)
}

func TestSendInThread(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	c, err := New(Config{Runner: runner})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "resume", InThread("t-saved")))
	require.Equal(t, "t-saved", runner.lastConfig().ThreadID)
	require.Equal(t, "t-saved", c.ThreadID())
}

func TestSendReportsProtocolRunError(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	runner.script(
		&agui.RunStarted{ThreadID: "t1"},
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "partial"},
		&agui.RunError{Message: "recipe service unavailable"},
	)

	var gotErr error
	var completed int
	c, err := New(Config{
		Runner:     runner,
		OnComplete: func(session.State) { completed++ },
		OnError:    func(err error, _ session.State) { gotErr = err },
	})
	require.NoError(t, err)

	err = c.Send(context.Background(), "scale to 40L")
	require.ErrorIs(t, err, ErrRunFailed)
	require.ErrorIs(t, gotErr, ErrRunFailed)
	require.Contains(t, err.Error(), "recipe service unavailable")
	require.Equal(t, session.StatusError, c.Status())
	require.Equal(t, "recipe service unavailable", c.Error())
	require.Len(t, c.AllMessages(), 1)
	require.Zero(t, completed)

	runner.script(replyScript("t1", "m2", "Scaled")...)
	require.NoError(t, c.Send(context.Background(), "retry"))
	require.Empty(t, c.Error())
	require.Equal(t, 1, completed)
}

func TestSendReportsTransportError(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{err: &agent.StatusError{StatusCode: 500, Body: "boom"}}
	var errorCalls int
	c, err := New(Config{Runner: runner, OnError: func(error, session.State) { errorCalls++ }})
	require.NoError(t, err)

	err = c.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrRunFailed)
	var statusErr *agent.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, 500, statusErr.StatusCode)
	require.Equal(t, 1, errorCalls)
	require.Contains(t, c.Error(), "boom")
}

func TestSendTreatsCancellationAsCompletion(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{aborted: true}
	runner.script(&agui.RunStarted{ThreadID: "t1"})

	var completed int
	c, err := New(Config{
		Runner:     runner,
		OnComplete: func(session.State) { completed++ },
		OnError:    func(error, session.State) { t.Errorf("unexpected OnError") },
	})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "never mind"))
	require.Equal(t, 1, completed)
	require.Equal(t, session.StatusDisconnected, c.Status())
	require.Empty(t, c.Error())
}

func TestClearAndLoadMessages(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	runner.script(append(replyScript("t1", "m1", "ok"),
		&agui.ToolCallStart{ToolCallID: "c1", ToolCallName: "lookup_hop"})...)
	c, err := New(Config{Runner: runner})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), "hi"))
	require.Len(t, c.ToolCalls(), 1)

	c.Clear()
	require.Equal(t, 1, runner.aborts)
	require.Empty(t, c.ThreadID())
	require.Empty(t, c.Messages())
	require.Empty(t, c.ToolCalls())
	require.Equal(t, session.StatusDisconnected, c.Status())

	c.LoadMessages([]agui.Message{
		{ID: "u1", Role: agui.RoleUser, Content: "what yeast?"},
		{ID: "a1", Role: agui.RoleAssistant, Content: "US-05"},
	}, "t-old")
	require.Equal(t, 2, runner.aborts)
	require.Equal(t, "t-old", c.ThreadID())
	require.Equal(t, "t-old", c.State().ThreadID)
	require.Len(t, c.Messages(), 2)

	require.NoError(t, c.Send(context.Background(), "and for a lager?"))
	cfg := runner.lastConfig()
	require.Equal(t, "t-old", cfg.ThreadID)
	require.Len(t, cfg.Messages, 3)
}

func TestSetStateAndSetTools(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	c, err := New(Config{
		Runner: runner,
		Tools:  []agui.Tool{{Name: "scale_recipe", Description: "v1"}, {Name: "lookup_hop"}},
		State:  map[string]any{"units": "metric", "batch": 20.0},
	})
	require.NoError(t, err)

	c.SetState(map[string]any{"batch": 23.0, "style": "Saison"})
	c.SetTools(agui.Tool{Name: "scale_recipe", Description: "v2"}, agui.Tool{Name: "water_profile"})

	require.Equal(t, map[string]any{"units": "metric", "batch": 23.0, "style": "Saison"}, c.SharedState())
	tools := c.Tools()
	require.Len(t, tools, 3)
	require.Equal(t, "v2", tools[0].Description)
	require.Equal(t, "water_profile", tools[2].Name)

	require.NoError(t, c.Send(context.Background(), "go"))
	cfg := runner.lastConfig()
	require.Len(t, cfg.Tools, 3)
	require.Equal(t, 23.0, cfg.State.(map[string]any)["batch"])

	shared := c.SharedState()
	shared["units"] = "imperial"
	require.Equal(t, "metric", c.SharedState()["units"])
}

func TestNewRequiresRunner(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, ErrRunnerRequired)
}

func TestSessionOverAgentRunner(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range []string{
			`{"type":"RUN_STARTED","threadId":"t7","runId":"r1"}`,
			`{"type":"STEP_STARTED","stepName":"draft_recipe"}`,
			`{"type":"STATE_SNAPSHOT","snapshot":{"recipe":{"style":"Saison","og":1.050}}}`,
			`{"type":"STATE_DELTA","delta":[{"op":"replace","path":"/recipe/og","value":1.056},{"op":"add","path":"/recipe/hops","value":[{"name":"Saaz"}]}]}`,
			`{"type":"TOOL_CALL_START","toolCallId":"c1","toolName":"scale_recipe"}`,
			`{"type":"TOOL_CALL_ARGS","toolCallId":"c1","delta":"{\"batch_liters\":"}`,
			`{"type":"TOOL_CALL_ARGS","toolCallId":"c1","delta":"23}"}`,
			`{"type":"TOOL_CALL_END","toolCallId":"c1"}`,
			`{"type":"TOOL_RESULT","toolCallId":"c1","result":"scaled"}`,
			`{"type":"TEXT_MESSAGE_CHUNK","messageId":"m1","role":"assistant","content":"Drafted."}`,
			`{"type":"STEP_FINISHED","stepName":"draft_recipe"}`,
			`{"type":"RUN_FINISHED","threadId":"t7","runId":"r1"}`,
			`[DONE]`,
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
		}
	}))
	defer server.Close()

	runner, err := agent.New(agent.Config{Endpoint: server.URL})
	require.NoError(t, err)
	c, err := New(Config{Runner: runner})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "Draft a saison"))
	require.Equal(t, "t7", c.ThreadID())
	require.Equal(t, 1.056, c.Query("recipe.og").Float())
	require.Equal(t, "Saaz", c.Query("recipe.hops.0.name").String())
	require.Empty(t, c.CurrentStep())
	require.False(t, c.Running())

	calls := c.ToolCalls()
	require.Len(t, calls, 1)
	require.Equal(t, `{"batch_liters":23}`, calls[0].Args)
	require.Equal(t, "scaled", calls[0].Result)
	require.Equal(t, agui.ToolStatusCompleted, calls[0].Status)

	messages := c.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "Drafted.", messages[1].Content)
}
