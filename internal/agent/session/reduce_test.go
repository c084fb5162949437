package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"brewchat/internal/agui"
)

func reduceAll(s State, events ...agui.Event) State {
	for _, ev := range events {
		s = Reduce(s, ev)
	}
	return s
}

func TestReduceHelloScenario(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.RunStarted{ThreadID: "t1", RunID: "r1"},
		&agui.TextMessageStart{MessageID: "m1", Role: agui.RoleAssistant},
		&agui.TextMessageContent{MessageID: "m1", Delta: "Hel"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "lo"},
		&agui.TextMessageEnd{MessageID: "m1"},
		&agui.RunFinished{},
	)

	require.Equal(t, []agui.Message{{ID: "m1", Role: agui.RoleAssistant, Content: "Hello"}}, s.Messages)
	require.Equal(t, StatusConnected, s.Status)
	require.Nil(t, s.Streaming)
	require.Equal(t, "", s.StreamingMessageID())
	require.Equal(t, "t1", s.ThreadID)
	require.Equal(t, "r1", s.RunID)
}

func TestReduceRunStartedClearsErrorAndKeepsIDs(t *testing.T) {
	t.Parallel()

	s := Failed(Initial(), "previous failure")
	s.ThreadID = "t1"
	s = Reduce(s, &agui.RunStarted{RunID: "r2"})

	require.Equal(t, StatusConnected, s.Status)
	require.Empty(t, s.Error)
	require.Equal(t, "t1", s.ThreadID)
	require.Equal(t, "r2", s.RunID)
}

func TestReduceRunFinishedFinalizesStreamingMessage(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.RunStarted{ThreadID: "t1"},
		&agui.StepStarted{StepName: "mash_schedule"},
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "Mash at 66C"},
		&agui.RunFinished{},
	)

	require.Len(t, s.Messages, 1)
	require.Equal(t, "Mash at 66C", s.Messages[0].Content)
	require.Equal(t, agui.RoleAssistant, s.Messages[0].Role)
	require.Nil(t, s.Streaming)
	require.Empty(t, s.CurrentStep)

	s = reduceAll(s,
		&agui.TextMessageStart{MessageID: "m2"},
		&agui.TextMessageContent{MessageID: "m2", Delta: "new"},
	)
	require.Equal(t, "m2", s.StreamingMessageID())
	require.Equal(t, "new", s.StreamingContent())
}

func TestReduceFinalizeOverwritesExistingMessage(t *testing.T) {
	t.Parallel()

	s := Loaded([]agui.Message{
		{ID: "u1", Role: agui.RoleUser, Content: "scale it"},
		{ID: "m1", Role: agui.RoleAssistant, Content: "draft"},
	}, "t1")
	s = reduceAll(s,
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "final"},
		&agui.TextMessageEnd{MessageID: "m1"},
	)

	require.Len(t, s.Messages, 2)
	require.Equal(t, "final", s.Messages[1].Content)
}

func TestReduceRunErrorDropsPartialContent(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "partial"},
		&agui.RunError{Message: "upstream overloaded"},
	)
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, "upstream overloaded", s.Error)
	require.Nil(t, s.Streaming)
	require.Empty(t, s.Messages)

	s = Reduce(Initial(), &agui.RunError{})
	require.Equal(t, defaultRunError, s.Error)
}

func TestReduceIgnoresMismatchedTextFrames(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.TextMessageContent{MessageID: "m1", Delta: "orphan"},
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "a"},
		&agui.TextMessageContent{MessageID: "other", Delta: "x"},
		&agui.TextMessageEnd{MessageID: "other"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "b"},
	)
	require.Empty(t, s.Messages)
	require.Equal(t, "m1", s.StreamingMessageID())
	require.Equal(t, "ab", s.StreamingContent())
}

func TestReduceRepeatedStartRestartsContent(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.TextMessageStart{MessageID: "m1", Role: agui.RoleAssistant},
		&agui.TextMessageContent{MessageID: "m1", Delta: "draft"},
		&agui.TextMessageStart{MessageID: "m1", Role: agui.RoleAssistant},
		&agui.TextMessageContent{MessageID: "m1", Delta: "final"},
		&agui.TextMessageEnd{MessageID: "m1"},
	)
	require.Equal(t, []agui.Message{{ID: "m1", Role: agui.RoleAssistant, Content: "final"}}, s.Messages)
	require.Nil(t, s.Streaming)
}

func TestReduceTextMessageChunk(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.TextMessageChunk{MessageID: "m1", Role: agui.RoleAssistant, Content: "Use "},
		&agui.TextMessageChunk{MessageID: "m1", Delta: "Saaz"},
	)
	require.Equal(t, "m1", s.StreamingMessageID())
	require.Equal(t, "Use Saaz", s.StreamingContent())
	require.Empty(t, s.Messages)

	s = Reduce(s, &agui.TextMessageEnd{MessageID: "m1"})
	require.Equal(t, []agui.Message{{ID: "m1", Role: agui.RoleAssistant, Content: "Use Saaz"}}, s.Messages)
}

func TestReduceToolCallLifecycle(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.ToolCallStart{ToolCallID: "c1", ToolName: "scale_recipe"},
		&agui.ToolCallArgs{ToolCallID: "c1", Delta: `{"batch_liters":`},
		&agui.ToolCallArgs{ToolCallID: "c1", Delta: `23}`},
	)
	call, ok := s.ToolCall("c1")
	require.True(t, ok)
	require.Equal(t, "scale_recipe", call.Name)
	require.Equal(t, agui.ToolStatusRunning, call.Status)
	require.Equal(t, `{"batch_liters":23}`, call.Args)

	s = Reduce(s, &agui.ToolCallEnd{ToolCallID: "c1"})
	call, _ = s.ToolCall("c1")
	require.Equal(t, agui.ToolStatusCompleted, call.Status)

	s = Reduce(s, &agui.ToolCallResult{ToolCallID: "c1", Result: []byte(`"scaled to 23L"`), Legacy: true})
	call, _ = s.ToolCall("c1")
	require.Equal(t, "scaled to 23L", call.Result)
	require.Equal(t, agui.ToolStatusCompleted, call.Status)

	s = reduceAll(s,
		&agui.ToolCallStart{ToolCallID: "c1", ToolCallName: "duplicate"},
		&agui.ToolCallArgs{ToolCallID: "missing", Delta: "x"},
	)
	require.Len(t, s.ToolCalls, 1)
	require.Equal(t, "scale_recipe", s.ToolCalls[0].Name)
}

func TestReduceStateEvents(t *testing.T) {
	t.Parallel()

	s := Reduce(Initial(), &agui.StateSnapshot{Snapshot: map[string]any{
		"recipe": map[string]any{"style": "Pils"},
	}})
	s = Reduce(s, &agui.StateDelta{Delta: []agui.PatchOp{
		{Op: agui.PatchAdd, Path: "/recipe/hops", Value: []any{}},
		{Op: agui.PatchAdd, Path: "/recipe/hops/-", Value: "Saaz"},
		{Op: agui.PatchReplace, Path: "/recipe/style", Value: "Czech Pils"},
	}})
	require.Equal(t, map[string]any{
		"recipe": map[string]any{"style": "Czech Pils", "hops": []any{"Saaz"}},
	}, s.AgentState)

	s = Reduce(s, &agui.MessagesSnapshot{Messages: []agui.Message{{ID: "x", Role: agui.RoleUser, Content: "hi"}}})
	require.Len(t, s.Messages, 1)
}

func TestReduceSnapshotKeepsStreamingSlot(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "still going"},
		&agui.MessagesSnapshot{Messages: []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "q"}}},
	)
	require.Equal(t, "still going", s.StreamingContent())
	require.Len(t, s.Messages, 1)
}

func TestReduceObservationOnlyEvents(t *testing.T) {
	t.Parallel()

	base := Reduce(Initial(), &agui.RunStarted{ThreadID: "t1"})
	for _, ev := range []agui.Event{
		&agui.Custom{Name: "gravity_reading"},
		&agui.Raw{Source: "upstream"},
		&agui.Unknown{Kind: "REASONING_START"},
	} {
		require.Equal(t, base, Reduce(base, ev), "event %s", ev.Type())
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	base := reduceAll(Initial(),
		&agui.RunStarted{ThreadID: "t1"},
		&agui.StateSnapshot{Snapshot: map[string]any{"a": map[string]any{"b": 1.0}}},
		&agui.ToolCallStart{ToolCallID: "c1", ToolCallName: "lookup_hop"},
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "x"},
		&agui.TextMessageEnd{MessageID: "m1"},
	)
	snapshot := base.Clone()

	left := reduceAll(base,
		&agui.TextMessageStart{MessageID: "m2"},
		&agui.TextMessageContent{MessageID: "m2", Delta: "left"},
		&agui.RunFinished{},
		&agui.ToolCallArgs{ToolCallID: "c1", Delta: "L"},
		&agui.StateDelta{Delta: []agui.PatchOp{{Op: agui.PatchRemove, Path: "/a/b"}}},
	)
	right := reduceAll(base,
		&agui.TextMessageStart{MessageID: "m3"},
		&agui.TextMessageContent{MessageID: "m3", Delta: "right"},
		&agui.RunFinished{},
		&agui.ToolCallArgs{ToolCallID: "c1", Delta: "R"},
	)

	require.Equal(t, snapshot, base)
	require.Equal(t, "left", left.Messages[1].Content)
	require.Equal(t, "right", right.Messages[1].Content)
	require.Equal(t, "L", left.ToolCalls[0].Args)
	require.Equal(t, "R", right.ToolCalls[0].Args)
	require.Equal(t, map[string]any{"a": map[string]any{}}, left.AgentState)
	require.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, right.AgentState)
}

func TestLocalTransitions(t *testing.T) {
	t.Parallel()

	s := reduceAll(Initial(),
		&agui.RunStarted{ThreadID: "t1"},
		&agui.StepStarted{StepName: "boil"},
		&agui.TextMessageStart{MessageID: "m1"},
	)
	failed := Failed(s, "agent endpoint returned status 500: boom")
	require.Equal(t, StatusError, failed.Status)
	require.True(t, strings.Contains(failed.Error, "boom"))
	require.Nil(t, failed.Streaming)
	require.Empty(t, failed.CurrentStep)

	connecting := Connecting(failed)
	require.Equal(t, StatusConnecting, connecting.Status)
	require.Empty(t, connecting.Error)

	stopped := Disconnected(s)
	require.Equal(t, StatusDisconnected, stopped.Status)
	require.Empty(t, stopped.Error)
	require.Nil(t, stopped.Streaming)

	withUser := AppendMessage(s, agui.Message{ID: "u1", Role: agui.RoleUser, Content: "hello"})
	require.Len(t, withUser.Messages, 1)
	require.Empty(t, s.Messages)
}

func TestAllMessagesProjection(t *testing.T) {
	t.Parallel()

	s := Loaded([]agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "q"}}, "t1")
	require.Equal(t, s.Messages, AllMessages(s))

	s = reduceAll(s,
		&agui.TextMessageStart{MessageID: "m1"},
		&agui.TextMessageContent{MessageID: "m1", Delta: "typing"},
	)
	all := AllMessages(s)
	require.Len(t, all, 2)
	require.Equal(t, agui.Message{ID: "m1", Role: agui.RoleAssistant, Content: "typing"}, all[1])
	require.Len(t, s.Messages, 1)

	s.Messages = append(s.Messages, agui.Message{ID: "m1", Role: agui.RoleAssistant, Content: "old"})
	all = AllMessages(s)
	require.Len(t, all, 2)
	require.Equal(t, "typing", all[1].Content)
	require.Equal(t, "old", s.Messages[1].Content)
}
