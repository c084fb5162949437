package session

import (
	"slices"

	"brewchat/internal/agui"
)

// defaultRunError is reported when a RUN_ERROR event carries no message.
const defaultRunError = "agent run failed"

// Reduce applies one event to s and returns the resulting state. It never
// mutates s or ev. Events it does not act on return s unchanged.
func Reduce(s State, ev agui.Event) State {
	switch e := ev.(type) {
	case *agui.RunStarted:
		s.Status = StatusConnected
		s.Error = ""
		if e.ThreadID != "" {
			s.ThreadID = e.ThreadID
		}
		if e.RunID != "" {
			s.RunID = e.RunID
		}
	case *agui.RunFinished:
		s = finalizeStreaming(s)
		s.CurrentStep = ""
		s.Status = StatusConnected
	case *agui.RunError:
		msg := e.Message
		if msg == "" {
			msg = defaultRunError
		}
		s.Status = StatusError
		s.Error = msg
		s.Streaming = nil
	case *agui.StepStarted:
		s.CurrentStep = e.StepName
	case *agui.StepFinished:
		s.CurrentStep = ""

	case *agui.TextMessageStart:
		s.Streaming = &StreamingMessage{ID: e.MessageID, Role: e.Role}
	case *agui.TextMessageContent:
		if s.Streaming == nil || s.Streaming.ID != e.MessageID {
			return s
		}
		s.Streaming = &StreamingMessage{
			ID:      s.Streaming.ID,
			Role:    s.Streaming.Role,
			Content: s.Streaming.Content + e.Delta,
		}
	case *agui.TextMessageEnd:
		if s.Streaming == nil || s.Streaming.ID != e.MessageID {
			return s
		}
		s = finalizeStreaming(s)
	case *agui.TextMessageChunk:
		live := StreamingMessage{ID: e.MessageID, Role: e.Role}
		if s.Streaming != nil {
			live = *s.Streaming
		}
		live.Content += e.Text()
		s.Streaming = &live

	case *agui.ToolCallStart:
		if toolCallIndex(s.ToolCalls, e.ToolCallID) >= 0 {
			return s
		}
		s.ToolCalls = append(slices.Clip(s.ToolCalls), agui.ToolCall{
			ID:     e.ToolCallID,
			Name:   e.Name(),
			Status: agui.ToolStatusRunning,
		})
	case *agui.ToolCallArgs:
		s = updateToolCall(s, e.ToolCallID, func(c *agui.ToolCall) {
			c.Args += e.Delta
		})
	case *agui.ToolCallEnd:
		s = updateToolCall(s, e.ToolCallID, func(c *agui.ToolCall) {
			c.Status = agui.ToolStatusCompleted
		})
	case *agui.ToolCallResult:
		s = updateToolCall(s, e.ToolCallID, func(c *agui.ToolCall) {
			c.Result = e.Output()
			c.Status = agui.ToolStatusCompleted
		})

	case *agui.StateSnapshot:
		s.AgentState = CloneValue(e.Snapshot)
	case *agui.StateDelta:
		s.AgentState = ApplyPatch(s.AgentState, e.Delta)
	case *agui.MessagesSnapshot:
		s.Messages = agui.CloneMessages(e.Messages)

	case *agui.Raw, *agui.Custom, *agui.Unknown:
		// Observation only.
	}
	return s
}

// finalizeStreaming moves the in-flight message into Messages, overwriting the
// content of an existing entry with the same id.
func finalizeStreaming(s State) State {
	if s.Streaming == nil {
		return s
	}
	live := s.Streaming.Message()
	s.Streaming = nil

	if i := slices.IndexFunc(s.Messages, func(m agui.Message) bool { return m.ID == live.ID }); i >= 0 {
		s.Messages = slices.Clone(s.Messages)
		s.Messages[i].Content = live.Content
		return s
	}
	s.Messages = append(slices.Clip(s.Messages), live)
	return s
}

func updateToolCall(s State, id string, mutate func(*agui.ToolCall)) State {
	i := toolCallIndex(s.ToolCalls, id)
	if i < 0 {
		return s
	}
	s.ToolCalls = slices.Clone(s.ToolCalls)
	mutate(&s.ToolCalls[i])
	return s
}
