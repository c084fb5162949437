// Package session holds the conversation state of one agent session and the
// pure transitions that fold protocol events into it.
package session

import (
	"slices"

	"brewchat/internal/agui"
)

// Status is the connection status of the session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StreamingMessage is the assistant message under construction.
type StreamingMessage struct {
	ID      string
	Role    agui.Role
	Content string
}

// Message projects the streaming slot as a conversation message.
func (m StreamingMessage) Message() agui.Message {
	role := m.Role
	if role == "" {
		role = agui.RoleAssistant
	}
	return agui.Message{ID: m.ID, Role: role, Content: m.Content}
}

// State is one conversation's session state. It is a value: every transition
// returns a new State and leaves its input untouched.
type State struct {
	Status      Status
	Error       string
	ThreadID    string
	RunID       string
	Messages    []agui.Message
	Streaming   *StreamingMessage
	ToolCalls   []agui.ToolCall
	AgentState  any
	CurrentStep string
}

// Initial returns the empty session state.
func Initial() State {
	return State{Status: StatusDisconnected}
}

// StreamingMessageID returns the id of the in-flight message, or "" when none is active.
func (s State) StreamingMessageID() string {
	if s.Streaming == nil {
		return ""
	}
	return s.Streaming.ID
}

// StreamingContent returns the in-flight message text, or "" when none is active.
func (s State) StreamingContent() string {
	if s.Streaming == nil {
		return ""
	}
	return s.Streaming.Content
}

// ToolCall looks up a tool call by id.
func (s State) ToolCall(id string) (agui.ToolCall, bool) {
	if i := toolCallIndex(s.ToolCalls, id); i >= 0 {
		return s.ToolCalls[i], true
	}
	return agui.ToolCall{}, false
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Messages = agui.CloneMessages(s.Messages)
	out.ToolCalls = slices.Clone(s.ToolCalls)
	if s.Streaming != nil {
		live := *s.Streaming
		out.Streaming = &live
	}
	out.AgentState = CloneValue(s.AgentState)
	return out
}

// Connecting marks the start of a new run and clears any previous error.
func Connecting(s State) State {
	s.Status = StatusConnecting
	s.Error = ""
	return s
}

// Failed records a run failure. The in-flight message is dropped.
func Failed(s State, msg string) State {
	s.Status = StatusError
	s.Error = msg
	s.Streaming = nil
	s.CurrentStep = ""
	return s
}

// Disconnected records a canceled run. Cancellation is not a failure, so the
// error field is left as is.
func Disconnected(s State) State {
	s.Status = StatusDisconnected
	s.Streaming = nil
	s.CurrentStep = ""
	return s
}

// AppendMessage adds a finalized message to the conversation.
func AppendMessage(s State, msg agui.Message) State {
	s.Messages = append(slices.Clip(s.Messages), msg.Clone())
	return s
}

// Loaded returns a fresh state holding a resumed conversation.
func Loaded(messages []agui.Message, threadID string) State {
	s := Initial()
	s.Messages = agui.CloneMessages(messages)
	s.ThreadID = threadID
	return s
}

// AllMessages merges the finalized messages with the in-flight message. A
// streaming id that already exists replaces that entry's content in place;
// otherwise the streaming message is appended. s is not modified.
func AllMessages(s State) []agui.Message {
	out := agui.CloneMessages(s.Messages)
	if s.Streaming == nil {
		return out
	}
	live := s.Streaming.Message()
	for i := range out {
		if out[i].ID == live.ID {
			out[i].Content = live.Content
			return out
		}
	}
	return append(out, live)
}

func toolCallIndex(calls []agui.ToolCall, id string) int {
	return slices.IndexFunc(calls, func(c agui.ToolCall) bool { return c.ID == id })
}
