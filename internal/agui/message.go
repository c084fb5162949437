package agui

import (
	"encoding/json"
	"time"
)

// Role identifies the message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolStatus is the lifecycle position of a tool call.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// ToolCall is an agent-requested function invocation. Args accumulates the raw
// argument deltas in arrival order.
type ToolCall struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Args   string     `json:"args"`
	Result string     `json:"result,omitempty"`
	Status ToolStatus `json:"status"`
}

// Message is one conversation entry.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	if len(out.ToolCalls) == 0 {
		out.ToolCalls = nil
	}
	if m.CreatedAt != nil {
		ts := *m.CreatedAt
		out.CreatedAt = &ts
	}
	return out
}

// PatchOp is one JSON-Patch-like operation against the shared state.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

const (
	PatchAdd     = "add"
	PatchReplace = "replace"
	PatchRemove  = "remove"
)

// Tool describes a client-declared tool the agent may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// RunConfig is the request body of one agent run. It is built fresh for every run.
type RunConfig struct {
	ThreadID string    `json:"threadId,omitempty"`
	RunID    string    `json:"runId,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	State    any       `json:"state,omitempty"`
}

// CloneMessages deep-copies a message list.
func CloneMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.Clone())
	}
	return out
}

// CloneTools deep-copies a tool list.
func CloneTools(tools []Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		copied := tool
		copied.Parameters = append(json.RawMessage(nil), tool.Parameters...)
		out = append(out, copied)
	}
	return out
}
