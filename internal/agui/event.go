package agui

import (
	"encoding/json"
	"strings"
)

// EventType identifies wire event variants.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepFinished       EventType = "STEP_FINISHED"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventTextMessageChunk   EventType = "TEXT_MESSAGE_CHUNK"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventToolResult         EventType = "TOOL_RESULT"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventStateDelta         EventType = "STATE_DELTA"
	EventMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
	EventRaw                EventType = "RAW"
	EventCustom             EventType = "CUSTOM"
)

// defaultToolName is used when neither tool name field is present.
const defaultToolName = "unknown"

// Event is one decoded protocol event. The concrete types below form a closed set;
// anything else decodes to *Unknown.
type Event interface {
	Type() EventType
}

// RunStarted opens a run and assigns its thread and run ids.
type RunStarted struct {
	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
}

// RunFinished closes a run normally.
type RunFinished struct {
	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
}

// RunError reports a backend failure for the current run.
type RunError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StepStarted names the backend's current processing phase.
type StepStarted struct {
	StepName string `json:"stepName"`
}

// StepFinished ends the named processing phase.
type StepFinished struct {
	StepName string `json:"stepName"`
}

// TextMessageStart begins a streaming message.
type TextMessageStart struct {
	MessageID string `json:"messageId"`
	Role      Role   `json:"role,omitempty"`
}

// TextMessageContent carries one text delta for a streaming message.
type TextMessageContent struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// TextMessageEnd finalizes a streaming message.
type TextMessageEnd struct {
	MessageID string `json:"messageId"`
}

// TextMessageChunk combines start and content in one event. It never finalizes.
type TextMessageChunk struct {
	MessageID string `json:"messageId,omitempty"`
	Role      Role   `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Delta     string `json:"delta,omitempty"`
}

// Text returns the chunk text, preferring content over delta.
func (e *TextMessageChunk) Text() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Delta
}

// ToolCallStart opens a tool invocation. Backends emit either toolCallName or the
// older toolName field.
type ToolCallStart struct {
	ToolCallID      string `json:"toolCallId"`
	ToolCallName    string `json:"toolCallName,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// Name resolves the tool name: toolCallName, then toolName, then a literal default.
func (e *ToolCallStart) Name() string {
	if name := strings.TrimSpace(e.ToolCallName); name != "" {
		return name
	}
	if name := strings.TrimSpace(e.ToolName); name != "" {
		return name
	}
	return defaultToolName
}

// ToolCallArgs carries one argument delta.
type ToolCallArgs struct {
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

// ToolCallEnd marks argument streaming complete.
type ToolCallEnd struct {
	ToolCallID string `json:"toolCallId"`
}

// ToolCallResult carries a tool's output. It decodes both TOOL_CALL_RESULT and the
// compatibility TOOL_RESULT kind; Legacy records which one arrived.
type ToolCallResult struct {
	MessageID  string          `json:"messageId,omitempty"`
	ToolCallID string          `json:"toolCallId"`
	Content    json.RawMessage `json:"content,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Role       Role            `json:"role,omitempty"`
	Legacy     bool            `json:"-"`
}

// Output resolves the result text: content, then result, then empty.
// A JSON string is unquoted; any other JSON value is kept verbatim.
func (e *ToolCallResult) Output() string {
	if text := jsonText(e.Content); text != "" {
		return text
	}
	return jsonText(e.Result)
}

func jsonText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(trimmed), &text); err == nil {
		return text
	}
	return trimmed
}

// StateSnapshot replaces the shared agent state.
type StateSnapshot struct {
	Snapshot any `json:"snapshot"`
}

// StateDelta patches the shared agent state.
type StateDelta struct {
	Delta []PatchOp `json:"delta"`
}

// MessagesSnapshot replaces the finalized message list.
type MessagesSnapshot struct {
	Messages []Message `json:"messages"`
}

// Raw passes an upstream event through untouched.
type Raw struct {
	Event  json.RawMessage `json:"event,omitempty"`
	Source string          `json:"source,omitempty"`
}

// Custom is an application-defined event.
type Custom struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Unknown holds an event whose type is not part of the schema.
type Unknown struct {
	Kind    EventType
	Payload json.RawMessage
}

func (*RunStarted) Type() EventType         { return EventRunStarted }
func (*RunFinished) Type() EventType        { return EventRunFinished }
func (*RunError) Type() EventType           { return EventRunError }
func (*StepStarted) Type() EventType        { return EventStepStarted }
func (*StepFinished) Type() EventType       { return EventStepFinished }
func (*TextMessageStart) Type() EventType   { return EventTextMessageStart }
func (*TextMessageContent) Type() EventType { return EventTextMessageContent }
func (*TextMessageEnd) Type() EventType     { return EventTextMessageEnd }
func (*TextMessageChunk) Type() EventType   { return EventTextMessageChunk }
func (*ToolCallStart) Type() EventType      { return EventToolCallStart }
func (*ToolCallArgs) Type() EventType       { return EventToolCallArgs }
func (*ToolCallEnd) Type() EventType        { return EventToolCallEnd }
func (*StateSnapshot) Type() EventType      { return EventStateSnapshot }
func (*StateDelta) Type() EventType         { return EventStateDelta }
func (*MessagesSnapshot) Type() EventType   { return EventMessagesSnapshot }
func (*Raw) Type() EventType                { return EventRaw }
func (*Custom) Type() EventType             { return EventCustom }
func (e *Unknown) Type() EventType          { return e.Kind }

func (e *ToolCallResult) Type() EventType {
	if e.Legacy {
		return EventToolResult
	}
	return EventToolCallResult
}
