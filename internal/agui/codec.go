package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrInvalidEvent indicates a payload that is not a decodable event object.
	ErrInvalidEvent = errors.New("invalid event payload")
	// ErrMissingType indicates an event object without a string type discriminator.
	ErrMissingType = errors.New("event type is missing")
)

// Decode parses one JSON-encoded event. Unrecognised types decode to *Unknown
// rather than failing, so callers decide how to treat them.
func Decode(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: not valid json", ErrInvalidEvent)
	}
	kind := gjson.GetBytes(payload, "type")
	if kind.Type != gjson.String || strings.TrimSpace(kind.Str) == "" {
		return nil, ErrMissingType
	}

	var ev Event
	switch EventType(kind.Str) {
	case EventRunStarted:
		ev = &RunStarted{}
	case EventRunFinished:
		ev = &RunFinished{}
	case EventRunError:
		ev = &RunError{}
	case EventStepStarted:
		ev = &StepStarted{}
	case EventStepFinished:
		ev = &StepFinished{}
	case EventTextMessageStart:
		ev = &TextMessageStart{}
	case EventTextMessageContent:
		ev = &TextMessageContent{}
	case EventTextMessageEnd:
		ev = &TextMessageEnd{}
	case EventTextMessageChunk:
		ev = &TextMessageChunk{}
	case EventToolCallStart:
		ev = &ToolCallStart{}
	case EventToolCallArgs:
		ev = &ToolCallArgs{}
	case EventToolCallEnd:
		ev = &ToolCallEnd{}
	case EventToolCallResult:
		ev = &ToolCallResult{}
	case EventToolResult:
		ev = &ToolCallResult{Legacy: true}
	case EventStateSnapshot:
		ev = &StateSnapshot{}
	case EventStateDelta:
		ev = &StateDelta{}
	case EventMessagesSnapshot:
		ev = &MessagesSnapshot{}
	case EventRaw:
		ev = &Raw{}
	case EventCustom:
		ev = &Custom{}
	default:
		return &Unknown{
			Kind:    EventType(kind.Str),
			Payload: append(json.RawMessage(nil), payload...),
		}, nil
	}

	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, kind.Str, err)
	}
	return ev, nil
}

// Encode serializes an event with its type discriminator.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if unknown, ok := ev.(*Unknown); ok {
		return append([]byte(nil), unknown.Payload...), nil
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	out, err := sjson.SetBytes(raw, "type", string(ev.Type()))
	if err != nil {
		return nil, fmt.Errorf("set %s event type: %w", ev.Type(), err)
	}
	return out, nil
}
