package devagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brewchat/internal/agui"
)

var (
	// ErrMissingAPIKey indicates the Anthropic model was configured without credentials.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrInvalidTurn indicates a turn the model cannot be asked to answer.
	ErrInvalidTurn = errors.New("invalid model turn")
)

// Turn is one model request built from a run.
type Turn struct {
	System   string
	Messages []agui.Message
	Tools    []agui.Tool
}

// Emit delivers one protocol event to the client. A non-nil error aborts the turn.
type Emit func(agui.Event) error

// Model streams one assistant turn as protocol events. Implementations emit
// message and tool call events only; the server frames the run around them.
type Model interface {
	Stream(ctx context.Context, turn Turn, emit Emit) error
}

// ScriptModel replays a fixed event script as a deterministic backend.
type ScriptModel struct {
	Events []agui.Event
	Delay  time.Duration
}

// EchoScript returns a script that answers with the given text as one message.
func EchoScript(messageID, text string) []agui.Event {
	events := []agui.Event{&agui.TextMessageStart{MessageID: messageID, Role: agui.RoleAssistant}}
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		events = append(events, &agui.TextMessageContent{MessageID: messageID, Delta: word})
	}
	return append(events, &agui.TextMessageEnd{MessageID: messageID})
}

// Stream emits the script in order until it is exhausted or ctx is canceled.
func (m *ScriptModel) Stream(ctx context.Context, turn Turn, emit Emit) error {
	_ = turn
	for _, ev := range m.Events {
		if m.Delay > 0 {
			if err := sleepContext(ctx, m.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// EchoModel answers every turn by repeating the latest user message. The CLI
// serves it when no Anthropic API key is configured.
type EchoModel struct {
	Delay time.Duration
}

// Stream echoes the last user message as a fresh assistant message.
func (m EchoModel) Stream(ctx context.Context, turn Turn, emit Emit) error {
	var last string
	for _, msg := range turn.Messages {
		if msg.Role == agui.RoleUser {
			last = msg.Content
		}
	}
	if strings.TrimSpace(last) == "" {
		return fmt.Errorf("%w: no user message", ErrInvalidTurn)
	}
	script := &ScriptModel{Events: EchoScript(uuid.NewString(), "You said: "+last), Delay: m.Delay}
	return script.Stream(ctx, turn, emit)
}
