package agentapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidAssignment indicates a state assignment that is not path=value.
var ErrInvalidAssignment = errors.New("state assignment must look like path=value")

// IsSlashCommand reports whether a line of input is a command rather than a message.
func IsSlashCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "/")
}

// ExecuteSlashCommand parses and handles one slash command. It returns true
// when the user asked to quit.
func ExecuteSlashCommand(ctx context.Context, content string, env CommandEnv) bool {
	if env.Chat == nil {
		appendError(env, "chat session is not initialized")
		return false
	}

	parts := strings.Fields(strings.TrimSpace(content))
	if len(parts) == 0 {
		return false
	}
	command := strings.TrimPrefix(parts[0], "/")
	args := parts[1:]

	switch command {
	case "help":
		appendAssistant(env, strings.Join([]string{
			"Slash commands:",
			"/help",
			"/new",
			"/stop",
			"/status",
			"/threads",
			"/resume <thread-id|latest>",
			"/delete <thread-id>",
			"/state <path>=<value>",
			"/show [path]",
			"/quit",
		}, "\n"))
	case "quit", "exit":
		env.Chat.Stop()
		return true
	case "new":
		env.Chat.Clear()
		if env.OnNewThread != nil {
			env.OnNewThread()
		}
		appendAssistant(env, "Started a new thread.")
	case "stop":
		if !env.Chat.Running() {
			appendAssistant(env, "No run in progress.")
			return false
		}
		env.Chat.Stop()
		appendAssistant(env, "Stopped the current run.")
	case "status":
		st := env.Chat.State()
		line := fmt.Sprintf("status=%s thread=%s run=%s step=%s messages=%d tool_calls=%d",
			st.Status,
			valueOr(env.Chat.ThreadID(), "-"),
			valueOr(st.RunID, "-"),
			valueOr(st.CurrentStep, "-"),
			len(st.Messages),
			len(st.ToolCalls),
		)
		if st.Error != "" {
			line += fmt.Sprintf(" error=%q", st.Error)
		}
		appendAssistant(env, line)
	case "threads":
		if env.Threads == nil {
			appendError(env, "thread service is not configured")
			return false
		}
		list, err := env.Threads.List(ctx)
		if err != nil {
			appendError(env, err.Error())
			return false
		}
		if len(list) == 0 {
			appendAssistant(env, "No threads found.")
			return false
		}
		lines := make([]string, 0, len(list)+1)
		lines = append(lines, "Threads:")
		current := env.Chat.ThreadID()
		for _, item := range list {
			marker := "-"
			if item.ID == current {
				marker = "*"
			}
			lines = append(lines, fmt.Sprintf("%s %s %q (%d messages, updated %s)",
				marker, item.ID, item.Title, item.MessageCount, valueOr(item.UpdatedAt, "unknown")))
		}
		appendAssistant(env, strings.Join(lines, "\n"))
	case "resume":
		if env.Chat.Running() {
			appendError(env, "cannot resume a thread while the agent is running")
			return false
		}
		if env.Threads == nil {
			appendError(env, "thread service is not configured")
			return false
		}
		if len(args) != 1 {
			appendError(env, "usage: /resume <thread-id|latest>")
			return false
		}

		targetID := strings.TrimSpace(args[0])
		if strings.EqualFold(targetID, "latest") {
			list, err := env.Threads.List(ctx)
			if err != nil {
				appendError(env, err.Error())
				return false
			}
			if len(list) == 0 {
				appendAssistant(env, "No threads found.")
				return false
			}
			current := env.Chat.ThreadID()
			targetID = list[0].ID
			for _, item := range list {
				if item.ID != current {
					targetID = item.ID
					break
				}
			}
		}
		thread, err := env.Threads.Get(ctx, targetID)
		if err != nil {
			appendError(env, err.Error())
			return false
		}
		conversation := thread.Conversation()
		env.Chat.LoadMessages(conversation, targetID)
		if env.OnResume != nil {
			env.OnResume(targetID)
		}
		appendAssistant(env, fmt.Sprintf("Resumed thread %s (%d messages).", targetID, len(conversation)))
	case "delete":
		if env.Threads == nil {
			appendError(env, "thread service is not configured")
			return false
		}
		if len(args) != 1 {
			appendError(env, "usage: /delete <thread-id>")
			return false
		}
		targetID := strings.TrimSpace(args[0])
		if err := env.Threads.Delete(ctx, targetID); err != nil {
			appendError(env, err.Error())
			return false
		}
		if targetID == env.Chat.ThreadID() {
			env.Chat.Clear()
			if env.OnNewThread != nil {
				env.OnNewThread()
			}
		}
		appendAssistant(env, "Deleted thread "+targetID+".")
	case "state":
		if len(args) == 0 {
			raw, err := json.Marshal(env.Chat.SharedState())
			if err != nil {
				appendError(env, err.Error())
				return false
			}
			appendAssistant(env, "Shared state: "+string(raw))
			return false
		}
		updated, err := ApplyAssignment(env.Chat.SharedState(), strings.Join(args, " "))
		if err != nil {
			appendError(env, err.Error())
			return false
		}
		env.Chat.SetState(updated)
		raw, _ := json.Marshal(env.Chat.SharedState())
		appendAssistant(env, "Shared state: "+string(raw))
	case "show":
		if len(args) == 0 {
			doc := env.Chat.Query("@pretty")
			if !doc.Exists() || doc.Type == gjson.Null {
				appendAssistant(env, "Agent state is empty.")
				return false
			}
			appendAssistant(env, strings.TrimSpace(doc.Raw))
			return false
		}
		result := env.Chat.Query(args[0])
		if !result.Exists() {
			appendAssistant(env, "No value at "+args[0]+".")
			return false
		}
		appendAssistant(env, result.Raw)
	default:
		appendError(env, "unknown slash command: /"+command)
	}

	return false
}

// ApplyAssignment sets one sjson path in a copy of doc, e.g. "recipe.batch_liters=23"
// or "recipe.hops.-1=\"Saaz\"". A value that is valid JSON is stored as JSON;
// anything else is stored as a string.
func ApplyAssignment(doc map[string]any, expr string) (map[string]any, error) {
	path, value, ok := strings.Cut(expr, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAssignment, expr)
	}
	value = strings.TrimSpace(value)

	raw := []byte("{}")
	if len(doc) > 0 {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode shared state: %w", err)
		}
		raw = encoded
	}

	var err error
	if value != "" && gjson.Valid(value) {
		raw, err = sjson.SetRawBytes(raw, path, []byte(value))
	} else {
		raw, err = sjson.SetBytes(raw, path, value)
	}
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode shared state: %w", err)
	}
	return out, nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func appendAssistant(env CommandEnv, text string) {
	if env.AppendAssistant != nil {
		env.AppendAssistant(text)
	}
}

func appendError(env CommandEnv, errText string) {
	if env.AppendError != nil {
		env.AppendError(errText)
	}
}
