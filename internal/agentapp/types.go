package agentapp

import (
	"context"

	"github.com/tidwall/gjson"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
	"brewchat/internal/threads"
)

// Conversation is the chat surface commands operate on. *chat.Session implements it.
type Conversation interface {
	State() session.State
	ThreadID() string
	Running() bool
	Query(path string) gjson.Result
	SharedState() map[string]any
	SetState(values map[string]any)
	LoadMessages(messages []agui.Message, threadID string)
	Stop()
	Clear()
}

// ThreadStore is the thread service contract. *threads.Client implements it.
type ThreadStore interface {
	List(ctx context.Context) ([]threads.Summary, error)
	Get(ctx context.Context, id string) (threads.Thread, error)
	Delete(ctx context.Context, id string) error
}

// CommandEnv provides adapter hooks so command handling stays independent of the
// terminal front end.
type CommandEnv struct {
	Chat Conversation
	// Threads is optional; thread commands report an error without it.
	Threads ThreadStore

	// OnNewThread runs after the conversation is cleared.
	OnNewThread func()
	// OnResume runs after a stored thread is loaded.
	OnResume func(threadID string)

	AppendAssistant func(text string)
	AppendError     func(errText string)
}
