package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"brewchat/internal/agent/session"
	"brewchat/internal/agui"
)

// ErrStoreRequired indicates a recorder without a store.
var ErrStoreRequired = errors.New("transcript store is required")

// Recorder writes the events of a chat session to the transcript of the thread
// they belong to. The thread is learned from RUN_STARTED; entries seen before
// that are held and written once the thread is known. Each run's user message
// is written ahead of its RUN_STARTED event.
type Recorder struct {
	store *Store

	mu          sync.Mutex
	threadID    string
	nextEntryID int
	parentID    string
	pending     []Entry
	lastUserID  string
}

// NewRecorder returns a recorder that starts unbound.
func NewRecorder(store *Store) (*Recorder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	return &Recorder{store: store}, nil
}

// ThreadID returns the thread the recorder currently writes to.
func (r *Recorder) ThreadID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadID
}

// Resume binds the recorder to an existing thread, for example after a
// conversation is loaded from the thread service.
func (r *Recorder) Resume(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindLocked(ctx, threadID)
}

// Reset unbinds the recorder so the next RUN_STARTED opens a new transcript.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadID = ""
	r.nextEntryID = 0
	r.parentID = ""
	r.pending = nil
	r.lastUserID = ""
}

// AppendMeta writes a metadata entry, such as the agent endpoint in use.
func (r *Recorder) AppendMeta(ctx context.Context, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(ctx, Entry{Type: EntryMeta, Data: raw})
}

// Record writes one event. state is the session state after the event and is
// used to pick up the user message that started the run.
func (r *Recorder) Record(ctx context.Context, ev agui.Event, state session.State) error {
	raw, err := agui.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode transcript event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if started, ok := ev.(*agui.RunStarted); ok {
		if id := strings.TrimSpace(started.ThreadID); id != "" && id != r.threadID {
			if err := r.bindLocked(ctx, id); err != nil {
				return err
			}
		}
		if user, ok := lastUserMessage(state.Messages); ok && user.ID != r.lastUserID {
			r.lastUserID = user.ID
			if err := r.appendLocked(ctx, Entry{Type: EntryUser, Message: &user}); err != nil {
				return err
			}
		}
	}
	return r.appendLocked(ctx, Entry{Type: EntryEvent, Event: raw})
}

func (r *Recorder) bindLocked(ctx context.Context, threadID string) error {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return ErrThreadIDRequired
	}
	entries, err := r.store.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrTranscriptNotFound) {
		return err
	}

	r.threadID = id
	r.nextEntryID = len(entries) + 1
	r.parentID = ""
	r.lastUserID = ""
	if len(entries) > 0 {
		r.parentID = entries[len(entries)-1].ID
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Type == EntryUser && entries[i].Message != nil {
				r.lastUserID = entries[i].Message.ID
				break
			}
		}
	}

	pending := r.pending
	r.pending = nil
	for _, entry := range pending {
		if err := r.appendLocked(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) appendLocked(ctx context.Context, entry Entry) error {
	if entry.TS <= 0 {
		entry.TS = time.Now().UnixMilli()
	}
	if r.threadID == "" {
		r.pending = append(r.pending, entry)
		return nil
	}

	entry.ID = fmt.Sprintf("%06d", r.nextEntryID)
	entry.ParentID = r.parentID
	if err := r.store.Append(ctx, r.threadID, entry); err != nil {
		return err
	}

	r.parentID = entry.ID
	r.nextEntryID++
	return nil
}

func lastUserMessage(messages []agui.Message) (agui.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agui.RoleUser {
			return messages[i].Clone(), true
		}
	}
	return agui.Message{}, false
}
