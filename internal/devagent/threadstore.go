package devagent

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"brewchat/internal/agui"
	"brewchat/internal/threads"
)

const maxTitleRunes = 60

// MemoryThreads keeps conversation threads in process memory.
type MemoryThreads struct {
	mu      sync.RWMutex
	threads map[string]storedThread
	now     func() time.Time
}

type storedThread struct {
	title     string
	messages  []agui.Message
	updatedAt time.Time
}

// NewMemoryThreads returns an empty store.
func NewMemoryThreads() *MemoryThreads {
	return &MemoryThreads{
		threads: map[string]storedThread{},
		now:     time.Now,
	}
}

// Save replaces the stored conversation of a thread.
func (s *MemoryThreads) Save(threadID string, messages []agui.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.threads[threadID]
	title := existing.title
	if !ok || title == "" {
		title = titleFor(messages)
	}
	s.threads[threadID] = storedThread{
		title:     title,
		messages:  agui.CloneMessages(messages),
		updatedAt: s.now().UTC(),
	}
}

// List returns thread summaries, most recently updated first.
func (s *MemoryThreads) List() []threads.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id string
		storedThread
	}
	entries := make([]entry, 0, len(s.threads))
	for id, thread := range s.threads {
		entries = append(entries, entry{id: id, storedThread: thread})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := b.updatedAt.Compare(a.updatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	out := make([]threads.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, threads.Summary{
			ID:           e.id,
			Title:        e.title,
			MessageCount: len(e.messages),
			UpdatedAt:    e.updatedAt.Format(time.RFC3339),
		})
	}
	return out
}

// Get returns a copy of one thread.
func (s *MemoryThreads) Get(threadID string) (threads.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return threads.Thread{}, false
	}
	return threads.Thread{
		ID:       threadID,
		Title:    thread.title,
		Messages: agui.CloneMessages(thread.messages),
	}, true
}

// Delete removes a thread and reports whether it existed.
func (s *MemoryThreads) Delete(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return false
	}
	delete(s.threads, threadID)
	return true
}

func titleFor(messages []agui.Message) string {
	for _, msg := range messages {
		if msg.Role != agui.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(msg.Content), " ")
		if runes := []rune(title); len(runes) > maxTitleRunes {
			title = string(runes[:maxTitleRunes-3]) + "..."
		}
		return title
	}
	return "Untitled thread"
}
