// Package transcript keeps an append-only JSONL record of every event a chat
// thread received, so a conversation can be replayed through the reducer.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"brewchat/internal/agui"
)

const (
	transcriptFileExt = ".jsonl"
	maxJSONLLineSize  = 4 * 1024 * 1024
)

// Entry types.
const (
	EntryMeta  = "meta"
	EntryUser  = "user"
	EntryEvent = "event"
)

var (
	ErrDirRequired        = errors.New("transcript directory is required")
	ErrThreadIDRequired   = errors.New("transcript thread id is required")
	ErrInvalidThreadID    = errors.New("invalid transcript thread id")
	ErrEntryIDRequired    = errors.New("entry id is required")
	ErrEntryTypeRequired  = errors.New("entry type is required")
	ErrTranscriptNotFound = errors.New("transcript not found")
)

// Entry is one line of a transcript file.
type Entry struct {
	ID       string          `json:"id"`
	ParentID string          `json:"parent_id,omitempty"`
	Type     string          `json:"type"`
	Event    json.RawMessage `json:"event,omitempty"`
	Message  *agui.Message   `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	TS       int64           `json:"ts"`
}

// Info describes one transcript file on disk.
type Info struct {
	ThreadID  string
	Path      string
	UpdatedAt time.Time
	SizeBytes int64
}

// Store persists transcripts as one JSONL file per thread.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore constructs a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, ErrDirRequired
	}
	return &Store{dir: root}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// Append appends one entry to a thread's transcript.
func (s *Store) Append(ctx context.Context, threadID string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.transcriptPath(threadID)
	if err != nil {
		return err
	}

	entry.ID = strings.TrimSpace(entry.ID)
	entry.Type = strings.TrimSpace(entry.Type)
	if entry.ID == "" {
		return ErrEntryIDRequired
	}
	if entry.Type == "" {
		return ErrEntryTypeRequired
	}
	if entry.TS <= 0 {
		entry.TS = time.Now().UnixMilli()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir %s: %w", s.dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(raw); err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// Load reads every entry of a thread's transcript.
func (s *Store) Load(ctx context.Context, threadID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.transcriptPath(threadID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTranscriptNotFound, strings.TrimSpace(threadID))
		}
		return nil, fmt.Errorf("open transcript file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineSize)

	entries := make([]Entry, 0, 64)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode transcript line %d: %w", lineNum, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("decode transcript line too large (> %d bytes): %w", maxJSONLLineSize, err)
		}
		return nil, fmt.Errorf("scan transcript file: %w", err)
	}

	return entries, nil
}

// List returns the stored transcripts, newest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript dir %s: %w", s.dir, err)
	}

	out := make([]Info, 0, len(items))
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != transcriptFileExt {
			continue
		}

		info, err := item.Info()
		if err != nil {
			return nil, fmt.Errorf("read transcript file info %s: %w", item.Name(), err)
		}

		out = append(out, Info{
			ThreadID:  strings.TrimSuffix(item.Name(), transcriptFileExt),
			Path:      filepath.Join(s.dir, item.Name()),
			UpdatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ThreadID > out[j].ThreadID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) transcriptPath(threadID string) (string, error) {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return "", ErrThreadIDRequired
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidThreadID, id)
	}
	return filepath.Join(s.dir, id+transcriptFileExt), nil
}
