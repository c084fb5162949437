package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"brewchat/internal/agui"
)

func TestStoreAppendAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "transcripts"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	err = store.Append(context.Background(), "t1", Entry{
		ID:   "000001",
		Type: EntryMeta,
		Data: mustRawJSON(t, `{"endpoint":"http://localhost:8787/agent/run"}`),
		TS:   1700000001,
	})
	if err != nil {
		t.Fatalf("Append(meta) error = %v", err)
	}

	err = store.Append(context.Background(), "t1", Entry{
		ID:       "000002",
		ParentID: "000001",
		Type:     EntryUser,
		Message:  &agui.Message{ID: "u1", Role: agui.RoleUser, Content: "scale to 23L"},
		TS:       1700000002,
	})
	if err != nil {
		t.Fatalf("Append(user) error = %v", err)
	}

	entries, err := store.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Load() entries = %d, want 2", len(entries))
	}
	if entries[0].ID != "000001" || entries[0].Type != EntryMeta {
		t.Fatalf("first entry = %#v, want meta id=000001", entries[0])
	}
	if entries[1].ParentID != "000001" || entries[1].Message == nil || entries[1].Message.Content != "scale to 23L" {
		t.Fatalf("second entry = %#v, want user message with parent", entries[1])
	}
}

func TestStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "transcripts"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	_, err = store.Load(context.Background(), "missing")
	if !errors.Is(err, ErrTranscriptNotFound) {
		t.Fatalf("Load() error = %v, want ErrTranscriptNotFound", err)
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := NewStore("  "); !errors.Is(err, ErrDirRequired) {
		t.Fatalf("NewStore() error = %v, want ErrDirRequired", err)
	}

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Append(ctx, "../escape", Entry{ID: "1", Type: EntryMeta}); !errors.Is(err, ErrInvalidThreadID) {
		t.Fatalf("Append(../escape) error = %v, want ErrInvalidThreadID", err)
	}
	if err := store.Append(ctx, " ", Entry{ID: "1", Type: EntryMeta}); !errors.Is(err, ErrThreadIDRequired) {
		t.Fatalf("Append(blank) error = %v, want ErrThreadIDRequired", err)
	}
	if err := store.Append(ctx, "t1", Entry{Type: EntryMeta}); !errors.Is(err, ErrEntryIDRequired) {
		t.Fatalf("Append(no id) error = %v, want ErrEntryIDRequired", err)
	}
	if err := store.Append(ctx, "t1", Entry{ID: "1"}); !errors.Is(err, ErrEntryTypeRequired) {
		t.Fatalf("Append(no type) error = %v, want ErrEntryTypeRequired", err)
	}
}

func TestStoreListReturnsTranscriptFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "transcripts")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := store.Append(context.Background(), "t1", Entry{ID: "1", Type: EntryMeta}); err != nil {
		t.Fatalf("Append(t1) error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := store.Append(context.Background(), "t2", Entry{ID: "1", Type: EntryMeta}); err != nil {
		t.Fatalf("Append(t2) error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	got, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() count = %d, want 2", len(got))
	}
	if got[0].ThreadID != "t2" || got[1].ThreadID != "t1" {
		t.Fatalf("List() order ids = [%s %s], want [t2 t1]", got[0].ThreadID, got[1].ThreadID)
	}
	if _, err := os.Stat(got[0].Path); err != nil {
		t.Fatalf("transcript file path not found: %v", err)
	}
}

func TestStoreListMissingDir(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	got, err := store.List(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("List() = %v, %v; want empty", got, err)
	}
}

func mustRawJSON(t *testing.T, raw string) json.RawMessage {
	t.Helper()
	value := json.RawMessage(raw)
	if !json.Valid(value) {
		t.Fatalf("invalid json fixture: %s", raw)
	}
	return value
}
