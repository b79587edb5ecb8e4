package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newFileStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestFileStoreSessionCRUD(t *testing.T) {
	store := newFileStore(t, t.TempDir())
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1", Tags: []string{"a"}})
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.ID != sess.ID || got.AgentID != sess.AgentID {
		t.Errorf("got %+v, want %+v", got, sess)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newFileStore(t, dir)
	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)
	run, _ := NewRun("sess-1", RunOptions{ID: "run-1"})
	_ = store.SaveRun(ctx, run)
	for i := 0; i < 3; i++ {
		ev, _ := NewEvent("sess-1", EventMessageSent, EventOptions{ID: fmt.Sprintf("ev-%d", i)})
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	_ = store.Close()

	// A fresh store over the same directory sees everything and resumes
	// sequence assignment and duplicate detection where the old one left off.
	reopened := newFileStore(t, dir)
	defer func() { _ = reopened.Close() }()

	if _, err := reopened.GetSession(ctx, "sess-1"); err != nil {
		t.Fatalf("GetSession() after reopen error = %v", err)
	}
	if _, err := reopened.GetRun(ctx, "run-1"); err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	events, err := reopened.GetEvents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetEvents() after reopen error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}

	dup, _ := NewEvent("sess-1", EventError, EventOptions{ID: "ev-0"})
	if err := reopened.AppendEvent(ctx, dup); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent after reopen, got %v", err)
	}

	next, _ := NewEvent("sess-1", EventMessageSent, EventOptions{ID: "ev-3"})
	if err := reopened.AppendEvent(ctx, next); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	events, _ = reopened.GetEvents(ctx, "sess-1")
	if events[len(events)-1].Sequence != 4 {
		t.Errorf("sequence after reopen = %d, want 4", events[len(events)-1].Sequence)
	}
}

func TestFileStoreDeleteSessionCascades(t *testing.T) {
	store := newFileStore(t, t.TempDir())
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)
	run, _ := NewRun("sess-1", RunOptions{ID: "run-1"})
	_ = store.SaveRun(ctx, run)
	ev, _ := NewEvent("sess-1", EventRunStarted, EventOptions{ID: "ev-1"})
	_ = store.AppendEvent(ctx, ev)

	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session survived delete: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run survived cascade: %v", err)
	}
	events, _ := store.GetEvents(ctx, "sess-1")
	if len(events) != 0 {
		t.Errorf("events survived cascade: %v", events)
	}

	if err := store.DeleteSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFileStoreActiveRun(t *testing.T) {
	store := newFileStore(t, t.TempDir())
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)

	run, _ := NewRun("sess-1", RunOptions{ID: "run-1"})
	_ = store.SaveRun(ctx, run)
	done, _ := run.WithStatus(RunCompleted)
	_ = store.SaveRun(ctx, done)

	active, err := store.GetActiveRun(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActiveRun() error = %v", err)
	}
	if active != nil {
		t.Errorf("completed run reported active: %+v", active)
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store := newFileStore(t, t.TempDir())
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	bad := []string{"../escape", "a/b", `a\b`, ""}
	for _, id := range bad {
		sess := &Session{ID: id, AgentID: "test-agent", Status: SessionPending}
		if err := store.SaveSession(ctx, sess); err == nil {
			t.Errorf("SaveSession(%q) accepted unsafe id", id)
		}
	}
}

func TestFileStoreClosed(t *testing.T) {
	store := newFileStore(t, t.TempDir())
	_ = store.Close()
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	if err := store.SaveSession(ctx, sess); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("SaveSession after close = %v, want ErrStoreClosed", err)
	}
	if _, err := store.ListSessions(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ListSessions after close = %v, want ErrStoreClosed", err)
	}
}
