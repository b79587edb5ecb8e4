package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStoreFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestRedisStoreSessionCRUD(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{
		ID:       "sess-1",
		Metadata: map[string]any{"key": "value"},
		Tags:     []string{"a"},
	})
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ID != sess.ID || got.AgentID != sess.AgentID || got.Status != sess.Status {
		t.Errorf("got %+v, want %+v", got, sess)
	}
	if got.Metadata["key"] != "value" {
		t.Error("metadata lost in round trip")
	}

	if _, err := store.GetSession(ctx, "nonexistent"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStoreListSessions(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"b", "c", "a"} {
		sess, _ := NewSession("test-agent", SessionOptions{ID: id})
		sess.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.SaveSession(ctx, sess); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("len = %d, want 3", len(sessions))
	}
	if sessions[0].ID != "b" || sessions[1].ID != "c" || sessions[2].ID != "a" {
		t.Errorf("order = %s %s %s, want creation order", sessions[0].ID, sessions[1].ID, sessions[2].ID)
	}
}

func TestRedisStoreRuns(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)

	run, _ := NewRun("sess-1", RunOptions{ID: "run-1"})
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.SessionID != "sess-1" || got.Status != RunPending {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetRun(ctx, "nonexistent"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	runs, err := store.ListRuns(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("ListRuns = %v", runs)
	}
}

func TestRedisStoreGetActiveRun(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)

	active, err := store.GetActiveRun(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if active != nil {
		t.Errorf("GetActiveRun = %+v, want nil", active)
	}

	now := time.Now().UTC()
	runs := []*Run{
		{ID: "run-a", SessionID: "sess-1", Status: RunPending, CreatedAt: now, UpdatedAt: now},
		{ID: "run-b", SessionID: "sess-1", Status: RunRunning, CreatedAt: now, UpdatedAt: now.Add(time.Second)},
		{ID: "run-c", SessionID: "sess-1", Status: RunCompleted, CreatedAt: now, UpdatedAt: now.Add(time.Hour)},
	}
	for _, r := range runs {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	active, err = store.GetActiveRun(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if active == nil || active.ID != "run-b" {
		t.Errorf("GetActiveRun = %+v, want run-b", active)
	}
}

// The append script must store the marshaled event byte-for-byte; only the
// parallel sequence list changes. Re-encoding payloads server-side would
// reformat large integers in Data.
func TestRedisStoreAppendEventStoresPayloadVerbatim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)

	ev, err := NewEvent("sess-1", EventMessageSent, EventOptions{
		ID:   "ev-1",
		Data: map[string]any{"trace_id": int64(9007199254740993)},
	})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	want, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	stored, err := client.LRange(ctx, "test:events:sess-1", 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d payloads, want 1", len(stored))
	}
	if stored[0] != string(want) {
		t.Errorf("stored payload rewritten:\n got %s\nwant %s", stored[0], want)
	}

	events, err := store.GetEvents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 1 {
		t.Errorf("GetEvents() = %+v, want one event with sequence 1", events)
	}
}

func TestRedisStoreAppendEvent(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)

	for i := 0; i < 3; i++ {
		ev, _ := NewEvent("sess-1", EventMessageSent, EventOptions{
			ID:   fmt.Sprintf("ev-%d", i),
			Data: map[string]any{"n": i},
		})
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := store.GetEvents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Sequence != int64(i+1) {
			t.Errorf("events[%d].Sequence = %d, want %d", i, ev.Sequence, i+1)
		}
	}

	// Duplicate id rejected.
	dup, _ := NewEvent("sess-1", EventError, EventOptions{ID: "ev-0"})
	if err := store.AppendEvent(ctx, dup); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
	events, _ = store.GetEvents(ctx, "sess-1")
	if len(events) != 3 {
		t.Errorf("duplicate append changed the log: len = %d", len(events))
	}

	// Caller-supplied sequence bumps the counter.
	explicit, _ := NewEvent("sess-1", EventMessageSent, EventOptions{ID: "ev-explicit", Sequence: 50})
	if err := store.AppendEvent(ctx, explicit); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	next, _ := NewEvent("sess-1", EventMessageSent, EventOptions{ID: "ev-next"})
	if err := store.AppendEvent(ctx, next); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	events, _ = store.GetEvents(ctx, "sess-1")
	last := events[len(events)-1]
	if last.ID != "ev-next" || last.Sequence != 51 {
		t.Errorf("last = %+v, want ev-next with sequence 51", last)
	}
}

func TestRedisStoreDeleteSessionCascades(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	_ = store.SaveSession(ctx, sess)
	run, _ := NewRun("sess-1", RunOptions{ID: "run-1"})
	_ = store.SaveRun(ctx, run)
	ev, _ := NewEvent("sess-1", EventRunStarted, EventOptions{ID: "ev-1"})
	_ = store.AppendEvent(ctx, ev)

	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := store.GetSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session survived delete: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run survived cascade: %v", err)
	}
	events, err := store.GetEvents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events survived cascade: %v", events)
	}
	sessions, _ := store.ListSessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("deleted session still listed: %v", sessions)
	}

	if err := store.DeleteSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisStoreClosed(t *testing.T) {
	store := setupRedisStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ctx := context.Background()

	sess, _ := NewSession("test-agent", SessionOptions{ID: "sess-1"})
	if err := store.SaveSession(ctx, sess); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("SaveSession after close = %v, want ErrStoreClosed", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Ping after close = %v, want ErrStoreClosed", err)
	}
}
