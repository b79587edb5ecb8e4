package session

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
)

// ErrInvalidPathComponent is returned when an id contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path
// component. It rejects empty strings, path separators, and traversal
// sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileStore implements Store on local disk. Sessions and runs live in JSON
// index files and each session's event log is an append-only JSONL file.
// Storage layout:
//
//	~/.runlog/sessions/
//	  ├── sessions.json              # session index
//	  ├── runs.json                  # run index
//	  └── events/
//	      └── <session-id>.jsonl     # per-session event log
//
// A single mutex serializes every operation, which trades the in-memory
// store's shard parallelism for crash-durable state. Duplicate detection and
// sequence assignment use in-memory caches rebuilt from the event logs at
// open time.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool

	seq      map[string]int64
	eventIDs map[string]map[string]struct{}
}

// NewFileStore creates a file-backed store rooted at baseDir. If baseDir is
// empty, uses ~/.runlog/sessions.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".runlog", "sessions")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "events"), 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	f := &FileStore{
		baseDir:  baseDir,
		seq:      make(map[string]int64),
		eventIDs: make(map[string]map[string]struct{}),
	}
	if err := f.rebuildEventState(); err != nil {
		return nil, err
	}
	return f, nil
}

// rebuildEventState scans the event logs to recover per-session sequence
// counters and event id sets.
func (f *FileStore) rebuildEventState() error {
	eventsDir := filepath.Join(f.baseDir, "events")
	entries, err := os.ReadDir(eventsDir)
	if err != nil {
		return fmt.Errorf("read events directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		sessionID := strings.TrimSuffix(name, ".jsonl")
		events, err := f.readEventsFile(sessionID)
		if err != nil {
			return err
		}
		ids := make(map[string]struct{}, len(events))
		var max int64
		for _, e := range events {
			ids[e.ID] = struct{}{}
			if e.Sequence > max {
				max = e.Sequence
			}
		}
		f.eventIDs[sessionID] = ids
		f.seq[sessionID] = max
	}
	return nil
}

func (f *FileStore) sessionsPath() string {
	return filepath.Join(f.baseDir, "sessions.json")
}

func (f *FileStore) runsPath() string {
	return filepath.Join(f.baseDir, "runs.json")
}

func (f *FileStore) eventsPath(sessionID string) string {
	return filepath.Join(f.baseDir, "events", sessionID+".jsonl")
}

// readSessionIndex loads the session index. Caller must hold the lock.
func (f *FileStore) readSessionIndex() (map[string]*Session, error) {
	index := make(map[string]*Session)
	data, err := os.ReadFile(f.sessionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read sessions index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse sessions index: %w", err)
	}
	return index, nil
}

func (f *FileStore) writeSessionIndex(index map[string]*Session) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions index: %w", err)
	}
	if err := os.WriteFile(f.sessionsPath(), data, 0600); err != nil {
		return fmt.Errorf("write sessions index: %w", err)
	}
	return nil
}

// readRunIndex loads the run index keyed by run id. Caller must hold the lock.
func (f *FileStore) readRunIndex() (map[string]*Run, error) {
	index := make(map[string]*Run)
	data, err := os.ReadFile(f.runsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read runs index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse runs index: %w", err)
	}
	return index, nil
}

func (f *FileStore) writeRunIndex(index map[string]*Run) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal runs index: %w", err)
	}
	if err := os.WriteFile(f.runsPath(), data, 0600); err != nil {
		return fmt.Errorf("write runs index: %w", err)
	}
	return nil
}

func (f *FileStore) readEventsFile(sessionID string) ([]*Event, error) {
	file, err := os.Open(f.eventsPath(sessionID)) // #nosec G304 - session id validated before use
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

// SaveSession inserts or replaces the session by id.
func (f *FileStore) SaveSession(ctx context.Context, sess *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	if err := validatePathComponent(sess.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	index, err := f.readSessionIndex()
	if err != nil {
		return err
	}
	index[sess.ID] = sess.Clone()
	return f.writeSessionIndex(index)
}

// GetSession retrieves a session by id.
func (f *FileStore) GetSession(ctx context.Context, id string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	index, err := f.readSessionIndex()
	if err != nil {
		return nil, err
	}
	sess, ok := index[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by creation time then id.
func (f *FileStore) ListSessions(ctx context.Context) ([]*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	index, err := f.readSessionIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(index))
	for _, sess := range index {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes the session, its runs and its event log.
func (f *FileStore) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	sessions, err := f.readSessionIndex()
	if err != nil {
		return err
	}
	if _, ok := sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(sessions, id)
	if err := f.writeSessionIndex(sessions); err != nil {
		return err
	}

	runs, err := f.readRunIndex()
	if err != nil {
		return err
	}
	changed := false
	for runID, r := range runs {
		if r.SessionID == id {
			delete(runs, runID)
			changed = true
		}
	}
	if changed {
		if err := f.writeRunIndex(runs); err != nil {
			return err
		}
	}

	_ = os.Remove(f.eventsPath(id)) // ignore if doesn't exist
	delete(f.eventIDs, id)
	delete(f.seq, id)
	return nil
}

// SaveRun inserts or replaces the run by id.
func (f *FileStore) SaveRun(ctx context.Context, r *Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	index, err := f.readRunIndex()
	if err != nil {
		return err
	}
	index[r.ID] = r.Clone()
	return f.writeRunIndex(index)
}

// GetRun retrieves a run by id.
func (f *FileStore) GetRun(ctx context.Context, id string) (*Run, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	index, err := f.readRunIndex()
	if err != nil {
		return nil, err
	}
	r, ok := index[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// ListRuns returns the session's runs ordered by creation time then id.
func (f *FileStore) ListRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	runs, err := f.sessionRuns(sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// GetActiveRun returns the session's pending or running run, or (nil, nil)
// when none exists, using the same tie-break as the in-memory store.
func (f *FileStore) GetActiveRun(ctx context.Context, sessionID string) (*Run, error) {
	runs, err := f.sessionRuns(sessionID)
	if err != nil {
		return nil, err
	}
	var best *Run
	for _, r := range runs {
		if !r.Status.Active() {
			continue
		}
		if best == nil || moreRecent(r, best) {
			best = r
		}
	}
	return best, nil
}

func (f *FileStore) sessionRuns(sessionID string) ([]*Run, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	index, err := f.readRunIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*Run, 0)
	for _, r := range index {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// AppendEvent adds the event to the session's log file.
func (f *FileStore) AppendEvent(ctx context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	if err := validatePathComponent(e.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	ids, ok := f.eventIDs[e.SessionID]
	if !ok {
		ids = make(map[string]struct{})
		f.eventIDs[e.SessionID] = ids
	}
	if _, dup := ids[e.ID]; dup {
		return ErrDuplicateEvent
	}

	stored := e.Clone()
	if stored.Sequence == 0 {
		stored.Sequence = f.seq[e.SessionID] + 1
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	file, err := os.OpenFile(f.eventsPath(e.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - session id validated above
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	if stored.Sequence > f.seq[e.SessionID] {
		f.seq[e.SessionID] = stored.Sequence
	}
	ids[e.ID] = struct{}{}
	return nil
}

// GetEvents returns the session's event log ordered by sequence number.
func (f *FileStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	events, err := f.readEventsFile(sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Sequence < events[j].Sequence
	})
	return events, nil
}

// Close marks the store closed. Subsequent operations return ErrStoreClosed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
