package session

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
)

// defaultShardCount is the number of session shards. Sessions hash onto
// shards by id, so operations on unrelated sessions contend only when they
// happen to share a shard.
const defaultShardCount = 32

// MemoryStore is the volatile reference Store implementation. A session's
// whole subtree (record, runs, events, sequence counter) lives on one shard
// guarded by one RWMutex, which makes every single operation atomic and every
// cascade all-or-nothing from the perspective of concurrent readers. Entities
// are cloned on the way in and out, so callers can never mutate canonical
// state through a held reference.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	shards []*storeShard

	// runIdx routes run ids to their owning session so GetRun can find the
	// right shard. It is a routing hint only; the shard remains authoritative
	// for existence, so a raced delete still reads as ErrRunNotFound.
	runIdx struct {
		sync.RWMutex
		m map[string]string
	}
}

type storeShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	runs     map[string]map[string]*Run // session id -> run id -> run
	events   map[string][]*Event        // session id -> log in arrival order
	eventIDs map[string]map[string]struct{}
	seq      map[string]int64 // highest sequence number seen per session
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{shards: make([]*storeShard, defaultShardCount)}
	for i := range s.shards {
		s.shards[i] = &storeShard{
			sessions: make(map[string]*Session),
			runs:     make(map[string]map[string]*Run),
			events:   make(map[string][]*Event),
			eventIDs: make(map[string]map[string]struct{}),
			seq:      make(map[string]int64),
		}
	}
	s.runIdx.m = make(map[string]string)
	return s
}

func (s *MemoryStore) shardIndex(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(s.shards)))
}

func (s *MemoryStore) shardFor(sessionID string) *storeShard {
	return s.shards[s.shardIndex(sessionID)]
}

func (s *MemoryStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveSession inserts or replaces the session by id.
func (s *MemoryStore) SaveSession(ctx context.Context, sess *Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	shard := s.shardFor(sess.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.sessions[sess.ID] = sess.Clone()
	return nil
}

// GetSession retrieves a session clone by id.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// ListSessions returns a consistent snapshot of every session. All shard
// read locks are held simultaneously while the snapshot is taken, so a
// concurrent save or delete is either fully visible or not at all.
func (s *MemoryStore) ListSessions(ctx context.Context) ([]*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	for _, shard := range s.shards {
		shard.mu.RLock()
	}
	var out []*Session
	for _, shard := range s.shards {
		for _, sess := range shard.sessions {
			out = append(out, sess.Clone())
		}
	}
	for _, shard := range s.shards {
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes the session and its runs and events in one critical
// section. A second delete returns ErrSessionNotFound and changes nothing.
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(shard.sessions, id)
	if runs, ok := shard.runs[id]; ok {
		s.runIdx.Lock()
		for runID := range runs {
			delete(s.runIdx.m, runID)
		}
		s.runIdx.Unlock()
		delete(shard.runs, id)
	}
	delete(shard.events, id)
	delete(shard.eventIDs, id)
	delete(shard.seq, id)
	return nil
}

// SaveRun inserts or replaces the run by id. The store is deliberately
// permissive about whether the parent session exists; the manager validates
// referential integrity before runs get here.
func (s *MemoryStore) SaveRun(ctx context.Context, r *Run) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	// A run id resaved under a different session must leave only one
	// canonical copy. The routing entry read before locking is only a plan;
	// it is re-checked under the shard and index locks, and a raced move
	// restarts the attempt. Shard locks are taken in index order, and the
	// routing lock is always innermost.
	for {
		s.runIdx.RLock()
		prevSession, routed := s.runIdx.m[r.ID]
		s.runIdx.RUnlock()
		moved := routed && prevSession != r.SessionID

		shard := s.shardFor(r.SessionID)
		var prev *storeShard
		if moved {
			prev = s.shardFor(prevSession)
			lockPair(s.shardIndex(prevSession), prev, s.shardIndex(r.SessionID), shard)
		} else {
			shard.mu.Lock()
		}

		s.runIdx.Lock()
		cur, routedNow := s.runIdx.m[r.ID]
		if routedNow != routed || (routed && cur != prevSession) {
			s.runIdx.Unlock()
			if moved {
				unlockPair(prev, shard)
			} else {
				shard.mu.Unlock()
			}
			continue
		}

		if moved {
			if bucket, ok := prev.runs[prevSession]; ok {
				delete(bucket, r.ID)
			}
		}
		bucket, ok := shard.runs[r.SessionID]
		if !ok {
			bucket = make(map[string]*Run)
			shard.runs[r.SessionID] = bucket
		}
		bucket[r.ID] = r.Clone()
		s.runIdx.m[r.ID] = r.SessionID
		s.runIdx.Unlock()

		if moved {
			unlockPair(prev, shard)
		} else {
			shard.mu.Unlock()
		}
		return nil
	}
}

// GetRun retrieves a run clone by id.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.runIdx.RLock()
	sessionID, ok := s.runIdx.m[id]
	s.runIdx.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	shard := s.shardFor(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	r, ok := shard.runs[sessionID][id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.Clone(), nil
}

// ListRuns returns clones of the session's runs ordered by creation time
// then id.
func (s *MemoryStore) ListRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	shard := s.shardFor(sessionID)
	shard.mu.RLock()
	out := make([]*Run, 0, len(shard.runs[sessionID]))
	for _, r := range shard.runs[sessionID] {
		out = append(out, r.Clone())
	}
	shard.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetActiveRun returns the session's pending or running run, or (nil, nil)
// when none exists. Most recent UpdatedAt wins; ties break toward the
// greatest id.
func (s *MemoryStore) GetActiveRun(ctx context.Context, sessionID string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	shard := s.shardFor(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	var best *Run
	for _, r := range shard.runs[sessionID] {
		if !r.Status.Active() {
			continue
		}
		if best == nil || moreRecent(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

// moreRecent implements the deterministic active-run tie-break.
func moreRecent(a, b *Run) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// AppendEvent adds the event to the session's log. The append is a logical
// insert: the same id twice yields ErrDuplicateEvent and leaves the log
// untouched.
func (s *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	shard := s.shardFor(e.SessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	ids, ok := shard.eventIDs[e.SessionID]
	if !ok {
		ids = make(map[string]struct{})
		shard.eventIDs[e.SessionID] = ids
	}
	if _, dup := ids[e.ID]; dup {
		return ErrDuplicateEvent
	}
	stored := e.Clone()
	if stored.Sequence == 0 {
		stored.Sequence = shard.seq[e.SessionID] + 1
	}
	if stored.Sequence > shard.seq[e.SessionID] {
		shard.seq[e.SessionID] = stored.Sequence
	}
	shard.events[e.SessionID] = append(shard.events[e.SessionID], stored)
	ids[e.ID] = struct{}{}
	return nil
}

// GetEvents returns clones of the session's events ordered by sequence
// number, arrival order breaking ties.
func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	shard := s.shardFor(sessionID)
	shard.mu.RLock()
	log := shard.events[sessionID]
	out := make([]*Event, 0, len(log))
	for _, e := range log {
		out = append(out, e.Clone())
	}
	shard.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// Close marks the store closed. Subsequent operations return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lockPair acquires two shard write locks in index order.
func lockPair(ia int, a *storeShard, ib int, b *storeShard) {
	if a == b {
		a.mu.Lock()
		return
	}
	if ia < ib {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *storeShard) {
	a.mu.Unlock()
	if a != b {
		b.mu.Unlock()
	}
}
