package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "runlog:"

// appendEventScript performs the duplicate check, sequence assignment and
// append as one atomic step on the server. Returns -1 for a duplicate id,
// otherwise the sequence number the event was stored with. A caller-supplied
// sequence bumps the per-session counter so later store-assigned values stay
// ahead of it. The payload is stored byte-for-byte; the assigned sequence
// rides in a parallel list so opaque event data is never re-encoded (cjson
// would reformat large integers).
var appendEventScript = redis.NewScript(`
local ids, log, seqs, ctr = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
if redis.call('SISMEMBER', ids, ARGV[1]) == 1 then
  return -1
end
local seq = tonumber(ARGV[2])
if seq == 0 then
  seq = redis.call('INCR', ctr)
else
  local cur = tonumber(redis.call('GET', ctr) or '0')
  if seq > cur then
    redis.call('SET', ctr, seq)
  end
end
redis.call('SADD', ids, ARGV[1])
redis.call('RPUSH', log, ARGV[3])
redis.call('RPUSH', seqs, seq)
return seq
`)

// RedisStore implements Store on Redis. It provides distributed session
// storage suitable for multi-node deployments. Cross-key mutations run
// through MULTI/EXEC pipelines and the event append runs as a server-side
// script, so concurrent clients see each mutation whole.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore creates a Redis-backed store and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.SessionTTL), nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "meta:" + sessionID
}

func (s *RedisStore) sessionsKey() string {
	return s.prefix + "sessions"
}

func (s *RedisStore) runKey(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *RedisStore) sessionRunsKey(sessionID string) string {
	return s.prefix + "session-runs:" + sessionID
}

func (s *RedisStore) eventsKey(sessionID string) string {
	return s.prefix + "events:" + sessionID
}

func (s *RedisStore) eventIDsKey(sessionID string) string {
	return s.prefix + "event-ids:" + sessionID
}

func (s *RedisStore) eventSeqsKey(sessionID string) string {
	return s.prefix + "event-seqs:" + sessionID
}

func (s *RedisStore) seqKey(sessionID string) string {
	return s.prefix + "seq:" + sessionID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveSession inserts or replaces the session by id.
func (s *RedisStore) SaveSession(ctx context.Context, sess *Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, s.sessionsKey(), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions ordered by creation time then id. A
// session whose metadata expired between the index read and the bulk get is
// skipped.
func (s *RedisStore) ListSessions(ctx context.Context) ([]*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := make([]*Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes the session and everything it owns in one MULTI/EXEC
// block.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	exists, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	runIDs, err := s.client.SMembers(ctx, s.sessionRunsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("list session runs: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	for _, runID := range runIDs {
		pipe.Del(ctx, s.runKey(runID))
	}
	pipe.Del(ctx, s.sessionRunsKey(id))
	pipe.Del(ctx, s.eventsKey(id))
	pipe.Del(ctx, s.eventSeqsKey(id))
	pipe.Del(ctx, s.eventIDsKey(id))
	pipe.Del(ctx, s.seqKey(id))
	pipe.SRem(ctx, s.sessionsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces the run by id. Resaving a run under a different
// session moves it out of the previous session's run set.
func (s *RedisStore) SaveRun(ctx context.Context, r *Run) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	prev, err := s.GetRun(ctx, r.ID)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(r.ID), data, s.ttl)
	pipe.SAdd(ctx, s.sessionRunsKey(r.SessionID), r.ID)
	if prev != nil && prev.SessionID != r.SessionID {
		pipe.SRem(ctx, s.sessionRunsKey(prev.SessionID), r.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *RedisStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the session's runs ordered by creation time then id.
func (s *RedisStore) ListRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	runs, err := s.loadRuns(ctx, sessionID)
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
func (s *RedisStore) GetActiveRun(ctx context.Context, sessionID string) (*Run, error) {
	runs, err := s.loadRuns(ctx, sessionID)
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

func (s *RedisStore) loadRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.sessionRunsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []*Run{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	out := make([]*Run, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r Run
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// AppendEvent adds the event to the session's log via the server-side script.
func (s *RedisStore) AppendEvent(ctx context.Context, e *Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	keys := []string{
		s.eventIDsKey(e.SessionID),
		s.eventsKey(e.SessionID),
		s.eventSeqsKey(e.SessionID),
		s.seqKey(e.SessionID),
	}
	seq, err := appendEventScript.Run(ctx, s.client, keys, e.ID, e.Sequence, string(data)).Int64()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if seq < 0 {
		return ErrDuplicateEvent
	}
	if s.ttl > 0 {
		// TTL refresh failure is non-fatal; the event is already stored.
		_ = s.client.Expire(ctx, s.eventsKey(e.SessionID), s.ttl).Err()
		_ = s.client.Expire(ctx, s.eventSeqsKey(e.SessionID), s.ttl).Err()
	}
	return nil
}

// GetEvents returns the session's event log ordered by sequence number. The
// stored payloads carry the sequence the caller supplied at append time; the
// value the store actually assigned lives in the parallel list and wins.
func (s *RedisStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	seqs, err := s.client.LRange(ctx, s.eventSeqsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load event sequences: %w", err)
	}
	out := make([]*Event, 0, len(data))
	for i, d := range data {
		var e Event
		if err := json.Unmarshal([]byte(d), &e); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		if i < len(seqs) {
			n, err := strconv.ParseInt(seqs[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse event sequence: %w", err)
			}
			e.Sequence = n
		}
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
