package session

import "context"

// Store is the single source of truth for sessions, runs and events.
// Implementations must be safe for unbounded concurrent use: every operation
// is atomic, no append is ever lost, per-entity reads are linearizable, and
// operations on unrelated sessions never block one another.
//
// The store enforces storage-level identity only (existence, uniqueness,
// referential cascade). Domain validation happens in entity constructors and
// the manager before anything reaches a Store.
type Store interface {
	// SaveSession inserts or replaces the session by id.
	SaveSession(ctx context.Context, s *Session) error

	// GetSession retrieves a session by id.
	// Returns ErrSessionNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns a snapshot of all sessions at a consistent point
	// in time, ordered by creation time then id.
	ListSessions(ctx context.Context) ([]*Session, error)

	// DeleteSession removes the session and cascades to its runs and events.
	// The cascade is atomic: no reader observes runs gone while the session
	// remains, or the reverse. Deleting an absent session returns
	// ErrSessionNotFound without side effects, so the call is idempotent.
	DeleteSession(ctx context.Context, id string) error

	// SaveRun inserts or replaces the run by id.
	SaveRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by id.
	// Returns ErrRunNotFound if the run doesn't exist.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the runs belonging to a session, ordered by creation
	// time then id. An unknown session yields an empty slice.
	ListRuns(ctx context.Context, sessionID string) ([]*Run, error)

	// GetActiveRun returns the session's run with status pending or running,
	// or (nil, nil) when none exists. When writers raced and several runs
	// look active, the one with the most recent UpdatedAt wins; remaining
	// ties break toward the lexicographically greatest id. The tie-break is
	// deterministic so concurrent readers of the same store state agree.
	GetActiveRun(ctx context.Context, sessionID string) (*Run, error)

	// AppendEvent adds the event to its session's ordered log. A zero
	// Sequence is replaced with the next per-session value. Re-appending an
	// existing event id returns ErrDuplicateEvent; the stored event is never
	// overwritten.
	AppendEvent(ctx context.Context, e *Event) error

	// GetEvents returns the session's full event log ordered by sequence
	// number (arrival order breaking ties). Every append that completed
	// before this call began is visible.
	GetEvents(ctx context.Context, sessionID string) ([]*Event, error)

	// Close releases any resources held by the store.
	Close() error
}
