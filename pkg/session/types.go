package session

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	// SessionPending is the initial state of a newly created session.
	SessionPending SessionStatus = "pending"
	// SessionActive means the session is accepting runs.
	SessionActive SessionStatus = "active"
	// SessionPaused means the session is suspended but resumable.
	SessionPaused SessionStatus = "paused"
	// SessionCompleted is a terminal success state.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed is a terminal failure state.
	SessionFailed SessionStatus = "failed"
	// SessionCancelled is a terminal caller-initiated state.
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether the status belongs to the fixed vocabulary.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionPaused, SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Valid reports whether the status belongs to the fixed vocabulary.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Active reports whether a run in this status counts as the session's active
// run from the perspective of Store.GetActiveRun.
func (s RunStatus) Active() bool {
	return s == RunPending || s == RunRunning
}

// EventType tags an event with its semantic category. The vocabulary is
// closed; unknown tags are rejected at construction time.
type EventType string

const (
	EventMessageReceived      EventType = "message_received"
	EventMessageSent          EventType = "message_sent"
	EventToolCallStarted      EventType = "tool_call_started"
	EventToolCallCompleted    EventType = "tool_call_completed"
	EventRunStarted           EventType = "run_started"
	EventRunCompleted         EventType = "run_completed"
	EventRunFailed            EventType = "run_failed"
	EventSessionCreated       EventType = "session_created"
	EventSessionStatusChanged EventType = "session_status_changed"
	EventError                EventType = "error"
)

// Valid reports whether the event type belongs to the known vocabulary.
func (t EventType) Valid() bool {
	switch t {
	case EventMessageReceived, EventMessageSent, EventToolCallStarted,
		EventToolCallCompleted, EventRunStarted, EventRunCompleted,
		EventRunFailed, EventSessionCreated, EventSessionStatusChanged,
		EventError:
		return true
	}
	return false
}

// TokenUsage accumulates provider token counts for a run. Usage is merged,
// never overwritten.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add returns the element-wise sum of two usage values.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + other.Input, Output: u.Output + other.Output}
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Session is a long-lived conversation container for one agent. Sessions are
// immutable by convention: transitions return a new value and only a Store
// holds the canonical copy.
type Session struct {
	// ID is the globally unique session identifier.
	ID string `json:"id"`
	// AgentID names the agent this session belongs to.
	AgentID string `json:"agentId"`
	// Status is the current lifecycle state.
	Status SessionStatus `json:"status"`
	// ParentSessionID optionally references an enclosing session. The
	// reference is not existence-checked at this layer.
	ParentSessionID string `json:"parentSessionId,omitempty"`
	// Metadata holds caller-defined annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Context holds conversation context shared across runs.
	Context map[string]any `json:"context,omitempty"`
	// Tags is an ordered sequence of labels.
	Tags []string `json:"tags,omitempty"`
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt advances on every mutation and never moves backwards.
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionOptions configures session construction. The zero value is valid.
type SessionOptions struct {
	// ID overrides the generated session id.
	ID string
	// ParentSessionID links to an enclosing session.
	ParentSessionID string
	Metadata        map[string]any
	Context         map[string]any
	Tags            []string
}

// NewSession constructs a validated pending session for the given agent.
func NewSession(agentID string, opts SessionOptions) (*Session, error) {
	if agentID == "" {
		return nil, newValidationError("agent_id", "must not be empty")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return &Session{
		ID:              id,
		AgentID:         agentID,
		Status:          SessionPending,
		ParentSessionID: opts.ParentSessionID,
		Metadata:        copyMap(opts.Metadata),
		Context:         copyMap(opts.Context),
		Tags:            copyStrings(opts.Tags),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// WithStatus returns a copy of the session in the given status with a fresh
// UpdatedAt. Unknown statuses are rejected.
func (s *Session) WithStatus(status SessionStatus) (*Session, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: string(status), Err: ErrInvalidStatus}
	}
	next := s.Clone()
	next.Status = status
	next.UpdatedAt = advance(s.UpdatedAt)
	return next, nil
}

// WithContext returns a copy of the session with the delta merged into its
// context map.
func (s *Session) WithContext(delta map[string]any) *Session {
	next := s.Clone()
	if next.Context == nil {
		next.Context = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		next.Context[k] = v
	}
	next.UpdatedAt = advance(s.UpdatedAt)
	return next
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Metadata = copyMap(s.Metadata)
	clone.Context = copyMap(s.Context)
	clone.Tags = copyStrings(s.Tags)
	return &clone
}

// Run is one execution turn within a session.
type Run struct {
	// ID is the globally unique run identifier.
	ID string `json:"id"`
	// SessionID references the parent session. The manager layer checks the
	// session exists before a run reaches the store.
	SessionID string `json:"sessionId"`
	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`
	// TurnCount is the number of conversational turns taken.
	TurnCount int `json:"turnCount"`
	// Usage accumulates provider token counts.
	Usage TokenUsage `json:"tokenUsage"`
	// Metadata holds caller-defined annotations.
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RunOptions configures run construction. The zero value is valid.
type RunOptions struct {
	// ID overrides the generated run id.
	ID       string
	Metadata map[string]any
}

// NewRun constructs a validated pending run for the given session.
func NewRun(sessionID string, opts RunOptions) (*Run, error) {
	if sessionID == "" {
		return nil, newValidationError("session_id", "must not be empty")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return &Run{
		ID:        id,
		SessionID: sessionID,
		Status:    RunPending,
		Metadata:  copyMap(opts.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// WithStatus returns a copy of the run in the given status with a fresh
// UpdatedAt. Unknown statuses are rejected.
func (r *Run) WithStatus(status RunStatus) (*Run, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: string(status), Err: ErrInvalidStatus}
	}
	next := r.Clone()
	next.Status = status
	next.UpdatedAt = advance(r.UpdatedAt)
	return next, nil
}

// IncrementTurn returns a copy with the turn counter advanced by one. Pure;
// the store is untouched until the caller saves the result.
func (r *Run) IncrementTurn() *Run {
	next := r.Clone()
	next.TurnCount = r.TurnCount + 1
	next.UpdatedAt = advance(r.UpdatedAt)
	return next
}

// MergeTokenUsage returns a copy with the usage counters merged in.
func (r *Run) MergeTokenUsage(u TokenUsage) *Run {
	next := r.Clone()
	next.Usage = r.Usage.Add(u)
	next.UpdatedAt = advance(r.UpdatedAt)
	return next
}

// Clone returns a deep copy safe for independent mutation.
func (r *Run) Clone() *Run {
	clone := *r
	clone.Metadata = copyMap(r.Metadata)
	return &clone
}

// Event is an immutable record of something that happened during a run or
// session. Events are ordered per session by sequence number.
type Event struct {
	// ID is the globally unique event identifier.
	ID string `json:"id"`
	// SessionID references the session this event belongs to.
	SessionID string `json:"sessionId"`
	// RunID optionally references the run that produced the event.
	RunID string `json:"runId,omitempty"`
	// Type is the semantic category from the fixed vocabulary.
	Type EventType `json:"type"`
	// Sequence orders events within a session. Zero means the store assigns
	// the next per-session value at append time.
	Sequence int64 `json:"sequenceNumber"`
	// Data is the opaque event payload.
	Data map[string]any `json:"data,omitempty"`
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// EventOptions configures event construction. The zero value is valid.
type EventOptions struct {
	// ID overrides the generated event id.
	ID string
	// RunID attributes the event to a run.
	RunID string
	// Sequence supplies an explicit per-session sequence number. Leave zero
	// to let the store assign one.
	Sequence int64
	Data     map[string]any
}

// NewEvent constructs a validated event for the given session.
func NewEvent(sessionID string, typ EventType, opts EventOptions) (*Event, error) {
	if sessionID == "" {
		return nil, newValidationError("session_id", "must not be empty")
	}
	if !typ.Valid() {
		return nil, &ValidationError{Field: "type", Reason: string(typ), Err: ErrInvalidEventType}
	}
	if opts.Sequence < 0 {
		return nil, newValidationError("sequence_number", "must not be negative")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Event{
		ID:        id,
		SessionID: sessionID,
		RunID:     opts.RunID,
		Type:      typ,
		Sequence:  opts.Sequence,
		Data:      copyMap(opts.Data),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Clone returns a deep copy safe for independent mutation.
func (e *Event) Clone() *Event {
	clone := *e
	clone.Data = copyMap(e.Data)
	return &clone
}

// advance returns the current UTC time, nudged forward if the clock has not
// moved past prev. Keeps UpdatedAt strictly increasing per entity so the
// active-run tie-break stays deterministic.
func advance(prev time.Time) time.Time {
	now := time.Now().UTC()
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
