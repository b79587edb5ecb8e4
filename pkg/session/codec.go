package session

import (
	"fmt"
	"time"
)

// Map codecs for every entity. Keys are snake_case strings, enum values are
// lowercase strings and timestamps are RFC 3339 strings, so the maps survive
// any structural serializer (JSON, YAML, Firestore-style document stores)
// and FromMap(ToMap(x)) reproduces x exactly.

const timeLayout = time.RFC3339Nano

// ToMap encodes the session as a string-keyed map.
func (s *Session) ToMap() map[string]any {
	m := map[string]any{
		"id":         s.ID,
		"agent_id":   s.AgentID,
		"status":     string(s.Status),
		"created_at": s.CreatedAt.Format(timeLayout),
		"updated_at": s.UpdatedAt.Format(timeLayout),
	}
	if s.ParentSessionID != "" {
		m["parent_session_id"] = s.ParentSessionID
	}
	if s.Metadata != nil {
		m["metadata"] = copyMap(s.Metadata)
	}
	if s.Context != nil {
		m["context"] = copyMap(s.Context)
	}
	if s.Tags != nil {
		m["tags"] = copyStrings(s.Tags)
	}
	return m
}

// SessionFromMap decodes a session previously encoded with ToMap.
func SessionFromMap(m map[string]any) (*Session, error) {
	s := &Session{}
	var err error
	if s.ID, err = stringField(m, "id", true); err != nil {
		return nil, err
	}
	if s.AgentID, err = stringField(m, "agent_id", true); err != nil {
		return nil, err
	}
	status, err := stringField(m, "status", true)
	if err != nil {
		return nil, err
	}
	s.Status = SessionStatus(status)
	if !s.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: status, Err: ErrInvalidStatus}
	}
	if s.ParentSessionID, err = stringField(m, "parent_session_id", false); err != nil {
		return nil, err
	}
	if s.Metadata, err = mapField(m, "metadata"); err != nil {
		return nil, err
	}
	if s.Context, err = mapField(m, "context"); err != nil {
		return nil, err
	}
	if s.Tags, err = stringsField(m, "tags"); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = timeField(m, "created_at"); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = timeField(m, "updated_at"); err != nil {
		return nil, err
	}
	return s, nil
}

// ToMap encodes the run as a string-keyed map.
func (r *Run) ToMap() map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"session_id": r.SessionID,
		"status":     string(r.Status),
		"turn_count": int64(r.TurnCount),
		"token_usage": map[string]any{
			"input":  int64(r.Usage.Input),
			"output": int64(r.Usage.Output),
		},
		"created_at": r.CreatedAt.Format(timeLayout),
		"updated_at": r.UpdatedAt.Format(timeLayout),
	}
	if r.Metadata != nil {
		m["metadata"] = copyMap(r.Metadata)
	}
	return m
}

// RunFromMap decodes a run previously encoded with ToMap.
func RunFromMap(m map[string]any) (*Run, error) {
	r := &Run{}
	var err error
	if r.ID, err = stringField(m, "id", true); err != nil {
		return nil, err
	}
	if r.SessionID, err = stringField(m, "session_id", true); err != nil {
		return nil, err
	}
	status, err := stringField(m, "status", true)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	if !r.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: status, Err: ErrInvalidStatus}
	}
	turns, err := intField(m, "turn_count")
	if err != nil {
		return nil, err
	}
	if turns < 0 {
		return nil, newValidationError("turn_count", "must not be negative")
	}
	r.TurnCount = int(turns)
	if usage, ok := m["token_usage"].(map[string]any); ok {
		in, err := intField(usage, "input")
		if err != nil {
			return nil, err
		}
		out, err := intField(usage, "output")
		if err != nil {
			return nil, err
		}
		if in < 0 || out < 0 {
			return nil, newValidationError("token_usage", "must not be negative")
		}
		r.Usage = TokenUsage{Input: int(in), Output: int(out)}
	}
	if r.Metadata, err = mapField(m, "metadata"); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = timeField(m, "created_at"); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = timeField(m, "updated_at"); err != nil {
		return nil, err
	}
	return r, nil
}

// ToMap encodes the event as a string-keyed map.
func (e *Event) ToMap() map[string]any {
	m := map[string]any{
		"id":              e.ID,
		"session_id":      e.SessionID,
		"type":            string(e.Type),
		"sequence_number": e.Sequence,
		"timestamp":       e.Timestamp.Format(timeLayout),
	}
	if e.RunID != "" {
		m["run_id"] = e.RunID
	}
	if e.Data != nil {
		m["data"] = copyMap(e.Data)
	}
	return m
}

// EventFromMap decodes an event previously encoded with ToMap.
func EventFromMap(m map[string]any) (*Event, error) {
	e := &Event{}
	var err error
	if e.ID, err = stringField(m, "id", true); err != nil {
		return nil, err
	}
	if e.SessionID, err = stringField(m, "session_id", true); err != nil {
		return nil, err
	}
	if e.RunID, err = stringField(m, "run_id", false); err != nil {
		return nil, err
	}
	typ, err := stringField(m, "type", true)
	if err != nil {
		return nil, err
	}
	e.Type = EventType(typ)
	if !e.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: typ, Err: ErrInvalidEventType}
	}
	if e.Sequence, err = intField(m, "sequence_number"); err != nil {
		return nil, err
	}
	if e.Sequence < 0 {
		return nil, newValidationError("sequence_number", "must not be negative")
	}
	if e.Data, err = mapField(m, "data"); err != nil {
		return nil, err
	}
	if e.Timestamp, err = timeField(m, "timestamp"); err != nil {
		return nil, err
	}
	return e, nil
}

func stringField(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return "", newValidationError(key, "missing")
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", newValidationError(key, fmt.Sprintf("expected string, got %T", v))
	}
	if required && s == "" {
		return "", newValidationError(key, "must not be empty")
	}
	return s, nil
}

// intField coerces the numeric representations different decoders produce
// (int, int64, float64 from encoding/json) into int64.
func intField(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, newValidationError(key, fmt.Sprintf("expected integer, got %T", v))
	}
}

func timeField(m map[string]any, key string) (time.Time, error) {
	s, err := stringField(m, key, true)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, newValidationError(key, fmt.Sprintf("bad timestamp %q", s))
	}
	return t.UTC(), nil
}

func mapField(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	mm, ok := v.(map[string]any)
	if !ok {
		return nil, newValidationError(key, fmt.Sprintf("expected map, got %T", v))
	}
	return copyMap(mm), nil
}

func stringsField(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return copyStrings(s), nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, newValidationError(key, fmt.Sprintf("expected string element, got %T", item))
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, newValidationError(key, fmt.Sprintf("expected string sequence, got %T", v))
	}
}
