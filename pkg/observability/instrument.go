package observability

import (
	"context"
	"errors"
	"time"

	"github.com/runlog-dev/runlog/pkg/session"
)

// instrumentedStore decorates a session.Store with Prometheus metrics. Every
// operation is counted and timed; the wrapped store keeps full responsibility
// for semantics.
type instrumentedStore struct {
	inner session.Store
}

// InstrumentStore wraps a store so its operations are recorded in the
// registered metrics. InitMetrics must have been called for the samples to be
// scrapeable.
func InstrumentStore(inner session.Store) session.Store {
	return &instrumentedStore{inner: inner}
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RecordStoreOperation(op, status, time.Since(start))
}

func (s *instrumentedStore) SaveSession(ctx context.Context, sess *session.Session) error {
	start := time.Now()
	err := s.inner.SaveSession(ctx, sess)
	observe("save_session", start, err)
	return err
}

func (s *instrumentedStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	start := time.Now()
	sess, err := s.inner.GetSession(ctx, id)
	observe("get_session", start, err)
	return sess, err
}

func (s *instrumentedStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	start := time.Now()
	sessions, err := s.inner.ListSessions(ctx)
	observe("list_sessions", start, err)
	if err == nil {
		SetSessionsActive(len(sessions))
	}
	return sessions, err
}

func (s *instrumentedStore) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	err := s.inner.DeleteSession(ctx, id)
	observe("delete_session", start, err)
	return err
}

func (s *instrumentedStore) SaveRun(ctx context.Context, r *session.Run) error {
	start := time.Now()
	err := s.inner.SaveRun(ctx, r)
	observe("save_run", start, err)
	return err
}

func (s *instrumentedStore) GetRun(ctx context.Context, id string) (*session.Run, error) {
	start := time.Now()
	r, err := s.inner.GetRun(ctx, id)
	observe("get_run", start, err)
	return r, err
}

func (s *instrumentedStore) ListRuns(ctx context.Context, sessionID string) ([]*session.Run, error) {
	start := time.Now()
	runs, err := s.inner.ListRuns(ctx, sessionID)
	observe("list_runs", start, err)
	return runs, err
}

func (s *instrumentedStore) GetActiveRun(ctx context.Context, sessionID string) (*session.Run, error) {
	start := time.Now()
	r, err := s.inner.GetActiveRun(ctx, sessionID)
	observe("get_active_run", start, err)
	return r, err
}

func (s *instrumentedStore) AppendEvent(ctx context.Context, e *session.Event) error {
	start := time.Now()
	err := s.inner.AppendEvent(ctx, e)
	switch {
	case err == nil:
		RecordEventAppended()
		RecordStoreOperation("append_event", "ok", time.Since(start))
	case errors.Is(err, session.ErrDuplicateEvent):
		RecordDuplicateEvent()
		RecordStoreOperation("append_event", "duplicate", time.Since(start))
	default:
		RecordStoreOperation("append_event", "error", time.Since(start))
	}
	return err
}

func (s *instrumentedStore) GetEvents(ctx context.Context, sessionID string) ([]*session.Event, error) {
	start := time.Now()
	events, err := s.inner.GetEvents(ctx, sessionID)
	observe("get_events", start, err)
	return events, err
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}

// instrumentedManager decorates a session.Manager so run executions feed the
// execution and token metrics. All other operations pass through.
type instrumentedManager struct {
	session.Manager
}

// InstrumentManager wraps a manager so ExecuteRun outcomes, durations and
// token usage are recorded.
func InstrumentManager(inner session.Manager) session.Manager {
	return &instrumentedManager{Manager: inner}
}

func (m *instrumentedManager) ExecuteRun(ctx context.Context, runID string, opts session.ExecuteOptions) (*session.Run, error) {
	start := time.Now()
	run, err := m.Manager.ExecuteRun(ctx, runID, opts)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	RecordRunExecution(status, time.Since(start))
	if run != nil {
		RecordTokens(run.Usage.Input, run.Usage.Output)
	}
	return run, err
}
