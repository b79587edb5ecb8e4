package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	obs "github.com/runlog-dev/runlog/internal/observability"
)

// Manager sequences store operations and adapter calls into the documented
// session lifecycle: create, activate, run, execute, complete. Every step
// re-reads its inputs from the Store rather than trusting caller-held copies,
// so it always acts on the latest persisted state. Manager is safe for
// concurrent use.
type Manager interface {
	// StartSession validates, constructs and persists a new pending session
	// and appends its session_created event.
	StartSession(ctx context.Context, agentID string, opts SessionOptions) (*Session, error)

	// GetSession retrieves a session from the store.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns a snapshot of all sessions.
	ListSessions(ctx context.Context) ([]*Session, error)

	// ActivateSession transitions the session to active.
	ActivateSession(ctx context.Context, id string) (*Session, error)

	// PauseSession transitions the session to paused.
	PauseSession(ctx context.Context, id string) (*Session, error)

	// CompleteSession transitions the session to completed.
	CompleteSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes the session and everything it owns.
	DeleteSession(ctx context.Context, id string) error

	// StartRun creates a pending run under an existing session. When the
	// options carry capability requirements the adapter's manifest is
	// negotiated first; a failed negotiation creates no run.
	StartRun(ctx context.Context, sessionID string, opts StartRunOptions) (*Run, error)

	// ExecuteRun drives one adapter execution for a pending run: the run
	// transitions to running, produced events are appended as they arrive,
	// token usage is merged, and the run lands in completed or failed. A
	// cancelled or timed-out execution lands the run in failed; it is never
	// left running silently.
	ExecuteRun(ctx context.Context, runID string, opts ExecuteOptions) (*Run, error)

	// FailRun force-transitions a pending or running run to failed and
	// records a run_failed event carrying the reason. Used to reap runs
	// abandoned mid-flight; a run already in a terminal status is rejected.
	FailRun(ctx context.Context, runID string, reason string) (*Run, error)

	// Store exposes the underlying store for direct queries.
	Store() Store

	// Close releases the manager and its store.
	Close() error
}

// StartRunOptions configures run creation.
type StartRunOptions struct {
	// Run carries entity-level options (id override, metadata).
	Run RunOptions
	// Required lists capability types the adapter must provide. Negotiation
	// failure aborts run creation.
	Required []CapabilityType
	// Optional lists capability types that degrade, not fail, when missing.
	Optional []CapabilityType
}

// managerImpl is the concrete implementation of Manager.
type managerImpl struct {
	store   Store
	adapter Adapter
}

// NewManager creates a session manager over the given store. The adapter may
// be nil when runs are never executed (pure bookkeeping deployments).
func NewManager(store Store, adapter Adapter) Manager {
	return &managerImpl{store: store, adapter: adapter}
}

func (m *managerImpl) StartSession(ctx context.Context, agentID string, opts SessionOptions) (*Session, error) {
	ctx, span := obs.StartSpan(ctx, "session.StartSession",
		trace.WithAttributes(attribute.String("agent.id", agentID)))
	defer span.End()

	sess, err := NewSession(agentID, opts)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	ev, err := NewEvent(sess.ID, EventSessionCreated, EventOptions{
		Data: map[string]any{"agent_id": agentID},
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append session_created event: %w", err)
	}
	return sess, nil
}

func (m *managerImpl) GetSession(ctx context.Context, id string) (*Session, error) {
	return m.store.GetSession(ctx, id)
}

func (m *managerImpl) ListSessions(ctx context.Context) ([]*Session, error) {
	return m.store.ListSessions(ctx)
}

func (m *managerImpl) ActivateSession(ctx context.Context, id string) (*Session, error) {
	return m.setSessionStatus(ctx, id, SessionActive)
}

func (m *managerImpl) PauseSession(ctx context.Context, id string) (*Session, error) {
	return m.setSessionStatus(ctx, id, SessionPaused)
}

func (m *managerImpl) CompleteSession(ctx context.Context, id string) (*Session, error) {
	return m.setSessionStatus(ctx, id, SessionCompleted)
}

// setSessionStatus re-reads the session, applies the transition and persists
// the result plus a session_status_changed event.
func (m *managerImpl) setSessionStatus(ctx context.Context, id string, status SessionStatus) (*Session, error) {
	ctx, span := obs.StartSpan(ctx, "session.SetStatus",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("session.status", string(status)),
		))
	defer span.End()

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := sess.WithStatus(status)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveSession(ctx, next); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	ev, err := NewEvent(id, EventSessionStatusChanged, EventOptions{
		Data: map[string]any{"from": string(sess.Status), "to": string(status)},
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append status event: %w", err)
	}
	return next, nil
}

func (m *managerImpl) DeleteSession(ctx context.Context, id string) error {
	return m.store.DeleteSession(ctx, id)
}

func (m *managerImpl) StartRun(ctx context.Context, sessionID string, opts StartRunOptions) (*Run, error) {
	ctx, span := obs.StartSpan(ctx, "session.StartRun",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	// Referential integrity is enforced here, not in the store: the run's
	// parent session must exist at validation time.
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	runOpts := opts.Run
	if len(opts.Required) > 0 || len(opts.Optional) > 0 {
		if m.adapter == nil {
			return nil, errors.New("capability negotiation requested but no adapter configured")
		}
		caps, err := m.adapter.Capabilities(ctx)
		if err != nil {
			return nil, fmt.Errorf("adapter capabilities: %w", err)
		}
		negotiation, err := Negotiate(opts.Required, opts.Optional, caps)
		if err != nil {
			return nil, err
		}
		for _, w := range negotiation.Warnings {
			log.Printf("session %s: %s", sessionID, w)
		}
		if runOpts.Metadata == nil {
			runOpts.Metadata = make(map[string]any)
		}
		runOpts.Metadata["negotiation_status"] = string(negotiation.Status)
	}

	run, err := NewRun(sessionID, runOpts)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

func (m *managerImpl) ExecuteRun(ctx context.Context, runID string, opts ExecuteOptions) (*Run, error) {
	ctx, span := obs.StartSpan(ctx, "session.ExecuteRun",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if m.adapter == nil {
		return nil, errors.New("no adapter configured")
	}

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(ctx, run.SessionID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunPending {
		return nil, fmt.Errorf("run %s is %s, expected %s", runID, run.Status, RunPending)
	}

	running, err := run.WithStatus(RunRunning)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRun(ctx, running); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	m.appendRunEvent(ctx, running, EventRunStarted, nil)

	// The adapter call happens outside any store critical section. Events
	// are persisted live through the callback; the result list is replayed
	// afterwards with duplicate appends skipped, so adapters that do not
	// drive the callback still get their events stored exactly once.
	callerOnEvent := opts.OnEvent
	opts.OnEvent = func(ev *Event) {
		m.persistExecEvent(ctx, running, ev)
		if callerOnEvent != nil {
			callerOnEvent(ev)
		}
	}

	result, execErr := m.adapter.Execute(ctx, running.Clone(), sess, opts)
	if execErr != nil {
		// Failure bookkeeping must survive the cancellation that may have
		// caused it, so it runs on a detached context.
		failCtx := context.WithoutCancel(ctx)
		failed, serr := running.WithStatus(RunFailed)
		if serr != nil {
			return nil, serr
		}
		if err := m.store.SaveRun(failCtx, failed); err != nil {
			return nil, fmt.Errorf("save failed run: %w", err)
		}
		m.appendRunEvent(failCtx, failed, EventRunFailed, map[string]any{"error": execErr.Error()})
		return nil, fmt.Errorf("execute run %s: %w", runID, execErr)
	}

	for _, ev := range result.Events {
		m.persistExecEvent(ctx, running, ev)
	}

	completed, err := running.IncrementTurn().MergeTokenUsage(result.Usage).WithStatus(RunCompleted)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRun(ctx, completed); err != nil {
		return nil, fmt.Errorf("save completed run: %w", err)
	}
	m.appendRunEvent(ctx, completed, EventRunCompleted, map[string]any{
		"input_tokens":  int64(result.Usage.Input),
		"output_tokens": int64(result.Usage.Output),
	})
	return completed, nil
}

func (m *managerImpl) FailRun(ctx context.Context, runID string, reason string) (*Run, error) {
	ctx, span := obs.StartSpan(ctx, "session.FailRun",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Active() {
		return nil, fmt.Errorf("run %s is %s, expected pending or running", runID, run.Status)
	}
	failed, err := run.WithStatus(RunFailed)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRun(ctx, failed); err != nil {
		return nil, fmt.Errorf("save failed run: %w", err)
	}
	m.appendRunEvent(ctx, failed, EventRunFailed, map[string]any{"error": reason})
	return failed, nil
}

// persistExecEvent stores an adapter-produced event under the run's session,
// filling in attribution the adapter left blank. Duplicate ids are expected
// when an event arrived through both the live callback and the result list.
func (m *managerImpl) persistExecEvent(ctx context.Context, run *Run, ev *Event) {
	stored := ev.Clone()
	if stored.SessionID == "" {
		stored.SessionID = run.SessionID
	}
	if stored.RunID == "" {
		stored.RunID = run.ID
	}
	if err := m.store.AppendEvent(ctx, stored); err != nil && !errors.Is(err, ErrDuplicateEvent) {
		log.Printf("run %s: append event %s: %v", run.ID, stored.ID, err)
	}
}

// appendRunEvent records a lifecycle event for the run; failures are logged
// rather than surfaced since the run transition itself already persisted.
func (m *managerImpl) appendRunEvent(ctx context.Context, run *Run, typ EventType, data map[string]any) {
	ev, err := NewEvent(run.SessionID, typ, EventOptions{RunID: run.ID, Data: data})
	if err != nil {
		log.Printf("run %s: build %s event: %v", run.ID, typ, err)
		return
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		log.Printf("run %s: append %s event: %v", run.ID, typ, err)
	}
}

func (m *managerImpl) Store() Store { return m.store }

func (m *managerImpl) Close() error {
	return m.store.Close()
}
