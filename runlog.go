// Package runlog tracks the lifecycle of AI agent sessions: the sessions
// themselves, the runs executed within them and the ordered event log each
// session accumulates. This file is the assembly point; the pieces live in
// pkg/session (entities, stores, manager), pkg/adapter (provider
// integrations) and pkg/observability (metrics, health).
package runlog

import (
	"context"
	"fmt"

	"github.com/runlog-dev/runlog/pkg/observability"
	"github.com/runlog-dev/runlog/pkg/session"
)

// Runtime bundles the store and manager a deployment works with.
type Runtime struct {
	store   session.Store // instrumented
	raw     session.Store // as opened, for probes the wrapper hides
	manager session.Manager
}

// Open builds a runtime from the given configuration. The store and manager
// are wrapped with metrics instrumentation; the adapter may be nil for
// deployments that only record lifecycle state.
func Open(cfg session.Config, adapter session.Adapter) (*Runtime, error) {
	store, err := session.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	instrumented := observability.InstrumentStore(store)
	return &Runtime{
		store:   instrumented,
		raw:     store,
		manager: observability.InstrumentManager(session.NewManager(instrumented, adapter)),
	}, nil
}

// OpenFromFile builds a runtime from a YAML configuration file plus
// environment overrides.
func OpenFromFile(path string, adapter session.Adapter) (*Runtime, error) {
	cfg, err := session.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Open(cfg, adapter)
}

// Manager returns the session manager.
func (r *Runtime) Manager() session.Manager { return r.manager }

// Store returns the instrumented store for direct queries.
func (r *Runtime) Store() session.Store { return r.store }

// Close releases the runtime and its store.
func (r *Runtime) Close() error {
	return r.manager.Close()
}

// pinger is satisfied by stores with a connectivity probe (RedisStore).
type pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthCheck returns a health probe for the runtime's store. Stores
// with a real connectivity probe use it; the rest answer with a cheap read.
func (r *Runtime) StoreHealthCheck() func(context.Context) error {
	if p, ok := r.raw.(pinger); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, err := r.store.ListSessions(ctx)
		return err
	}
}
