// Package session tracks the lifecycle of AI agent sessions, the runs
// executed within them and the ordered event log each session accumulates.
//
// Three entity types form the data model: Session (a long-lived conversation
// container), Run (one execution turn within a session) and Event (an
// immutable record of something that happened). Entities are values;
// transitions like WithStatus or IncrementTurn return fresh copies and only a
// Store holds canonical state.
//
// Store is the persistence contract. MemoryStore is the concurrent in-memory
// reference implementation; RedisStore and FileStore provide distributed and
// crash-durable alternatives with the same semantics. Manager sequences store
// operations and Adapter calls into the create, activate, run, execute,
// complete lifecycle, and Negotiate checks capability requirements against a
// provider's manifest before a run is created.
package session
