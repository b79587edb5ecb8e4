package session

import "context"

// Adapter is the contract a provider integration fulfils so the manager can
// execute runs against an external AI service. Implementations translate the
// provider's streaming output into Events; they never touch a Store.
type Adapter interface {
	// Capabilities returns the provider's declared capability list, used for
	// negotiation before a run is created.
	Capabilities(ctx context.Context) ([]Capability, error)

	// Execute performs one run turn. Produced events are returned in order
	// on the result; when opts.OnEvent is set it is additionally invoked
	// once per event as the event is produced, for live observation.
	// Cancellation of ctx must abort the call with ctx.Err().
	Execute(ctx context.Context, run *Run, sess *Session, opts ExecuteOptions) (*ExecuteResult, error)
}

// ExecuteOptions configures a single adapter execution.
type ExecuteOptions struct {
	// Input is the caller-supplied prompt or instruction for this turn.
	Input string
	// Parameters carries provider-specific tuning values.
	Parameters map[string]any
	// OnEvent, when set, is invoked once per produced event as execution
	// progresses. Independent of store persistence.
	OnEvent func(*Event)
}

// ExecuteResult is the outcome of a successful adapter execution.
type ExecuteResult struct {
	// Output is the final textual output of the turn.
	Output string
	// Usage is the provider-reported token usage for the turn.
	Usage TokenUsage
	// Events is the ordered list of everything that happened during the
	// turn. Sequence numbers are left zero for the store to assign.
	Events []*Event
}
