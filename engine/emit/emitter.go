package emit

// Emitter receives observability events from the engine.
//
// Implementations must be:
//   - Non-blocking: never slow down or stall workflow execution
//   - Thread-safe: Emit is called concurrently from parallel nodes
//   - Resilient: internal failures are swallowed, never propagated
//
// The engine treats a nil Emitter as "no observability" and skips emission
// entirely, so implementations never need to handle a nil receiver.
type Emitter interface {
	// Emit delivers one event to the backend. It must not panic; backend
	// errors are logged or dropped internally.
	Emit(event Event)
}
