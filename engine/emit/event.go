// Package emit provides observability events for workflow execution.
package emit

// Event is a single observability record produced while a thread executes.
//
// Events cover the whole run lifecycle:
//   - node execution start/finish with duration and success flag
//   - stage completion and checkpoint writes
//   - gate pauses and resume decisions
//   - terminal states (completed, terminated, failed)
//
// Events are delivered to an Emitter, which may log them, convert them to
// OpenTelemetry spans, or buffer them for inspection. Emission must never
// block or fail the run that produced the event.
type Event struct {
	// ThreadID identifies the workflow run that produced this event.
	ThreadID string

	// Stage is the zero-based stage index the event belongs to.
	// -1 for thread-level events (run started, paused, resumed).
	Stage int

	// NodeID identifies the node involved, empty for stage- and
	// thread-level events.
	NodeID string

	// Msg is a short machine-friendly event name, e.g. "node_end",
	// "gate_paused", "checkpoint_saved".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": node execution time
	//   - "success": whether the node handler succeeded
	//   - "error": captured failure detail
	//   - "gate": gate identifier for pause/resume events
	//   - "revisions": revision counter after a rejection
	Meta map[string]interface{}
}
