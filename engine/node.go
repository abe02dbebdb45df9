package engine

import "context"

// Handler is the unit of work executed at a node. It receives the current
// accumulated state and the node's effective configuration, and returns a
// partial state update that the workflow reducer merges back in.
//
// Handlers must treat the state as read-only and put everything they
// produce into the returned delta. The context carries the node's timeout;
// handlers doing network or model calls should pass it through.
type Handler[S any] func(ctx context.Context, state S, cfg NodeConfig) (S, error)

// FailureFunc converts a node failure into a state delta so that the run
// continues and downstream nodes can observe the failure. Typical
// implementations record the error message under the node's ID.
type FailureFunc[S any] func(nodeID string, err error) S
