package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the planner, compiler, and run protocol.
// Callers should match them with errors.Is.
var (
	// ErrCyclicGraph is returned when the dependency declarations contain
	// a cycle and no execution order exists.
	ErrCyclicGraph = errors.New("cyclic dependency declaration")

	// ErrUnknownDependency is returned when a node depends on an ID that
	// no configuration declares.
	ErrUnknownDependency = errors.New("dependency references unknown node")

	// ErrNodeNotFound is returned when execution reaches a node ID that
	// has no registered handler.
	ErrNodeNotFound = errors.New("node not registered")

	// ErrUnknownRouteTarget is returned when a routing function returns a
	// target that was not declared in its route table.
	ErrUnknownRouteTarget = errors.New("route target not declared")

	// ErrInvalidResumeState is returned when a resume request arrives for
	// a thread that is not paused, or is paused at a different gate.
	ErrInvalidResumeState = errors.New("invalid resume state")

	// ErrThreadExists is returned when a run is started for a thread ID
	// that already has a checkpoint.
	ErrThreadExists = errors.New("thread already exists")

	// ErrNotCompiled is returned when a run is attempted before Compile.
	ErrNotCompiled = errors.New("workflow not compiled")
)

// Error codes carried by EngineError and NodeError.
const (
	CodeNodeTimeout = "NODE_TIMEOUT"
	CodeNodePanic   = "NODE_PANIC"
	CodeNodeError   = "NODE_ERROR"
	CodeMaxSteps    = "MAX_STEPS_EXCEEDED"
	CodeBadConfig   = "INVALID_CONFIGURATION"
)

// EngineError is a structural orchestration failure: misconfiguration,
// compile problems, or a run that exceeded its step budget. Node-level
// failures never surface as EngineError; those are captured into state.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NodeError describes a single node execution failure. It is handed to the
// workflow's FailureFunc so the failure can be recorded in state rather
// than aborting the run.
type NodeError struct {
	NodeID  string
	Code    string
	Message string
	Cause   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.Code, e.Message)
}

func (e *NodeError) Unwrap() error { return e.Cause }
