package engine

import (
	"context"

	"github.com/deniel666/news-agent-maya/engine/store"
)

// NotifyFunc is invoked when a run pauses at a gate, typically to ping a
// human reviewer. Notification is fire-and-forget: an error is logged via
// the emitter but never fails the pause, and the checkpoint is written
// before the notifier runs so a crashed notifier cannot lose the thread.
type NotifyFunc[S any] func(ctx context.Context, threadID string, state S) error

// Gate declares a human approval point. The run pauses when execution
// reaches Node and only continues through Resume with a decision.
//
// On rejection, if the thread has revision budget left, RevisionNode is
// executed once with the reviewer's feedback merged into state, and the
// run re-enters the pipeline at ReentryNode's stage. Once MaxRevisions
// rejections have been spent the next rejection terminates the thread.
// MaxRevisions of zero means any rejection terminates immediately.
type Gate[S any] struct {
	Node         string
	RevisionNode string
	ReentryNode  string
	MaxRevisions int
	Notify       NotifyFunc[S]
}

// DecisionRecord is the immutable audit entry appended for every gate
// decision.
type DecisionRecord = store.DecisionRecord

// RunStatus re-exports the checkpoint status values for callers that only
// import the engine package.
type RunStatus = store.RunStatus

const (
	StatusRunning    = store.StatusRunning
	StatusPaused     = store.StatusPaused
	StatusCompleted  = store.StatusCompleted
	StatusTerminated = store.StatusTerminated
	StatusFailed     = store.StatusFailed
)

// RunResult is returned by Run and Resume. When Status is StatusPaused,
// PausedAt names the gate awaiting a decision.
type RunResult[S any] struct {
	ThreadID string
	State    S
	Status   RunStatus
	PausedAt string
}
