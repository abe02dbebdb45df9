// Package store provides checkpoint persistence for workflow threads.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no persisted checkpoint.
var ErrNotFound = errors.New("not found")

// RunStatus describes where a thread is in its lifecycle.
type RunStatus string

const (
	// StatusRunning means the engine is actively executing stages.
	StatusRunning RunStatus = "running"

	// StatusPaused means the thread stopped at an approval gate and is
	// waiting for Resume.
	StatusPaused RunStatus = "paused"

	// StatusCompleted means the final stage merged successfully.
	StatusCompleted RunStatus = "completed"

	// StatusTerminated means a gate rejected with the revision budget
	// exhausted. Terminal, not an error.
	StatusTerminated RunStatus = "terminated"

	// StatusFailed means a structural error aborted the run.
	StatusFailed RunStatus = "failed"
)

// Checkpoint is the durable snapshot of one thread.
//
// A checkpoint is written after every completed stage and on every pause,
// by atomic replace of the whole record. The engine never deletes
// checkpoints; retention is an operator concern.
//
// Type parameter S is the workflow state type, which must be
// JSON-serializable for the database-backed stores.
type Checkpoint[S any] struct {
	// ThreadID identifies the run, e.g. "2026-W35-en-SG".
	ThreadID string `json:"thread_id"`

	// State is the fully-merged state after the last completed stage.
	State S `json:"state"`

	// NextNodes lists the nodes of the next stage to execute. Empty when
	// the thread is paused at a gate or has reached a terminal status.
	NextNodes []string `json:"next_nodes"`

	// StageIndex is the index of the next stage to run when execution
	// continues.
	StageIndex int `json:"stage_index"`

	// PausedAt is the gate node the thread is waiting on, empty unless
	// Status is StatusPaused.
	PausedAt string `json:"paused_at,omitempty"`

	// Status is the thread lifecycle state at checkpoint time.
	Status RunStatus `json:"status"`

	// Revisions counts rejection-driven revision loops per gate.
	Revisions map[string]int `json:"revisions,omitempty"`

	// UpdatedAt records when this checkpoint was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// DecisionRecord is one approval or rejection outcome at a gate.
//
// Records are append-only: the store keeps the full ordered log per thread
// and routing reads only the latest record for a gate.
type DecisionRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// ThreadID and GateID locate the decision.
	ThreadID string `json:"thread_id"`
	GateID   string `json:"gate_id"`

	// Approved is the outcome.
	Approved bool `json:"approved"`

	// ReasonCodes are structured rejection categories, e.g.
	// "tone_too_casual", "fact_check_failed". Empty on approval.
	ReasonCodes []string `json:"reason_codes,omitempty"`

	// FreeText carries the reviewer's detailed feedback.
	FreeText string `json:"free_text,omitempty"`

	// RevisionOfVersion is the script/content version under review.
	RevisionOfVersion int `json:"revision_of_version,omitempty"`

	// ReviewerID identifies the approver for the audit trail.
	ReviewerID string `json:"reviewer_id,omitempty"`

	// DecidedAt is when the decision was submitted.
	DecidedAt time.Time `json:"decided_at"`
}

// Store persists thread checkpoints and the per-thread decision log.
//
// Implementations must guarantee atomicity per thread key: a Save either
// fully replaces the previous checkpoint or leaves it untouched. Different
// threads are independent and may be written concurrently.
type Store[S any] interface {
	// Save atomically replaces the checkpoint for cp.ThreadID.
	Save(ctx context.Context, cp Checkpoint[S]) error

	// Load returns the checkpoint for threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (Checkpoint[S], error)

	// Threads lists all thread IDs with a persisted checkpoint.
	Threads(ctx context.Context) ([]string, error)

	// AppendDecision adds one record to the thread's decision log.
	// Records are never mutated or removed.
	AppendDecision(ctx context.Context, rec DecisionRecord) error

	// Decisions returns the thread's decision log in append order.
	// An unknown thread yields an empty log, not an error.
	Decisions(ctx context.Context, threadID string) ([]DecisionRecord, error)
}
