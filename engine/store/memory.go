package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store implementation.
//
// Checkpoints are kept as serialized JSON so that a caller mutating its own
// state value after Save can never corrupt the persisted snapshot; Load
// always returns an independent copy. Suited to tests and single-process
// runs without durability needs.
//
// MemStore is safe for concurrent use.
type MemStore[S any] struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte // threadID -> JSON-encoded Checkpoint[S]
	decisions   map[string][]DecisionRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		checkpoints: make(map[string][]byte),
		decisions:   make(map[string][]DecisionRecord),
	}
}

// Save atomically replaces the thread's checkpoint.
func (m *MemStore[S]) Save(ctx context.Context, cp Checkpoint[S]) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread ID cannot be empty")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.ThreadID] = data
	return nil
}

// Load returns an independent copy of the thread's checkpoint.
func (m *MemStore[S]) Load(ctx context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	data, ok := m.checkpoints[threadID]
	m.mu.RUnlock()

	var cp Checkpoint[S]
	if !ok {
		return cp, ErrNotFound
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Threads lists all thread IDs with a checkpoint.
func (m *MemStore[S]) Threads(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	return ids, nil
}

// AppendDecision appends one record to the thread's decision log.
func (m *MemStore[S]) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.ThreadID == "" {
		return fmt.Errorf("decision thread ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[rec.ThreadID] = append(m.decisions[rec.ThreadID], rec)
	return nil
}

// Decisions returns the thread's decision log in append order.
func (m *MemStore[S]) Decisions(ctx context.Context, threadID string) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.decisions[threadID]
	out := make([]DecisionRecord, len(log))
	copy(out, log)
	return out, nil
}
