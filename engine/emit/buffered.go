package emit

import "sync"

// BufferedEmitter captures events in memory, organized per thread.
//
// It exists for tests, debugging, and post-run inspection. All events are
// retained until cleared, so it is not meant for long-lived production
// threads with high event volume.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events in emission order
}

// HistoryFilter selects a subset of a thread's events. Empty/nil fields
// match everything; set fields combine with AND.
type HistoryFilter struct {
	NodeID   string
	Msg      string
	MinStage *int
	MaxStage *int
}

// NewBufferedEmitter creates an empty in-memory emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its thread's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// History returns a copy of all events recorded for threadID, in emission
// order. Returns an empty slice when the thread is unknown.
func (b *BufferedEmitter) History(threadID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[threadID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the thread's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Event{}
	for _, event := range b.events[threadID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.MinStage != nil && event.Stage < *filter.MinStage {
			continue
		}
		if filter.MaxStage != nil && event.Stage > *filter.MaxStage {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Clear drops the history for threadID, or every thread when threadID is
// empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
