package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{ThreadID: "t1", Stage: 0, NodeID: "aggregate", Msg: "node_start"})
	emitter.Emit(Event{ThreadID: "t1", Stage: 0, NodeID: "aggregate", Msg: "node_end"})
	emitter.Emit(Event{ThreadID: "t2", Stage: 0, NodeID: "aggregate", Msg: "node_start"})

	if got := len(emitter.History("t1")); got != 2 {
		t.Errorf("expected 2 events for t1, got %d", got)
	}
	if got := len(emitter.History("t2")); got != 1 {
		t.Errorf("expected 1 event for t2, got %d", got)
	}
	if got := len(emitter.History("unknown")); got != 0 {
		t.Errorf("expected empty history for unknown thread, got %d", got)
	}
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	for stage := 0; stage < 5; stage++ {
		emitter.Emit(Event{ThreadID: "t1", Stage: stage, NodeID: "n", Msg: "node_end"})
	}
	emitter.Emit(Event{ThreadID: "t1", Stage: 5, NodeID: "gate", Msg: "gate_paused"})

	t.Run("by message", func(t *testing.T) {
		got := emitter.HistoryWithFilter("t1", HistoryFilter{Msg: "gate_paused"})
		if len(got) != 1 || got[0].NodeID != "gate" {
			t.Errorf("unexpected filter result: %+v", got)
		}
	})

	t.Run("by stage range", func(t *testing.T) {
		min, max := 1, 3
		got := emitter.HistoryWithFilter("t1", HistoryFilter{MinStage: &min, MaxStage: &max})
		if len(got) != 3 {
			t.Errorf("expected 3 events in stages 1-3, got %d", len(got))
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{ThreadID: "t1", Msg: "a"})
	emitter.Emit(Event{ThreadID: "t2", Msg: "b"})

	emitter.Clear("t1")
	if len(emitter.History("t1")) != 0 {
		t.Error("expected t1 history cleared")
	}
	if len(emitter.History("t2")) != 1 {
		t.Error("expected t2 history intact")
	}

	emitter.Clear("")
	if len(emitter.History("t2")) != 0 {
		t.Error("expected all history cleared")
	}
}

func TestBufferedEmitter_ConcurrentEmit(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			emitter.Emit(Event{ThreadID: "t1", NodeID: fmt.Sprintf("n%d", n), Msg: "node_end"})
		}(i)
	}
	wg.Wait()

	if got := len(emitter.History("t1")); got != 50 {
		t.Errorf("expected 50 events, got %d", got)
	}
}
