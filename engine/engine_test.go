package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deniel666/news-agent-maya/engine/emit"
	"github.com/deniel666/news-agent-maya/engine/store"
)

// pipelineCounters tracks handler invocations across runs and resumes.
type pipelineCounters struct {
	aggregate int32
	compile   int32
	revise    int32
	publish   int32
}

// newNewsEngine wires a small version of the anchor pipeline: aggregate,
// two parallel synthesizers, script compilation, a review gate with a
// revision loop back to compilation, then publish.
func newNewsEngine(t *testing.T, st store.Store[wfState], counters *pipelineCounters, notified *[]string) *Engine[wfState] {
	t.Helper()

	cs, err := NewConfigStore([]NodeConfig{
		{ID: "aggregate", Enabled: true, Type: TypeAggregator},
		{ID: "synth_a", Enabled: true, Type: TypeSynthesizer, DependsOn: []string{"aggregate"}},
		{ID: "synth_b", Enabled: true, Type: TypeSynthesizer, DependsOn: []string{"aggregate"}},
		{ID: "compile", Enabled: true, Type: TypeProcessor, DependsOn: []string{"synth_a", "synth_b"}},
		{ID: "review", Enabled: true, Type: TypeGate, DependsOn: []string{"compile"}},
		{ID: "publish", Enabled: true, Type: TypePublisher, DependsOn: []string{"review"}},
		{ID: "revise", Enabled: true, Type: TypeProcessor},
	})
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}

	eng, err := New(cs, wfReduce, wfFailure, st, emit.NewNullEmitter(), nil, Options{MaxSteps: 50})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	eng.Register("aggregate", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		atomic.AddInt32(&counters.aggregate, 1)
		return wfState{Items: []item{{ID: "url-1"}, {ID: "url-2"}}}, nil
	})
	for _, id := range []string{"synth_a", "synth_b"} {
		eng.Register(id, func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			return wfState{Values: map[string]string{cfg.ID: fmt.Sprintf("%d items", len(s.Items))}}, nil
		})
	}
	eng.Register("compile", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		n := atomic.AddInt32(&counters.compile, 1)
		return wfState{Script: fmt.Sprintf("script v%d", n)}, nil
	})
	eng.Register("revise", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		atomic.AddInt32(&counters.revise, 1)
		return wfState{Values: map[string]string{"revised": s.Script}}, nil
	})
	eng.Register("publish", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		atomic.AddInt32(&counters.publish, 1)
		return wfState{Values: map[string]string{"published": s.Script}}, nil
	})

	if err := eng.AddGate(Gate[wfState]{
		Node:         "review",
		RevisionNode: "revise",
		ReentryNode:  "compile",
		MaxRevisions: 2,
		Notify: func(ctx context.Context, threadID string, s wfState) error {
			if notified != nil {
				*notified = append(*notified, threadID)
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("AddGate: %v", err)
	}
	if err := eng.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return eng
}

func TestEngineCompile(t *testing.T) {
	eng := newNewsEngine(t, store.NewMemStore[wfState](), &pipelineCounters{}, nil)

	want := [][]string{{"aggregate"}, {"synth_a", "synth_b"}, {"compile"}, {"review"}, {"publish"}}
	if diff := cmp.Diff(want, eng.ExecutionOrder()); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	// The revision node runs only inside the rejection loop.
	for _, stage := range eng.ExecutionOrder() {
		for _, id := range stage {
			if id == "revise" {
				t.Error("revision node must not appear in the plan")
			}
		}
	}
}

func TestEngineRunPausesAtGate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[wfState]()
	var counters pipelineCounters
	var notified []string
	eng := newNewsEngine(t, st, &counters, &notified)

	res, err := eng.Run(ctx, "2026-W35-en", wfState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusPaused || res.PausedAt != "review" {
		t.Fatalf("want pause at review, got %s at %q", res.Status, res.PausedAt)
	}
	if counters.publish != 0 {
		t.Error("publish must not run before approval")
	}
	if res.State.Script != "script v1" {
		t.Errorf("want compiled script in state, got %q", res.State.Script)
	}
	if len(notified) != 1 || notified[0] != "2026-W35-en" {
		t.Errorf("want one reviewer notification, got %v", notified)
	}

	cp, err := eng.Checkpoint(ctx, "2026-W35-en")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Status != store.StatusPaused || cp.PausedAt != "review" {
		t.Errorf("checkpoint not paused at gate: %+v", cp)
	}
}

func TestEngineRunWithOverrides(t *testing.T) {
	ctx := context.Background()

	newEng := func(t *testing.T, seenFetch *[]NodeConfig, summarized *int32) *Engine[wfState] {
		t.Helper()
		cs, err := NewConfigStore([]NodeConfig{
			{ID: "fetch", Enabled: true, MaxItems: 20, Params: map[string]any{"lookback_days": 7}},
			{ID: "summarize", Enabled: true, DependsOn: []string{"fetch"}},
		})
		if err != nil {
			t.Fatalf("NewConfigStore: %v", err)
		}
		eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{MaxSteps: 10})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		eng.Register("fetch", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			*seenFetch = append(*seenFetch, cfg)
			return wfState{}, nil
		})
		eng.Register("summarize", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			atomic.AddInt32(summarized, 1)
			return wfState{}, nil
		})
		if err := eng.Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
		return eng
	}

	t.Run("overrides reach the handler", func(t *testing.T) {
		var seen []NodeConfig
		var summarized int32
		eng := newEng(t, &seen, &summarized)

		res, err := eng.RunWith(ctx, "t-ov", wfState{}, Overrides{
			"fetch":     {"max_items": 5, "lookback_days": 3},
			"summarize": {"enabled": false},
		})
		if err != nil {
			t.Fatalf("RunWith: %v", err)
		}
		if res.Status != StatusCompleted {
			t.Fatalf("want completed, got %s", res.Status)
		}
		if len(seen) != 1 {
			t.Fatalf("want fetch to run once, got %d", len(seen))
		}
		if seen[0].MaxItems != 5 {
			t.Errorf("want overridden max items 5, got %d", seen[0].MaxItems)
		}
		if got := seen[0].ParamInt("lookback_days", 0); got != 3 {
			t.Errorf("want overridden lookback 3, got %d", got)
		}
		if summarized != 0 {
			t.Error("node disabled by override must not run")
		}
	})

	t.Run("overrides are request-scoped", func(t *testing.T) {
		var seen []NodeConfig
		var summarized int32
		eng := newEng(t, &seen, &summarized)

		if _, err := eng.RunWith(ctx, "t-ov-1", wfState{}, Overrides{"fetch": {"max_items": 5}}); err != nil {
			t.Fatalf("RunWith: %v", err)
		}
		if _, err := eng.Run(ctx, "t-ov-2", wfState{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(seen) != 2 {
			t.Fatalf("want fetch to run twice, got %d", len(seen))
		}
		if seen[1].MaxItems != 20 || seen[1].ParamInt("lookback_days", 0) != 7 {
			t.Errorf("later run must see the base config, got %+v", seen[1])
		}
		if summarized != 2 {
			t.Errorf("want summarize on both runs, got %d", summarized)
		}
	})
}

func TestEngineResumeApproved(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[wfState]()
	var counters pipelineCounters
	eng := newNewsEngine(t, st, &counters, nil)

	if _, err := eng.Run(ctx, "t-approve", wfState{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A fresh engine over the same store models a process restart while
	// the reviewer was thinking.
	eng2 := newNewsEngine(t, st, &counters, nil)
	res, err := eng2.Resume(ctx, "t-approve", DecisionRecord{Approved: true, ReviewerID: "daniel"}, wfState{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("want completed, got %s", res.Status)
	}
	if res.State.Values["published"] != "script v1" {
		t.Errorf("want approved script published, got %v", res.State.Values)
	}
	if counters.compile != 1 {
		t.Errorf("approval must not recompile, compile ran %d times", counters.compile)
	}

	log, err := eng2.DecisionLog(ctx, "t-approve")
	if err != nil {
		t.Fatalf("DecisionLog: %v", err)
	}
	if len(log) != 1 || !log[0].Approved || log[0].ReviewerID != "daniel" {
		t.Errorf("unexpected decision log %+v", log)
	}
	if log[0].ID == "" || log[0].GateID != "review" {
		t.Errorf("decision record missing identity fields: %+v", log[0])
	}
}

func TestEngineRevisionLoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[wfState]()
	var counters pipelineCounters
	eng := newNewsEngine(t, st, &counters, nil)

	if _, err := eng.Run(ctx, "t-revise", wfState{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res, err := eng.Resume(ctx, "t-revise", DecisionRecord{
		Approved:    false,
		ReasonCodes: []string{"tone"},
		FreeText:    "too dry, add color",
	}, wfState{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Status != StatusPaused || res.PausedAt != "review" {
		t.Fatalf("want re-pause at review after revision, got %s at %q", res.Status, res.PausedAt)
	}
	if counters.revise != 1 {
		t.Errorf("want revision node run once, got %d", counters.revise)
	}
	if counters.compile != 2 {
		t.Errorf("want recompile after revision, compile ran %d times", counters.compile)
	}
	if res.State.Script != "script v2" {
		t.Errorf("want new script version, got %q", res.State.Script)
	}
	// The revision node saw the rejected script.
	if res.State.Values["revised"] != "script v1" {
		t.Errorf("want revision node to see v1, got %q", res.State.Values["revised"])
	}

	cp, err := eng.Checkpoint(ctx, "t-revise")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Revisions["review"] != 1 {
		t.Errorf("want revision counter 1, got %v", cp.Revisions)
	}
}

func TestEngineRevisionBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[wfState]()
	var counters pipelineCounters
	eng := newNewsEngine(t, st, &counters, nil)

	if _, err := eng.Run(ctx, "t-reject", wfState{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reject := DecisionRecord{Approved: false, ReasonCodes: []string{"factual_error"}}
	for i := 0; i < 2; i++ {
		res, err := eng.Resume(ctx, "t-reject", reject, wfState{})
		if err != nil {
			t.Fatalf("Resume %d: %v", i+1, err)
		}
		if res.Status != StatusPaused {
			t.Fatalf("rejection %d within budget must re-pause, got %s", i+1, res.Status)
		}
	}

	// Third rejection exceeds MaxRevisions=2.
	res, err := eng.Resume(ctx, "t-reject", reject, wfState{})
	if err != nil {
		t.Fatalf("final Resume: %v", err)
	}
	if res.Status != StatusTerminated {
		t.Fatalf("want terminated after budget spent, got %s", res.Status)
	}
	if counters.revise != 2 {
		t.Errorf("want exactly 2 revision runs, got %d", counters.revise)
	}
	if counters.publish != 0 {
		t.Error("terminated thread must not publish")
	}

	log, err := eng.DecisionLog(ctx, "t-reject")
	if err != nil {
		t.Fatalf("DecisionLog: %v", err)
	}
	if len(log) != 3 {
		t.Errorf("want all 3 rejections in audit log, got %d", len(log))
	}

	// A terminated thread cannot be resumed again.
	if _, err := eng.Resume(ctx, "t-reject", reject, wfState{}); !errors.Is(err, ErrInvalidResumeState) {
		t.Errorf("want ErrInvalidResumeState on terminated thread, got %v", err)
	}
}

func TestEngineResumeValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[wfState]()
	eng := newNewsEngine(t, st, &pipelineCounters{}, nil)

	t.Run("unknown thread", func(t *testing.T) {
		_, err := eng.Resume(ctx, "nope", DecisionRecord{Approved: true}, wfState{})
		if !errors.Is(err, ErrInvalidResumeState) {
			t.Fatalf("want ErrInvalidResumeState, got %v", err)
		}
	})

	t.Run("wrong gate id", func(t *testing.T) {
		if _, err := eng.Run(ctx, "t-gate", wfState{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		_, err := eng.Resume(ctx, "t-gate", DecisionRecord{GateID: "video_review", Approved: true}, wfState{})
		if !errors.Is(err, ErrInvalidResumeState) {
			t.Fatalf("want ErrInvalidResumeState, got %v", err)
		}
		// The mismatch must not consume the pause.
		cp, err := eng.Checkpoint(ctx, "t-gate")
		if err != nil {
			t.Fatalf("Checkpoint: %v", err)
		}
		if cp.Status != store.StatusPaused {
			t.Errorf("thread must stay paused, got %s", cp.Status)
		}
	})

	t.Run("completed thread", func(t *testing.T) {
		if _, err := eng.Run(ctx, "t-done", wfState{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if _, err := eng.Resume(ctx, "t-done", DecisionRecord{Approved: true}, wfState{}); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		_, err := eng.Resume(ctx, "t-done", DecisionRecord{Approved: true}, wfState{})
		if !errors.Is(err, ErrInvalidResumeState) {
			t.Fatalf("want ErrInvalidResumeState, got %v", err)
		}
	})
}

func TestEngineRunGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate thread id", func(t *testing.T) {
		eng := newNewsEngine(t, store.NewMemStore[wfState](), &pipelineCounters{}, nil)
		if _, err := eng.Run(ctx, "dup", wfState{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		_, err := eng.Run(ctx, "dup", wfState{})
		if !errors.Is(err, ErrThreadExists) {
			t.Fatalf("want ErrThreadExists, got %v", err)
		}
	})

	t.Run("run before compile", func(t *testing.T) {
		cs, err := NewConfigStore([]NodeConfig{{ID: "a", Enabled: true}})
		if err != nil {
			t.Fatalf("NewConfigStore: %v", err)
		}
		eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := eng.Run(ctx, "t", wfState{}); !errors.Is(err, ErrNotCompiled) {
			t.Fatalf("want ErrNotCompiled, got %v", err)
		}
	})

	t.Run("gate with budget needs revision wiring", func(t *testing.T) {
		cs, err := NewConfigStore([]NodeConfig{{ID: "g", Enabled: true, Type: TypeGate}})
		if err != nil {
			t.Fatalf("NewConfigStore: %v", err)
		}
		eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		err = eng.AddGate(Gate[wfState]{Node: "g", MaxRevisions: 1})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeBadConfig {
			t.Fatalf("want configuration error, got %v", err)
		}
	})
}

func TestEngineRouting(t *testing.T) {
	ctx := context.Background()

	newRoutedEngine := func(t *testing.T, verdict func(wfState) string) (*Engine[wfState], *int32) {
		t.Helper()
		cs, err := NewConfigStore([]NodeConfig{
			{ID: "check", Enabled: true},
			{ID: "publish", Enabled: true, DependsOn: []string{"check"}},
		})
		if err != nil {
			t.Fatalf("NewConfigStore: %v", err)
		}
		eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{MaxSteps: 10})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		var published int32
		eng.Register("check", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			return wfState{Script: "checked"}, nil
		})
		eng.Register("publish", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			atomic.AddInt32(&published, 1)
			return wfState{}, nil
		})
		if err := eng.AddRoute(RouteTable[wfState]{
			At:      "check",
			Route:   verdict,
			Targets: []string{"publish", RouteEnd},
		}); err != nil {
			t.Fatalf("AddRoute: %v", err)
		}
		if err := eng.Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
		return eng, &published
	}

	t.Run("route to end skips the rest", func(t *testing.T) {
		eng, published := newRoutedEngine(t, func(s wfState) string { return RouteEnd })
		res, err := eng.Run(ctx, "t-end", wfState{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != StatusCompleted {
			t.Fatalf("want completed, got %s", res.Status)
		}
		if atomic.LoadInt32(published) != 0 {
			t.Error("publish must be skipped when routed to end")
		}
	})

	t.Run("route to declared target continues", func(t *testing.T) {
		eng, published := newRoutedEngine(t, func(s wfState) string { return "publish" })
		res, err := eng.Run(ctx, "t-pub", wfState{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != StatusCompleted || atomic.LoadInt32(published) != 1 {
			t.Errorf("want publish to run once, got status %s runs %d", res.Status, *published)
		}
	})

	t.Run("undeclared target aborts", func(t *testing.T) {
		eng, _ := newRoutedEngine(t, func(s wfState) string { return "typo_node" })
		_, err := eng.Run(ctx, "t-typo", wfState{})
		if !errors.Is(err, ErrUnknownRouteTarget) {
			t.Fatalf("want ErrUnknownRouteTarget, got %v", err)
		}
	})

	t.Run("routing loop hits the step cap", func(t *testing.T) {
		cs, err := NewConfigStore([]NodeConfig{{ID: "spin", Enabled: true}})
		if err != nil {
			t.Fatalf("NewConfigStore: %v", err)
		}
		eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{MaxSteps: 5})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		eng.Register("spin", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
			return wfState{}, nil
		})
		if err := eng.AddRoute(RouteTable[wfState]{
			At:      "spin",
			Route:   func(s wfState) string { return "spin" },
			Targets: []string{"spin"},
		}); err != nil {
			t.Fatalf("AddRoute: %v", err)
		}
		if err := eng.Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
		_, err = eng.Run(ctx, "t-spin", wfState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeMaxSteps {
			t.Fatalf("want max steps error, got %v", err)
		}
	})
}

func TestEngineFailureCaptureEndToEnd(t *testing.T) {
	ctx := context.Background()
	cs, err := NewConfigStore([]NodeConfig{
		{ID: "broken", Enabled: true},
		{ID: "after", Enabled: true, DependsOn: []string{"broken"}},
	})
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}
	eng, err := New(cs, wfReduce, wfFailure, store.NewMemStore[wfState](), nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Register("broken", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		return wfState{}, errors.New("upstream 500")
	})
	var sawError bool
	eng.Register("after", func(ctx context.Context, s wfState, cfg NodeConfig) (wfState, error) {
		_, sawError = s.Errors["broken"]
		return wfState{}, nil
	})
	if err := eng.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	res, err := eng.Run(ctx, "t-fail", wfState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("node failure must not abort the run, got %s", res.Status)
	}
	if !sawError {
		t.Error("downstream node must observe the captured failure")
	}
}
