package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testState struct {
	Script   string   `json:"script"`
	Articles []string `json:"articles"`
}

func TestMemStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	cp := Checkpoint[testState]{
		ThreadID:   "2026-W35-en-SG",
		State:      testState{Script: "draft", Articles: []string{"a", "b"}},
		NextNodes:  []string{"generate_video"},
		StageIndex: 7,
		Status:     StatusRunning,
		Revisions:  map[string]int{"script_review": 1},
		UpdatedAt:  time.Now(),
	}
	if err := st.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := st.Load(ctx, "2026-W35-en-SG")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.State.Script != "draft" {
		t.Errorf("expected script 'draft', got %q", loaded.State.Script)
	}
	if len(loaded.NextNodes) != 1 || loaded.NextNodes[0] != "generate_video" {
		t.Errorf("unexpected next nodes: %v", loaded.NextNodes)
	}
	if loaded.Revisions["script_review"] != 1 {
		t.Errorf("unexpected revisions: %v", loaded.Revisions)
	}
}

func TestMemStore_LoadUnknownThread(t *testing.T) {
	st := NewMemStore[testState]()
	_, err := st.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_SaveReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	first := Checkpoint[testState]{
		ThreadID:  "t1",
		State:     testState{Script: "v1"},
		NextNodes: []string{"a", "b"},
		Status:    StatusRunning,
	}
	second := Checkpoint[testState]{
		ThreadID: "t1",
		State:    testState{Script: "v2"},
		Status:   StatusPaused,
		PausedAt: "script_review",
	}
	if err := st.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Save(ctx, second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := st.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.State.Script != "v2" {
		t.Errorf("expected replaced state, got %q", loaded.State.Script)
	}
	// Replace, not merge: the first checkpoint's NextNodes must be gone.
	if len(loaded.NextNodes) != 0 {
		t.Errorf("expected empty next nodes after replace, got %v", loaded.NextNodes)
	}
	if loaded.PausedAt != "script_review" {
		t.Errorf("expected paused_at carried, got %q", loaded.PausedAt)
	}
}

func TestMemStore_LoadReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	_ = st.Save(ctx, Checkpoint[testState]{
		ThreadID: "t1",
		State:    testState{Articles: []string{"a"}},
		Status:   StatusRunning,
	})

	loaded, _ := st.Load(ctx, "t1")
	loaded.State.Articles[0] = "mutated"

	again, _ := st.Load(ctx, "t1")
	if again.State.Articles[0] != "a" {
		t.Error("mutating a loaded checkpoint leaked into the store")
	}
}

func TestMemStore_DecisionLog(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	recs := []DecisionRecord{
		{ID: "d1", ThreadID: "t1", GateID: "script_review", Approved: false,
			ReasonCodes: []string{"tone_too_casual"}, DecidedAt: time.Now()},
		{ID: "d2", ThreadID: "t1", GateID: "script_review", Approved: true,
			DecidedAt: time.Now()},
	}
	for _, rec := range recs {
		if err := st.AppendDecision(ctx, rec); err != nil {
			t.Fatalf("AppendDecision failed: %v", err)
		}
	}

	log, err := st.Decisions(ctx, "t1")
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("expected 2 records, got %d", len(log))
	}
	if log[0].ID != "d1" || log[1].ID != "d2" {
		t.Errorf("decision log out of append order: %+v", log)
	}

	empty, err := st.Decisions(ctx, "unknown")
	if err != nil {
		t.Fatalf("Decisions for unknown thread failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty log for unknown thread, got %d", len(empty))
	}
}

func TestMemStore_Threads(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	_ = st.Save(ctx, Checkpoint[testState]{ThreadID: "t1", Status: StatusRunning})
	_ = st.Save(ctx, Checkpoint[testState]{ThreadID: "t2", Status: StatusPaused})

	ids, err := st.Threads(ctx)
	if err != nil {
		t.Fatalf("Threads failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 threads, got %v", ids)
	}
}
