package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deniel666/news-agent-maya/engine/emit"
)

// DefaultNodeTimeout is applied to nodes whose configuration declares no
// timeout.
const DefaultNodeTimeout = 120 * time.Second

// Registry holds the node handlers and executes them under the policy the
// configuration declares: per-node timeout, failure capture, and disabled
// skipping. A handler failure never propagates as an error; it is turned
// into a state delta by the workflow's FailureFunc so downstream nodes can
// react to it.
type Registry[S any] struct {
	mu       sync.RWMutex
	handlers map[string]Handler[S]

	configs        *ConfigStore
	reducer        Reducer[S]
	failure        FailureFunc[S]
	emitter        emit.Emitter
	metrics        *Metrics
	defaultTimeout time.Duration
}

// NewRegistry builds an empty registry. reducer and failure must be
// non-nil; emitter and metrics may be nil.
func NewRegistry[S any](configs *ConfigStore, reducer Reducer[S], failure FailureFunc[S], emitter emit.Emitter, metrics *Metrics, defaultTimeout time.Duration) *Registry[S] {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultNodeTimeout
	}
	return &Registry[S]{
		handlers:       make(map[string]Handler[S]),
		configs:        configs,
		reducer:        reducer,
		failure:        failure,
		emitter:        emitter,
		metrics:        metrics,
		defaultTimeout: defaultTimeout,
	}
}

// Register binds a handler to a node ID, replacing any previous binding.
// Re-registration is how hot handler swaps work, so it is not an error.
func (r *Registry[S]) Register(id string, h Handler[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
}

// Registered reports whether a handler is bound to the ID.
func (r *Registry[S]) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// List returns the registered node IDs sorted.
func (r *Registry[S]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Execute runs a single node and returns its delta. Handler errors, panics
// and timeouts are captured into the returned delta via the FailureFunc;
// the only error Execute itself returns is a missing handler, which is a
// structural problem the run cannot recover from.
//
// A disabled node returns the zero delta without running. overrides, when
// non-nil, are merged shallowly into the node's base configuration for this
// call only; an override can disable a node per run, or re-enable one the
// stored configuration disables.
func (r *Registry[S]) Execute(ctx context.Context, threadID string, stage int, id string, state S, overrides map[string]any) (S, error) {
	var zero S

	cfg, hasCfg := r.configs.Get(id)
	if !hasCfg {
		// Nodes without a declaration run with defaults. This covers
		// revision nodes wired directly off a gate.
		cfg = NodeConfig{ID: id, Enabled: true}
	}
	cfg = applyOverrides(cfg, overrides)
	if !cfg.Enabled {
		return zero, nil
	}

	r.mu.RLock()
	h, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("execute %q: %w", id, ErrNodeNotFound)
	}

	timeout := cfg.Timeout(r.defaultTimeout)
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.metrics.nodeStarted()
	start := time.Now()
	r.emit(emit.Event{ThreadID: threadID, Stage: stage, NodeID: id, Msg: "node_start"})

	type outcome struct {
		delta S
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: &NodeError{
					NodeID:  id,
					Code:    CodeNodePanic,
					Message: fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()),
				}}
			}
		}()
		delta, err := h(nodeCtx, state, cfg)
		if err != nil {
			err = &NodeError{NodeID: id, Code: CodeNodeError, Message: err.Error(), Cause: err}
		}
		ch <- outcome{delta: delta, err: err}
	}()

	var res outcome
	select {
	case res = <-ch:
	case <-nodeCtx.Done():
		res = outcome{err: &NodeError{
			NodeID:  id,
			Code:    CodeNodeTimeout,
			Message: fmt.Sprintf("exceeded %s", timeout),
			Cause:   nodeCtx.Err(),
		}}
	}

	elapsed := time.Since(start)
	r.metrics.nodeFinished()
	r.metrics.observeNode(id, elapsed, res.err == nil)

	meta := map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
		"success":     res.err == nil,
	}
	if res.err != nil {
		meta["error"] = res.err.Error()
	}
	r.emit(emit.Event{ThreadID: threadID, Stage: stage, NodeID: id, Msg: "node_end", Meta: meta})

	if res.err != nil {
		return r.failure(id, res.err), nil
	}
	return res.delta, nil
}

// ExecuteMany runs a stage of sibling nodes concurrently and merges their
// deltas. A sibling failure is captured into its own delta and does not
// cancel the others, so one slow or broken synthesizer cannot take down
// the stage.
//
// Deltas merge in ascending node-ID order regardless of completion order,
// which keeps the merged state deterministic even when two siblings write
// overlapping fields.
func (r *Registry[S]) ExecuteMany(ctx context.Context, threadID string, stage int, ids []string, state S, overrides Overrides) (S, error) {
	var zero S
	if len(ids) == 0 {
		return zero, nil
	}

	ordered := make([]string, len(ids))
	copy(ordered, ids)
	sort.Strings(ordered)

	deltas := make([]S, len(ordered))
	var g errgroup.Group
	for i, id := range ordered {
		g.Go(func() error {
			delta, err := r.Execute(ctx, threadID, stage, id, state, overrides[id])
			if err != nil {
				return err
			}
			deltas[i] = delta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	merged := zero
	for _, delta := range deltas {
		merged = r.reducer(merged, delta)
	}
	return merged, nil
}

func (r *Registry[S]) emit(ev emit.Event) {
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}
