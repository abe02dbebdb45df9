package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deniel666/news-agent-maya/engine/emit"
	"github.com/deniel666/news-agent-maya/engine/store"
)

// Options tunes run behavior.
type Options struct {
	// MaxSteps caps the number of stage executions in a single Run or
	// Resume call, including stages revisited through routing. Zero
	// means no cap.
	MaxSteps int

	// DefaultNodeTimeout applies to nodes without a configured timeout.
	DefaultNodeTimeout time.Duration
}

// Engine drives a configured workflow: it plans the stage order, executes
// stages through the registry, pauses at gates, and checkpoints after
// every stage so a process restart or a days-long review never loses
// progress.
//
// An Engine is built once (Register / AddGate / AddRoute, then Compile)
// and is then safe for concurrent runs of distinct threads. Two calls on
// the same thread ID serialize on a per-thread lock.
type Engine[S any] struct {
	registry *Registry[S]
	configs  *ConfigStore
	reducer  Reducer[S]
	store    store.Store[S]
	emitter  emit.Emitter
	metrics  *Metrics
	opts     Options

	gates  map[string]*Gate[S]
	routes map[string]*RouteTable[S]

	compiled bool
	stages   [][]string
	stageOf  map[string]int

	threadMu    sync.Mutex
	threadLocks map[string]*sync.Mutex
}

// New builds an engine. configs, reducer, failure and st must be non-nil;
// emitter and metrics are optional.
func New[S any](configs *ConfigStore, reducer Reducer[S], failure FailureFunc[S], st store.Store[S], emitter emit.Emitter, metrics *Metrics, opts Options) (*Engine[S], error) {
	if configs == nil {
		return nil, &EngineError{Message: "nil config store", Code: CodeBadConfig}
	}
	if reducer == nil {
		return nil, &EngineError{Message: "nil reducer", Code: CodeBadConfig}
	}
	if failure == nil {
		return nil, &EngineError{Message: "nil failure func", Code: CodeBadConfig}
	}
	if st == nil {
		return nil, &EngineError{Message: "nil checkpoint store", Code: CodeBadConfig}
	}
	return &Engine[S]{
		registry:    NewRegistry(configs, reducer, failure, emitter, metrics, opts.DefaultNodeTimeout),
		configs:     configs,
		reducer:     reducer,
		store:       st,
		emitter:     emitter,
		metrics:     metrics,
		opts:        opts,
		gates:       make(map[string]*Gate[S]),
		routes:      make(map[string]*RouteTable[S]),
		threadLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Register binds a node handler. See Registry.Register.
func (e *Engine[S]) Register(id string, h Handler[S]) {
	e.registry.Register(id, h)
}

// Registry exposes the node registry, mainly for inspection.
func (e *Engine[S]) Registry() *Registry[S] { return e.registry }

// AddGate declares an approval gate. The gate node must have a
// configuration; a gate with revision budget must name both its revision
// node and its re-entry node.
func (e *Engine[S]) AddGate(g Gate[S]) error {
	if g.Node == "" {
		return &EngineError{Message: "gate missing node", Code: CodeBadConfig}
	}
	if g.MaxRevisions > 0 && (g.RevisionNode == "" || g.ReentryNode == "") {
		return &EngineError{
			Message: fmt.Sprintf("gate %q has revision budget but no revision or reentry node", g.Node),
			Code:    CodeBadConfig,
		}
	}
	e.gates[g.Node] = &g
	e.compiled = false
	return nil
}

// AddRoute attaches a conditional edge. Targets must be declared up
// front; routing to an undeclared target at run time fails the run.
func (e *Engine[S]) AddRoute(rt RouteTable[S]) error {
	if rt.At == "" || rt.Route == nil || len(rt.Targets) == 0 {
		return &EngineError{Message: "route table missing node, function, or targets", Code: CodeBadConfig}
	}
	e.routes[rt.At] = &rt
	e.compiled = false
	return nil
}

// Compile plans the stage order from the current configuration and
// validates gates and routes against it. It must be called before Run and
// again after configuration, gate, or route changes.
//
// Gate nodes always occupy a stage of their own, even when the dependency
// layout would allow siblings, so a pause is always a clean stage
// boundary. Revision nodes are kept out of the plan; they run only inside
// a gate's rejection loop.
//
// Disabling a declared gate's node in configuration does not skip the
// gate: the planner drops the node, its stage disappears, and Compile
// fails with "gate not in execution plan". To remove an approval step,
// drop the gate declaration rather than flipping its node's enabled flag.
func (e *Engine[S]) Compile() error {
	exclude := make(map[string]bool)
	for _, g := range e.gates {
		if g.RevisionNode != "" {
			exclude[g.RevisionNode] = true
		}
	}

	planned, err := Plan(e.configs.snapshot(), exclude)
	if err != nil {
		return err
	}

	isGate := func(id string) bool {
		if _, ok := e.gates[id]; ok {
			return true
		}
		cfg, ok := e.configs.Get(id)
		return ok && cfg.Type == TypeGate
	}

	var stages [][]string
	for _, stage := range planned {
		var plain, gated []string
		for _, id := range stage {
			if isGate(id) {
				gated = append(gated, id)
			} else {
				plain = append(plain, id)
			}
		}
		if len(plain) > 0 {
			stages = append(stages, plain)
		}
		for _, id := range gated {
			stages = append(stages, []string{id})
		}
	}

	stageOf := make(map[string]int)
	for i, stage := range stages {
		for _, id := range stage {
			stageOf[id] = i
		}
	}

	for id, g := range e.gates {
		if _, ok := stageOf[id]; !ok {
			return &EngineError{Message: fmt.Sprintf("gate %q not in execution plan", id), Code: CodeBadConfig}
		}
		if g.ReentryNode != "" {
			if _, ok := stageOf[g.ReentryNode]; !ok {
				return &EngineError{Message: fmt.Sprintf("gate %q reentry node %q not in execution plan", id, g.ReentryNode), Code: CodeBadConfig}
			}
		}
	}

	routedStages := make(map[int]string)
	for id, rt := range e.routes {
		at, ok := stageOf[id]
		if !ok {
			return &EngineError{Message: fmt.Sprintf("route at %q not in execution plan", id), Code: CodeBadConfig}
		}
		if prev, dup := routedStages[at]; dup {
			return &EngineError{Message: fmt.Sprintf("routes at %q and %q share a stage", prev, id), Code: CodeBadConfig}
		}
		routedStages[at] = id
		for _, target := range rt.Targets {
			if target == RouteEnd {
				continue
			}
			if _, ok := stageOf[target]; !ok {
				return &EngineError{Message: fmt.Sprintf("route at %q targets unplanned node %q", id, target), Code: CodeBadConfig}
			}
		}
	}

	e.stages = stages
	e.stageOf = stageOf
	e.compiled = true
	return nil
}

// ExecutionOrder returns the compiled stage layout. The result is a copy;
// it is the operator-facing view of what will run and in what order.
func (e *Engine[S]) ExecutionOrder() [][]string {
	out := make([][]string, len(e.stages))
	for i, stage := range e.stages {
		out[i] = append([]string(nil), stage...)
	}
	return out
}

// Run starts a new thread from the first stage. Starting a thread ID that
// already has a checkpoint is an error; use Resume to continue a paused
// thread.
func (e *Engine[S]) Run(ctx context.Context, threadID string, initial S) (RunResult[S], error) {
	return e.RunWith(ctx, threadID, initial, nil)
}

// RunWith starts a new thread with request-scoped configuration overrides.
// Each node's effective configuration is its base configuration with the
// node's override map merged shallowly; the stored configuration is never
// modified. Overrides last until the run pauses or finishes and are not
// carried into a later Resume.
//
// Overrides do not replan the stage order: a node the stored configuration
// disables stays out of the plan even if an override re-enables it.
func (e *Engine[S]) RunWith(ctx context.Context, threadID string, initial S, overrides Overrides) (RunResult[S], error) {
	fail := RunResult[S]{ThreadID: threadID, Status: StatusFailed}
	if !e.compiled {
		return fail, ErrNotCompiled
	}
	if threadID == "" {
		return fail, &EngineError{Message: "empty thread id", Code: CodeBadConfig}
	}

	unlock := e.lockThread(threadID)
	defer unlock()

	_, err := e.store.Load(ctx, threadID)
	switch {
	case err == nil:
		return fail, fmt.Errorf("thread %q: %w", threadID, ErrThreadExists)
	case !errors.Is(err, store.ErrNotFound):
		return fail, err
	}

	e.emit(emit.Event{ThreadID: threadID, Stage: -1, Msg: "run_start"})
	if err := e.saveCheckpoint(ctx, store.Checkpoint[S]{
		ThreadID:   threadID,
		State:      initial,
		NextNodes:  e.nextNodes(0),
		StageIndex: 0,
		Status:     store.StatusRunning,
	}); err != nil {
		return fail, err
	}
	return e.runFrom(ctx, threadID, initial, 0, make(map[string]int), 0, overrides)
}

// Resume applies a gate decision to a paused thread. The decision is
// appended to the audit log before any execution continues, so a crash
// mid-resume never loses the reviewer's verdict.
//
// On approval the run continues from the stage after the gate. On
// rejection with budget remaining, the gate's revision node runs with the
// patched state and execution re-enters at the gate's re-entry node; a
// rejection past the budget terminates the thread.
func (e *Engine[S]) Resume(ctx context.Context, threadID string, decision DecisionRecord, patch S) (RunResult[S], error) {
	fail := RunResult[S]{ThreadID: threadID, Status: StatusFailed}
	if !e.compiled {
		return fail, ErrNotCompiled
	}

	unlock := e.lockThread(threadID)
	defer unlock()

	cp, err := e.store.Load(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return fail, fmt.Errorf("thread %q not found: %w", threadID, ErrInvalidResumeState)
	}
	if err != nil {
		return fail, err
	}
	if cp.Status != store.StatusPaused || cp.PausedAt == "" {
		return fail, fmt.Errorf("thread %q is %s, not paused: %w", threadID, cp.Status, ErrInvalidResumeState)
	}
	if decision.GateID != "" && decision.GateID != cp.PausedAt {
		return fail, fmt.Errorf("thread %q paused at %q, decision targets %q: %w",
			threadID, cp.PausedAt, decision.GateID, ErrInvalidResumeState)
	}
	gate, ok := e.gates[cp.PausedAt]
	if !ok {
		return fail, &EngineError{Message: fmt.Sprintf("no gate declared for %q", cp.PausedAt), Code: CodeBadConfig}
	}

	decision.ThreadID = threadID
	decision.GateID = cp.PausedAt
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	if err := e.store.AppendDecision(ctx, decision); err != nil {
		return fail, err
	}

	e.metrics.threadResumed()
	state := e.reducer(cp.State, patch)
	revisions := make(map[string]int, len(cp.Revisions))
	for k, v := range cp.Revisions {
		revisions[k] = v
	}
	gateStage := e.stageOf[gate.Node]
	e.emit(emit.Event{ThreadID: threadID, Stage: gateStage, NodeID: gate.Node, Msg: "gate_resumed",
		Meta: map[string]interface{}{"gate": gate.Node, "approved": decision.Approved}})

	if decision.Approved {
		return e.runFrom(ctx, threadID, state, gateStage+1, revisions, 0, nil)
	}

	if revisions[gate.Node] >= gate.MaxRevisions {
		cp := store.Checkpoint[S]{
			ThreadID:   threadID,
			State:      state,
			StageIndex: gateStage,
			Status:     store.StatusTerminated,
			Revisions:  revisions,
		}
		if err := e.saveCheckpoint(ctx, cp); err != nil {
			return fail, err
		}
		e.metrics.runFinished(store.StatusTerminated)
		e.emit(emit.Event{ThreadID: threadID, Stage: gateStage, NodeID: gate.Node, Msg: "run_terminated",
			Meta: map[string]interface{}{"gate": gate.Node, "revisions": revisions[gate.Node]}})
		return RunResult[S]{ThreadID: threadID, State: state, Status: StatusTerminated}, nil
	}

	revisions[gate.Node]++
	e.metrics.revisionLooped(gate.Node)
	e.emit(emit.Event{ThreadID: threadID, Stage: gateStage, NodeID: gate.Node, Msg: "revision_loop",
		Meta: map[string]interface{}{"gate": gate.Node, "revisions": revisions[gate.Node]}})

	if gate.RevisionNode != "" {
		delta, err := e.registry.Execute(ctx, threadID, gateStage, gate.RevisionNode, state, nil)
		if err != nil {
			return fail, err
		}
		state = e.reducer(state, delta)
	}
	return e.runFrom(ctx, threadID, state, e.stageOf[gate.ReentryNode], revisions, 0, nil)
}

// GetState returns the latest checkpointed state for a thread.
func (e *Engine[S]) GetState(ctx context.Context, threadID string) (S, error) {
	cp, err := e.store.Load(ctx, threadID)
	if err != nil {
		var zero S
		return zero, err
	}
	return cp.State, nil
}

// Checkpoint returns the full checkpoint record for a thread, including
// status, pause point, and revision counters.
func (e *Engine[S]) Checkpoint(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	return e.store.Load(ctx, threadID)
}

// DecisionLog returns the gate decisions recorded for a thread in
// chronological order.
func (e *Engine[S]) DecisionLog(ctx context.Context, threadID string) ([]DecisionRecord, error) {
	return e.store.Decisions(ctx, threadID)
}

// Threads lists the thread IDs known to the checkpoint store.
func (e *Engine[S]) Threads(ctx context.Context) ([]string, error) {
	return e.store.Threads(ctx)
}

func (e *Engine[S]) runFrom(ctx context.Context, threadID string, state S, startStage int, revisions map[string]int, steps int, overrides Overrides) (RunResult[S], error) {
	fail := RunResult[S]{ThreadID: threadID, State: state, Status: StatusFailed}

	i := startStage
	for i < len(e.stages) {
		steps++
		if e.opts.MaxSteps > 0 && steps > e.opts.MaxSteps {
			return fail, &EngineError{
				Message: fmt.Sprintf("thread %q exceeded %d steps", threadID, e.opts.MaxSteps),
				Code:    CodeMaxSteps,
			}
		}
		if err := ctx.Err(); err != nil {
			// The last checkpoint stays intact, so nothing is lost.
			return fail, err
		}

		stage := e.stages[i]
		if gate := e.gateAt(stage); gate != nil {
			cp := store.Checkpoint[S]{
				ThreadID:   threadID,
				State:      state,
				StageIndex: i,
				PausedAt:   gate.Node,
				Status:     store.StatusPaused,
				Revisions:  revisions,
			}
			if err := e.saveCheckpoint(ctx, cp); err != nil {
				return fail, err
			}
			e.metrics.threadPaused()
			e.emit(emit.Event{ThreadID: threadID, Stage: i, NodeID: gate.Node, Msg: "gate_paused",
				Meta: map[string]interface{}{"gate": gate.Node}})
			e.notify(ctx, gate, threadID, state)
			return RunResult[S]{ThreadID: threadID, State: state, Status: StatusPaused, PausedAt: gate.Node}, nil
		}

		delta, err := e.registry.ExecuteMany(ctx, threadID, i, stage, state, overrides)
		if err != nil {
			return fail, err
		}
		state = e.reducer(state, delta)
		fail.State = state
		e.metrics.stageExecuted()
		e.emit(emit.Event{ThreadID: threadID, Stage: i, Msg: "stage_end"})

		next := i + 1
		if rt := e.routeAt(stage); rt != nil {
			target := rt.Route(state)
			if !rt.allows(target) {
				return fail, fmt.Errorf("route at %q returned %q: %w", rt.At, target, ErrUnknownRouteTarget)
			}
			if target == RouteEnd {
				next = len(e.stages)
			} else {
				next = e.stageOf[target]
			}
		}

		if next >= len(e.stages) {
			break
		}
		cp := store.Checkpoint[S]{
			ThreadID:   threadID,
			State:      state,
			NextNodes:  e.nextNodes(next),
			StageIndex: next,
			Status:     store.StatusRunning,
			Revisions:  revisions,
		}
		if err := e.saveCheckpoint(ctx, cp); err != nil {
			return fail, err
		}
		i = next
	}

	cp := store.Checkpoint[S]{
		ThreadID:   threadID,
		State:      state,
		StageIndex: len(e.stages),
		Status:     store.StatusCompleted,
		Revisions:  revisions,
	}
	if err := e.saveCheckpoint(ctx, cp); err != nil {
		return fail, err
	}
	e.metrics.runFinished(store.StatusCompleted)
	e.emit(emit.Event{ThreadID: threadID, Stage: -1, Msg: "run_completed"})
	return RunResult[S]{ThreadID: threadID, State: state, Status: StatusCompleted}, nil
}

func (e *Engine[S]) gateAt(stage []string) *Gate[S] {
	if len(stage) != 1 {
		return nil
	}
	return e.gates[stage[0]]
}

func (e *Engine[S]) routeAt(stage []string) *RouteTable[S] {
	for _, id := range stage {
		if rt, ok := e.routes[id]; ok {
			return rt
		}
	}
	return nil
}

func (e *Engine[S]) nextNodes(stage int) []string {
	if stage < 0 || stage >= len(e.stages) {
		return nil
	}
	return append([]string(nil), e.stages[stage]...)
}

func (e *Engine[S]) notify(ctx context.Context, gate *Gate[S], threadID string, state S) {
	if gate.Notify == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.emit(emit.Event{ThreadID: threadID, Stage: -1, NodeID: gate.Node, Msg: "gate_notify_failed",
				Meta: map[string]interface{}{"gate": gate.Node, "error": fmt.Sprint(rec)}})
		}
	}()
	if err := gate.Notify(ctx, threadID, state); err != nil {
		e.emit(emit.Event{ThreadID: threadID, Stage: -1, NodeID: gate.Node, Msg: "gate_notify_failed",
			Meta: map[string]interface{}{"gate": gate.Node, "error": err.Error()}})
	}
}

func (e *Engine[S]) saveCheckpoint(ctx context.Context, cp store.Checkpoint[S]) error {
	cp.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, cp); err != nil {
		return err
	}
	e.metrics.checkpointSaved()
	e.emit(emit.Event{ThreadID: cp.ThreadID, Stage: cp.StageIndex, Msg: "checkpoint_saved",
		Meta: map[string]interface{}{"status": string(cp.Status)}})
	return nil
}

func (e *Engine[S]) lockThread(threadID string) func() {
	e.threadMu.Lock()
	mu, ok := e.threadLocks[threadID]
	if !ok {
		mu = &sync.Mutex{}
		e.threadLocks[threadID] = mu
	}
	e.threadMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine[S]) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
