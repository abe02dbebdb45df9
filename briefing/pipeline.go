package briefing

import (
	"context"
	"fmt"
	"time"

	"github.com/deniel666/news-agent-maya/engine"
	"github.com/deniel666/news-agent-maya/engine/emit"
	"github.com/deniel666/news-agent-maya/engine/store"
)

// Gate node IDs.
const (
	GateScriptReview = "script_review"
	GateVideoReview  = "video_review"
)

// DefaultMaxRevisions bounds the script revision loop.
const DefaultMaxRevisions = 3

// Notifier pings a human reviewer when a gate pauses. Implementations are
// fire-and-forget; failures are logged by the engine, never fatal.
type Notifier interface {
	Notify(ctx context.Context, threadID, subject, body string) error
}

// Options configures pipeline assembly. Zero values select sane defaults:
// in-memory checkpoints, null emitter, the built-in node table.
type Options struct {
	Store        store.Store[State]
	Emitter      emit.Emitter
	Metrics      *engine.Metrics
	Configs      []engine.NodeConfig
	Notifiers    []Notifier
	MaxRevisions int
}

// Pipeline is the weekly briefing workflow. It owns its engine, registry,
// and checkpoint store; construct one per process and share it.
type Pipeline struct {
	eng       *engine.Engine[State]
	configs   *engine.ConfigStore
	notifiers []Notifier
}

// DefaultConfigs returns the built-in node table: dependency layout,
// timeouts, and per-node parameters for the standard weekly run.
func DefaultConfigs() []engine.NodeConfig {
	return []engine.NodeConfig{
		{
			ID: "aggregate", Name: "News Aggregator", Type: engine.TypeAggregator,
			Enabled: true, TimeoutSeconds: 120, MaxItems: 100,
			Params: map[string]any{"lookback_days": 7},
		},
		{
			ID: "deduplicate", Name: "Article Deduplicator", Type: engine.TypeProcessor,
			Enabled: true, TimeoutSeconds: 30, DependsOn: []string{"aggregate"},
			Params: map[string]any{"similarity_threshold": 0.85},
		},
		{
			ID: "categorize", Name: "Article Categorizer", Type: engine.TypeAnalyzer,
			Enabled: true, TimeoutSeconds: 180, MaxItems: 50, DependsOn: []string{"deduplicate"},
			Params: map[string]any{"categories": []string{"local", "business", "ai_tech"}},
			LLM:    &engine.LLMConfig{Model: "gpt-4o-mini", Temperature: 0.3},
		},
		{
			ID: "synthesize_local", Name: "Local News Synthesizer", Type: engine.TypeSynthesizer,
			Enabled: true, TimeoutSeconds: 120, MaxItems: 10, DependsOn: []string{"categorize"},
			Params: map[string]any{"category": "local"},
			LLM:    &engine.LLMConfig{Model: "gpt-4o", Temperature: 0.7},
		},
		{
			ID: "synthesize_business", Name: "Business News Synthesizer", Type: engine.TypeSynthesizer,
			Enabled: true, TimeoutSeconds: 120, MaxItems: 10, DependsOn: []string{"categorize"},
			Params: map[string]any{"category": "business"},
			LLM:    &engine.LLMConfig{Model: "gpt-4o", Temperature: 0.7},
		},
		{
			ID: "synthesize_ai", Name: "AI & Tech Synthesizer", Type: engine.TypeSynthesizer,
			Enabled: true, TimeoutSeconds: 120, MaxItems: 10, DependsOn: []string{"categorize"},
			Params: map[string]any{"category": "ai_tech"},
			LLM:    &engine.LLMConfig{Model: "gpt-4o", Temperature: 0.7},
		},
		{
			ID: "compile_script", Name: "Script Assembler", Type: engine.TypeSynthesizer,
			Enabled: true, TimeoutSeconds: 60,
			DependsOn: []string{"synthesize_local", "synthesize_business", "synthesize_ai"},
			LLM:       &engine.LLMConfig{Model: "gpt-4o", Temperature: 0.9},
		},
		{
			ID: "revise_script", Name: "Script Reviser", Type: engine.TypeProcessor,
			Enabled: true, TimeoutSeconds: 60,
			LLM: &engine.LLMConfig{Model: "gpt-4o", Temperature: 0.7},
		},
		{
			ID: GateScriptReview, Name: "Script Approval Gate", Type: engine.TypeGate,
			Enabled: true, TimeoutSeconds: 86400, DependsOn: []string{"compile_script"},
		},
		{
			ID: "generate_video", Name: "Video Generator", Type: engine.TypePublisher,
			Enabled: true, TimeoutSeconds: 600, DependsOn: []string{GateScriptReview},
			Params: map[string]any{
				"aspect_ratio":     "9:16",
				"background_color": "#1a1a2e",
				"max_wait_seconds": 600,
			},
		},
		{
			ID: GateVideoReview, Name: "Video Approval Gate", Type: engine.TypeGate,
			Enabled: true, TimeoutSeconds: 86400, DependsOn: []string{"generate_video"},
		},
		{
			ID: "publish", Name: "Social Publisher", Type: engine.TypePublisher,
			Enabled: true, TimeoutSeconds: 120, DependsOn: []string{GateVideoReview},
			Params: map[string]any{"platforms": []string{"instagram", "tiktok", "youtube", "linkedin"}},
		},
	}
}

// NewPipeline assembles the briefing workflow: node table, handler
// registration, the two review gates, and graph compilation.
func NewPipeline(deps Deps, opts Options) (*Pipeline, error) {
	nodeConfigs := opts.Configs
	if nodeConfigs == nil {
		nodeConfigs = DefaultConfigs()
	}
	cs, err := engine.NewConfigStore(nodeConfigs)
	if err != nil {
		return nil, err
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemStore[State]()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	maxRevisions := opts.MaxRevisions
	if maxRevisions == 0 {
		maxRevisions = DefaultMaxRevisions
	}

	eng, err := engine.New(cs, Reduce, Failure, st, emitter, opts.Metrics, engine.Options{
		MaxSteps:           100,
		DefaultNodeTimeout: 2 * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{eng: eng, configs: cs, notifiers: opts.Notifiers}
	h := &nodes{deps: deps}

	eng.Register("aggregate", h.aggregate)
	eng.Register("deduplicate", h.deduplicate)
	eng.Register("categorize", h.categorize)
	eng.Register("synthesize_local", h.synthesize)
	eng.Register("synthesize_business", h.synthesize)
	eng.Register("synthesize_ai", h.synthesize)
	eng.Register("compile_script", h.compileScript)
	eng.Register("revise_script", h.reviseScript)
	eng.Register("generate_video", h.generateVideo)
	eng.Register("publish", h.publish)

	if err := eng.AddGate(engine.Gate[State]{
		Node:         GateScriptReview,
		RevisionNode: "revise_script",
		ReentryNode:  "compile_script",
		MaxRevisions: maxRevisions,
		Notify:       p.notifyScriptReview,
	}); err != nil {
		return nil, err
	}
	if err := eng.AddGate(engine.Gate[State]{
		Node:   GateVideoReview,
		Notify: p.notifyVideoReview,
	}); err != nil {
		return nil, err
	}
	if err := eng.Compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// StartBriefing begins a new weekly run. Zero year/week default to the
// current ISO week. The run executes up to the script review gate and
// returns; approval arrives later through SubmitScriptReview.
func (p *Pipeline) StartBriefing(ctx context.Context, year, week int, language string) (engine.RunResult[State], error) {
	if year == 0 || week == 0 {
		year, week = time.Now().UTC().ISOWeek()
	}
	initial := NewInitialState(year, week, language)
	return p.eng.Run(ctx, initial.ThreadID, initial)
}

// Review is a structured gate decision.
type Review struct {
	Approved    bool
	ReasonCodes []string
	Feedback    string
	ReviewerID  string
}

// SubmitScriptReview applies a script review decision. Rejection with
// revision budget left regenerates the script and pauses at the gate
// again; once the budget is spent, the next rejection terminates the
// thread.
func (p *Pipeline) SubmitScriptReview(ctx context.Context, threadID string, review Review) (engine.RunResult[State], error) {
	return p.submitReview(ctx, threadID, GateScriptReview, review)
}

// SubmitVideoReview applies a video review decision. There is no video
// revision loop: rejection terminates the thread.
func (p *Pipeline) SubmitVideoReview(ctx context.Context, threadID string, review Review) (engine.RunResult[State], error) {
	return p.submitReview(ctx, threadID, GateVideoReview, review)
}

func (p *Pipeline) submitReview(ctx context.Context, threadID, gateID string, review Review) (engine.RunResult[State], error) {
	decision := engine.DecisionRecord{
		GateID:      gateID,
		Approved:    review.Approved,
		ReasonCodes: review.ReasonCodes,
		FreeText:    review.Feedback,
		ReviewerID:  review.ReviewerID,
	}
	if state, err := p.eng.GetState(ctx, threadID); err == nil && state.Script != nil {
		decision.RevisionOfVersion = state.Script.Version
	}
	return p.eng.Resume(ctx, threadID, decision, State{ReviewFeedback: review.Feedback})
}

// GetState returns the latest checkpointed state for a thread.
func (p *Pipeline) GetState(ctx context.Context, threadID string) (State, error) {
	return p.eng.GetState(ctx, threadID)
}

// Checkpoint returns the full checkpoint record, including pause point and
// revision counters.
func (p *Pipeline) Checkpoint(ctx context.Context, threadID string) (store.Checkpoint[State], error) {
	return p.eng.Checkpoint(ctx, threadID)
}

// DecisionLog returns every review decision for a thread in order.
func (p *Pipeline) DecisionLog(ctx context.Context, threadID string) ([]engine.DecisionRecord, error) {
	return p.eng.DecisionLog(ctx, threadID)
}

// Threads lists known briefing threads.
func (p *Pipeline) Threads(ctx context.Context) ([]string, error) {
	return p.eng.Threads(ctx)
}

// ExecutionOrder exposes the compiled stage layout for operators.
func (p *Pipeline) ExecutionOrder() [][]string {
	return p.eng.ExecutionOrder()
}

// Configs exposes the live node configuration store for operator tooling.
func (p *Pipeline) Configs() *engine.ConfigStore {
	return p.configs
}

func (p *Pipeline) notifyScriptReview(ctx context.Context, threadID string, s State) error {
	subject := fmt.Sprintf("Script review needed: %s", threadID)
	body := "A new briefing script is waiting for review."
	if s.Script != nil {
		body = fmt.Sprintf("Script v%d (~%ds spoken) is waiting for review.\n\n%s",
			s.Script.Version, s.Script.EstimatedSeconds, truncate(s.Script.Full, 1500))
	}
	return p.fanOut(ctx, threadID, subject, body)
}

func (p *Pipeline) notifyVideoReview(ctx context.Context, threadID string, s State) error {
	subject := fmt.Sprintf("Video review needed: %s", threadID)
	body := fmt.Sprintf("Video %s is ready for review: %s", s.VideoID, s.VideoURL)
	return p.fanOut(ctx, threadID, subject, body)
}

// fanOut sends the notification to every configured channel. The last
// error is reported for logging; earlier channels still get their send.
func (p *Pipeline) fanOut(ctx context.Context, threadID, subject, body string) error {
	var lastErr error
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, threadID, subject, body); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
