package briefing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deniel666/news-agent-maya/engine"
	"github.com/deniel666/news-agent-maya/engine/store"
	"github.com/deniel666/news-agent-maya/model"
)

// scriptedChat routes on the system prompt so the concurrent synthesizers
// and the sequential compile/revise calls each get a sensible reply.
type scriptedChat struct {
	mu       sync.Mutex
	compiles int
}

func (c *scriptedChat) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	system := ""
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			system = m.Content
			break
		}
	}
	switch {
	case strings.Contains(system, "news desk editor"):
		return model.ChatOut{Text: "1: local\n2: business"}, nil
	case strings.Contains(system, "Assemble the full weekly"):
		c.mu.Lock()
		c.compiles++
		n := c.compiles
		c.mu.Unlock()
		return model.ChatOut{Text: fmt.Sprintf("Hello, I'm Maya. Draft %d.\nCAPTION: Week in review", n)}, nil
	case strings.Contains(system, "revision plan"):
		return model.ChatOut{Text: "Tighten the business segment."}, nil
	default:
		return model.ChatOut{Text: "Segment text."}, nil
	}
}

func (c *scriptedChat) compileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingNotifier) Notify(ctx context.Context, threadID, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

func newTestPipeline(t *testing.T) (*Pipeline, *scriptedChat, *recordingNotifier) {
	t.Helper()
	chat := &scriptedChat{}
	notifier := &recordingNotifier{}
	p, err := NewPipeline(Deps{
		Source: &fakeSource{items: []NewsItem{
			{SourceURL: "https://news.example/gst", SourceName: "CNA", Title: "Singapore announces new transport subsidies for families"},
			{SourceURL: "https://biz.example/merger", SourceName: "BT", Title: "Two regional banks confirm merger talks"},
			{SourceURL: "https://mirror.example/gst", SourceName: "Mirror", Title: "Singapore announces new transport subsidies for all families"},
		}},
		Chat:      chat,
		Video:     &fakeVideo{result: VideoResult{ID: "vid-1", URL: "https://video.example/vid-1", DurationSeconds: 92}},
		Publisher: &fakePublisher{results: map[string]string{"tiktok": "tt-1"}},
	}, Options{
		Store:     store.NewMemStore[State](),
		Notifiers: []Notifier{notifier},
	})
	require.NoError(t, err)
	return p, chat, notifier
}

func TestPipelineExecutionOrder(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	assert.Equal(t, [][]string{
		{"aggregate"},
		{"deduplicate"},
		{"categorize"},
		{"synthesize_ai", "synthesize_business", "synthesize_local"},
		{"compile_script"},
		{GateScriptReview},
		{"generate_video"},
		{GateVideoReview},
		{"publish"},
	}, p.ExecutionOrder())
}

func TestPipelineHappyPath(t *testing.T) {
	p, _, notifier := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.StartBriefing(ctx, 2026, 35, "en-SG")
	require.NoError(t, err)
	assert.Equal(t, "2026-W35-en-SG", res.ThreadID)
	assert.Equal(t, engine.StatusPaused, res.Status)
	assert.Equal(t, GateScriptReview, res.PausedAt)
	assert.Equal(t, StatusPendingScript, res.State.Status)
	require.NotNil(t, res.State.Script)
	assert.Equal(t, 1, res.State.Script.Version)
	assert.Equal(t, 1, notifier.count(), "reviewer pinged on pause")

	// Near-duplicate title was dropped before synthesis.
	assert.Len(t, res.State.Dropped, 1)
	assert.Equal(t, "local", res.State.Categories[res.State.NewsItems[0].ID])

	res, err = p.SubmitScriptReview(ctx, res.ThreadID, Review{Approved: true, ReviewerID: "editor-1"})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, res.Status)
	assert.Equal(t, GateVideoReview, res.PausedAt)
	assert.Equal(t, "https://video.example/vid-1", res.State.VideoURL)
	assert.Equal(t, 92, res.State.VideoSeconds)
	assert.Equal(t, 2, notifier.count())

	res, err = p.SubmitVideoReview(ctx, res.ThreadID, Review{Approved: true, ReviewerID: "editor-1"})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, StatusPublished, res.State.Status)
	assert.Equal(t, "tt-1", res.State.PostResults["tiktok"])

	log, err := p.DecisionLog(ctx, res.ThreadID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, GateScriptReview, log[0].GateID)
	assert.True(t, log[0].Approved)
	assert.Equal(t, 1, log[0].RevisionOfVersion)
	assert.Equal(t, GateVideoReview, log[1].GateID)
}

func TestPipelineScriptRevisionLoop(t *testing.T) {
	p, chat, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.StartBriefing(ctx, 2026, 36, "en-SG")
	require.NoError(t, err)
	require.Equal(t, engine.StatusPaused, res.Status)

	res, err = p.SubmitScriptReview(ctx, res.ThreadID, Review{
		Approved:    false,
		ReasonCodes: []string{"tone_too_casual"},
		Feedback:    "Too chatty for a news brief.",
		ReviewerID:  "editor-2",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, res.Status)
	assert.Equal(t, GateScriptReview, res.PausedAt, "rejection re-pauses at the script gate")
	assert.Equal(t, 2, res.State.Script.Version, "recompilation bumped the version")
	assert.Equal(t, 2, chat.compileCount())
	assert.Equal(t, "Tighten the business segment.", res.State.Metadata["revision_notes"])

	cp, err := p.Checkpoint(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Revisions[GateScriptReview])

	// Second draft passes.
	res, err = p.SubmitScriptReview(ctx, res.ThreadID, Review{Approved: true, ReviewerID: "editor-2"})
	require.NoError(t, err)
	assert.Equal(t, GateVideoReview, res.PausedAt)

	log, err := p.DecisionLog(ctx, res.ThreadID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.False(t, log[0].Approved)
	assert.Equal(t, []string{"tone_too_casual"}, log[0].ReasonCodes)
	assert.Equal(t, 1, log[0].RevisionOfVersion)
	assert.Equal(t, 2, log[1].RevisionOfVersion)
}

func TestPipelineRevisionBudgetExhausted(t *testing.T) {
	chat := &scriptedChat{}
	p, err := NewPipeline(Deps{
		Source:    &fakeSource{items: []NewsItem{{SourceURL: "https://news.example/1", Title: "One story"}}},
		Chat:      chat,
		Video:     &fakeVideo{},
		Publisher: &fakePublisher{},
	}, Options{MaxRevisions: 1})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := p.StartBriefing(ctx, 2026, 37, "en-SG")
	require.NoError(t, err)

	reject := Review{Approved: false, Feedback: "no"}
	res, err = p.SubmitScriptReview(ctx, res.ThreadID, reject)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, res.Status, "one revision allowed")

	res, err = p.SubmitScriptReview(ctx, res.ThreadID, reject)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusTerminated, res.Status, "budget spent, thread ends")

	_, err = p.SubmitScriptReview(ctx, res.ThreadID, Review{Approved: true})
	assert.ErrorIs(t, err, engine.ErrInvalidResumeState)
}

func TestPipelineVideoRejectionTerminates(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.StartBriefing(ctx, 2026, 38, "en-SG")
	require.NoError(t, err)
	res, err = p.SubmitScriptReview(ctx, res.ThreadID, Review{Approved: true})
	require.NoError(t, err)
	require.Equal(t, GateVideoReview, res.PausedAt)

	res, err = p.SubmitVideoReview(ctx, res.ThreadID, Review{
		Approved:    false,
		ReasonCodes: []string{"avatar_glitch"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusTerminated, res.Status, "no video revision loop")
}

func TestPipelineDuplicateWeekRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.StartBriefing(ctx, 2026, 39, "en-SG")
	require.NoError(t, err)
	_, err = p.StartBriefing(ctx, 2026, 39, "en-SG")
	assert.ErrorIs(t, err, engine.ErrThreadExists)

	// A different language is a separate thread.
	_, err = p.StartBriefing(ctx, 2026, 39, "zh-SG")
	require.NoError(t, err)

	threads, err := p.Threads(ctx)
	require.NoError(t, err)
	assert.Len(t, threads, 2)
}

func TestPipelineDisabledNodeIsSkipped(t *testing.T) {
	configs := DefaultConfigs()
	for i := range configs {
		if configs[i].ID == "deduplicate" {
			configs[i].Enabled = false
		}
	}
	chat := &scriptedChat{}
	p, err := NewPipeline(Deps{
		Source: &fakeSource{items: []NewsItem{
			{SourceURL: "https://news.example/a", Title: "Singapore announces new transport subsidies for families"},
			{SourceURL: "https://news.example/b", Title: "Singapore announces new transport subsidies for all families"},
		}},
		Chat:      chat,
		Video:     &fakeVideo{},
		Publisher: &fakePublisher{},
	}, Options{Configs: configs})
	require.NoError(t, err)

	res, err := p.StartBriefing(context.Background(), 2026, 40, "en-SG")
	require.NoError(t, err)
	assert.Empty(t, res.State.Dropped, "deduplication off, nothing dropped")
	assert.Equal(t, engine.StatusPaused, res.Status, "run still reaches the script gate")
}
