package briefing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deniel666/news-agent-maya/engine"
	"github.com/deniel666/news-agent-maya/model"
)

// NewsSource fetches candidate articles for a briefing. Implementations
// live in the services package; the pipeline only needs the items.
type NewsSource interface {
	Fetch(ctx context.Context, lookbackDays, maxItems int) ([]NewsItem, error)
}

// VideoRequest describes an avatar video to render.
type VideoRequest struct {
	Script          string
	Caption         string
	AspectRatio     string
	BackgroundColor string
	MaxWait         time.Duration
}

// VideoResult is the rendered video.
type VideoResult struct {
	ID              string
	URL             string
	DurationSeconds int
}

// VideoGenerator renders the approved script into an avatar video.
type VideoGenerator interface {
	Generate(ctx context.Context, req VideoRequest) (VideoResult, error)
}

// Post is a finished briefing ready for social distribution.
type Post struct {
	VideoURL  string
	Caption   string
	Platforms []string
}

// SocialPublisher distributes the video and returns per-platform results.
type SocialPublisher interface {
	Publish(ctx context.Context, post Post) (map[string]string, error)
}

// Deps are the external collaborators the node handlers call. Chat covers
// every LLM-backed node; swap in model.WithFallback for resilience.
type Deps struct {
	Source    NewsSource
	Chat      model.ChatModel
	Video     VideoGenerator
	Publisher SocialPublisher
}

// nodes holds the handler implementations bound to their collaborators.
type nodes struct {
	deps Deps
}

// aggregate fetches this week's articles from the configured sources.
func (n *nodes) aggregate(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	lookback := cfg.ParamInt("lookback_days", 7)
	maxItems := cfg.MaxItems
	if maxItems == 0 {
		maxItems = 100
	}
	items, err := n.deps.Source.Fetch(ctx, lookback, maxItems)
	if err != nil {
		return State{}, err
	}
	now := time.Now().UTC()
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].FetchedAt.IsZero() {
			items[i].FetchedAt = now
		}
		if items[i].Reliability == "" {
			items[i].Reliability = TierUnknown
		}
	}
	return State{
		NewsItems: items,
		Metadata:  map[string]string{"aggregated_count": strconv.Itoa(len(items))},
	}, nil
}

// deduplicate marks near-duplicate articles as dropped. Items are never
// removed from state; exclusion goes through the Dropped map so the merge
// stays idempotent.
func (n *nodes) deduplicate(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	threshold := cfg.ParamFloat("similarity_threshold", 0.85)
	dropped := make(map[string]string)

	type seenTitle struct {
		id    string
		words map[string]bool
	}
	var seen []seenTitle
	for _, it := range s.NewsItems {
		words := titleWords(it.Title)
		duplicateOf := ""
		for _, prev := range seen {
			if titleSimilarity(prev.words, words) >= threshold {
				duplicateOf = prev.id
				break
			}
		}
		if duplicateOf != "" {
			dropped[it.ID] = "duplicate of " + duplicateOf
			continue
		}
		seen = append(seen, seenTitle{id: it.ID, words: words})
	}
	return State{
		Dropped:  dropped,
		Metadata: map[string]string{"duplicates_removed": strconv.Itoa(len(dropped))},
	}, nil
}

// categorize asks the model to sort surviving articles into segments.
func (n *nodes) categorize(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	items := s.ActiveItems("")
	if max := cfg.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
	}
	if len(items) == 0 {
		return State{Status: StatusSynthesizing}, nil
	}

	reply, err := model.Complete(ctx, n.deps.Chat, categorizeSystem, categorizePrompt(items))
	if err != nil {
		return State{}, err
	}

	allowed := map[string]bool{}
	for _, c := range cfg.ParamStrings("categories", []string{"local", "business", "ai_tech"}) {
		allowed[c] = true
	}
	categories := make(map[string]string, len(items))
	for _, line := range strings.Split(reply, "\n") {
		idx, category, ok := parseCategoryLine(line)
		if !ok || idx < 1 || idx > len(items) {
			continue
		}
		if allowed[category] {
			categories[items[idx-1].ID] = category
		}
	}
	// Anything the model skipped lands in the local segment.
	for _, it := range items {
		if _, ok := categories[it.ID]; !ok {
			categories[it.ID] = "local"
		}
	}
	return State{Categories: categories, Status: StatusSynthesizing}, nil
}

// synthesize writes one segment's script. The segment is selected by the
// node's "category" parameter, so the three synthesizers share one handler.
func (n *nodes) synthesize(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	category := cfg.ParamString("category", "local")
	items := s.ActiveItems(category)
	max := cfg.MaxItems
	if max == 0 {
		max = 10
	}
	if len(items) > max {
		items = items[:max]
	}
	if len(items) == 0 {
		return State{Segments: map[string]string{category: ""}}, nil
	}

	text, err := model.Complete(ctx, n.deps.Chat, synthesizeSystem(category), synthesizePrompt(category, items))
	if err != nil {
		return State{}, err
	}

	// One fact per covered story keeps the chain of custody: every
	// segment claim traces to a news item.
	facts := make([]Fact, 0, len(items))
	for _, it := range items {
		f := NewFact(it.ID, it.Title)
		f.Confidence = it.Confidence
		facts = append(facts, f)
	}
	return State{
		Segments: map[string]string{category: strings.TrimSpace(text)},
		Facts:    facts,
	}, nil
}

// compileScript assembles the full script and caption from the segments.
// Recompilation after a rejected review bumps the version.
func (n *nodes) compileScript(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	reply, err := model.Complete(ctx, n.deps.Chat, compileSystem, compilePrompt(s))
	if err != nil {
		return State{}, err
	}
	full, caption := splitCaption(reply)

	version := 1
	if s.Script != nil {
		version = s.Script.Version + 1
	}
	script := &Script{
		Version:          version,
		ReviewStatus:     "pending_review",
		Full:             full,
		Caption:          caption,
		EstimatedSeconds: estimateSpokenSeconds(full),
		CreatedAt:        time.Now().UTC(),
	}
	return State{Script: script, Status: StatusPendingScript}, nil
}

// reviseScript turns reviewer feedback into a concrete revision plan that
// the next compilation consumes.
func (n *nodes) reviseScript(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	plan, err := model.Complete(ctx, n.deps.Chat, reviseSystem, revisePrompt(s))
	if err != nil {
		return State{}, err
	}
	return State{Metadata: map[string]string{"revision_notes": strings.TrimSpace(plan)}}, nil
}

// generateVideo renders the approved script.
func (n *nodes) generateVideo(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	if s.Script == nil {
		return State{}, fmt.Errorf("no compiled script for thread %s", s.ThreadID)
	}
	approved := *s.Script
	approved.ReviewStatus = "approved"

	result, err := n.deps.Video.Generate(ctx, VideoRequest{
		Script:          approved.Full,
		Caption:         approved.Caption,
		AspectRatio:     cfg.ParamString("aspect_ratio", "9:16"),
		BackgroundColor: cfg.ParamString("background_color", "#1a1a2e"),
		MaxWait:         time.Duration(cfg.ParamInt("max_wait_seconds", 600)) * time.Second,
	})
	if err != nil {
		return State{}, err
	}
	return State{
		ApprovedScript: &approved,
		VideoID:        result.ID,
		VideoURL:       result.URL,
		VideoSeconds:   result.DurationSeconds,
		Status:         StatusPendingVideo,
	}, nil
}

// publish distributes the approved video.
func (n *nodes) publish(ctx context.Context, s State, cfg engine.NodeConfig) (State, error) {
	if s.VideoURL == "" {
		return State{}, fmt.Errorf("no video for thread %s", s.ThreadID)
	}
	caption := ""
	if s.ApprovedScript != nil {
		caption = s.ApprovedScript.Caption
	}
	results, err := n.deps.Publisher.Publish(ctx, Post{
		VideoURL:  s.VideoURL,
		Caption:   caption,
		Platforms: cfg.ParamStrings("platforms", []string{"instagram", "tiktok", "youtube"}),
	})
	if err != nil {
		return State{}, err
	}
	return State{PostResults: results, Status: StatusPublished}, nil
}

func parseCategoryLine(line string) (int, string, bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(parts[0], "-")))
	if err != nil {
		return 0, "", false
	}
	return idx, strings.ToLower(strings.TrimSpace(parts[1])), true
}

func titleWords(title string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 2 {
			words[w] = true
		}
	}
	return words
}

// titleSimilarity is the Jaccard index of the two word sets.
func titleSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func splitCaption(reply string) (script, caption string) {
	marker := "CAPTION:"
	if i := strings.LastIndex(reply, marker); i >= 0 {
		return strings.TrimSpace(reply[:i]), strings.TrimSpace(reply[i+len(marker):])
	}
	return strings.TrimSpace(reply), ""
}

// estimateSpokenSeconds assumes ~150 spoken words per minute.
func estimateSpokenSeconds(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) / 150 * 60)
}
