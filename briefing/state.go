// Package briefing assembles the weekly news-anchor pipeline on top of the
// workflow engine: aggregation, categorization, parallel segment synthesis,
// script compilation, human review gates, video generation, and publishing.
package briefing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deniel666/news-agent-maya/engine"
)

// Status tracks where a briefing is in its editorial lifecycle. It is
// advisory state for operators; the engine's checkpoint status is the
// source of truth for pause/termination.
type Status string

const (
	StatusAggregating     Status = "aggregating"
	StatusSynthesizing    Status = "synthesizing"
	StatusPendingScript   Status = "pending_script_review"
	StatusGeneratingVideo Status = "generating_video"
	StatusPendingVideo    Status = "pending_video_review"
	StatusPublished       Status = "published"
)

// Reliability tiers for confidence scoring of news sources.
type Reliability string

const (
	Tier1       Reliability = "tier_1" // major outlets: Reuters, AP, CNA, Bloomberg
	Tier2       Reliability = "tier_2" // regional: Straits Times, Malay Mail, TechInAsia
	Tier3       Reliability = "tier_3" // social and aggregators
	TierUnknown Reliability = "unknown"
)

// Structured rejection categories reviewers attach to gate decisions.
// They feed the decision log used as fine-tuning data.
const (
	RejectToneTooAggressive = "tone_too_aggressive"
	RejectToneTooCasual     = "tone_too_casual"
	RejectFactCheckFailed   = "fact_check_failed"
	RejectCulturallyOff     = "cultural_insensitivity"
	RejectTooLong           = "timing_too_long"
	RejectTooShort          = "timing_too_short"
	RejectMissingContext    = "missing_context"
	RejectOutdatedInfo      = "outdated_info"
	RejectQualityIssues     = "quality_issues"
	RejectOther             = "other"
)

// NewsItem is one aggregated article with full provenance: every claim in
// the final script must trace back to a NewsItem ID.
type NewsItem struct {
	ID          string      `json:"id"`
	SourceURL   string      `json:"source_url"`
	SourceName  string      `json:"source_name"`
	SourceType  string      `json:"source_type"` // rss, telegram, twitter
	Reliability Reliability `json:"source_reliability"`

	Title       string     `json:"title"`
	RawContent  string     `json:"raw_content"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	Confidence float64   `json:"confidence_score"`
	Relevance  float64   `json:"relevance_score"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Fact is a verified claim extracted from a news item, kept in neutral
// journalistic tone. NewsItemID links back to the source for the
// chain-of-custody lookup.
type Fact struct {
	ID            string  `json:"id"`
	NewsItemID    string  `json:"source_news_item_id"`
	Claim         string  `json:"claim"`
	EvidenceQuote string  `json:"evidence_quote,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// NewFact creates a fact with a fresh ID tracing back to an item.
func NewFact(newsItemID, claim string) Fact {
	return Fact{ID: uuid.NewString(), NewsItemID: newsItemID, Claim: claim, Confidence: 0.7}
}

// ScriptSegment is one block of the anchor script with fact traceability.
type ScriptSegment struct {
	Type             string   `json:"segment_type"` // intro, local, business, ai_tech, outro
	Content          string   `json:"content"`
	FactIDs          []string `json:"fact_ids,omitempty"`
	EstimatedSeconds int      `json:"estimated_duration_seconds"`
}

// Script is a versioned compiled script. Version increments on every
// recompilation, which is how revision provenance survives the loop.
type Script struct {
	Version          int             `json:"version"`
	ReviewStatus     string          `json:"status"` // draft, pending_review, approved, rejected
	Segments         []ScriptSegment `json:"segments,omitempty"`
	Full             string          `json:"full_script"`
	Caption          string          `json:"caption"`
	EstimatedSeconds int             `json:"estimated_total_duration"`
	CreatedAt        time.Time       `json:"created_at"`
}

// State is the briefing workflow state. Every field has a declared merge
// policy, applied by Reduce:
//
//   - NewsItems: append-unique by source URL
//   - Facts: append-unique by fact ID
//   - Dropped, Categories, Segments, PostResults, Metadata, Errors: dict-union
//   - everything else: overwrite when the delta value is non-zero
//
// Nodes never remove list elements; exclusion is expressed through the
// Dropped map so merges stay idempotent and commutative.
type State struct {
	ThreadID string `json:"thread_id"`
	Year     int    `json:"year"`
	Week     int    `json:"week_number"`
	Language string `json:"language_code"`

	NewsItems []NewsItem `json:"news_items,omitempty"`
	Facts     []Fact     `json:"extracted_facts,omitempty"`

	// Dropped marks news item IDs excluded from downstream processing
	// (near-duplicates), keyed to the reason.
	Dropped map[string]string `json:"dropped,omitempty"`

	// Categories maps news item IDs to a segment: local, business, ai_tech.
	Categories map[string]string `json:"categories,omitempty"`

	// Segments holds per-category synthesized script text.
	Segments map[string]string `json:"segments,omitempty"`

	Script         *Script `json:"draft_script,omitempty"`
	ApprovedScript *Script `json:"approved_script,omitempty"`

	// ReviewFeedback is the latest reviewer free text, consumed by the
	// revision node.
	ReviewFeedback string `json:"review_feedback,omitempty"`

	VideoID      string `json:"video_id,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	VideoSeconds int    `json:"video_duration,omitempty"`

	// PostResults maps platform name to the published post URL or ID.
	PostResults map[string]string `json:"post_results,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// Errors carries captured node failures keyed by node ID.
	Errors map[string]string `json:"errors,omitempty"`

	Status Status `json:"status,omitempty"`
}

// Reduce is the engine.Reducer for briefing state.
func Reduce(prev, delta State) State {
	out := prev

	if delta.ThreadID != "" {
		out.ThreadID = delta.ThreadID
	}
	if delta.Year != 0 {
		out.Year = delta.Year
	}
	if delta.Week != 0 {
		out.Week = delta.Week
	}
	if delta.Language != "" {
		out.Language = delta.Language
	}

	out.NewsItems = engine.AppendUniqueBy(prev.NewsItems, delta.NewsItems,
		func(it NewsItem) string { return it.SourceURL })
	out.Facts = engine.AppendUniqueBy(prev.Facts, delta.Facts,
		func(f Fact) string { return f.ID })

	out.Dropped = engine.UnionMaps(prev.Dropped, delta.Dropped)
	out.Categories = engine.UnionMaps(prev.Categories, delta.Categories)
	out.Segments = engine.UnionMaps(prev.Segments, delta.Segments)
	out.PostResults = engine.UnionMaps(prev.PostResults, delta.PostResults)
	out.Metadata = engine.UnionMaps(prev.Metadata, delta.Metadata)
	out.Errors = engine.UnionMaps(prev.Errors, delta.Errors)

	if delta.Script != nil {
		out.Script = delta.Script
	}
	if delta.ApprovedScript != nil {
		out.ApprovedScript = delta.ApprovedScript
	}
	if delta.ReviewFeedback != "" {
		out.ReviewFeedback = delta.ReviewFeedback
	}
	if delta.VideoID != "" {
		out.VideoID = delta.VideoID
	}
	if delta.VideoURL != "" {
		out.VideoURL = delta.VideoURL
	}
	if delta.VideoSeconds != 0 {
		out.VideoSeconds = delta.VideoSeconds
	}
	if delta.Status != "" {
		out.Status = delta.Status
	}
	return out
}

// Failure is the engine.FailureFunc for briefing state: node failures are
// recorded under the node's ID so downstream nodes and operators can see
// them without the run aborting.
func Failure(nodeID string, err error) State {
	return State{Errors: map[string]string{nodeID: err.Error()}}
}

// ThreadID builds the canonical weekly thread identifier, e.g.
// "2026-W35-en-SG".
func ThreadID(year, week int, language string) string {
	return fmt.Sprintf("%d-W%02d-%s", year, week, language)
}

// NewInitialState creates the state for a fresh weekly run.
func NewInitialState(year, week int, language string) State {
	if language == "" {
		language = "en-SG"
	}
	return State{
		ThreadID: ThreadID(year, week, language),
		Year:     year,
		Week:     week,
		Language: language,
		Status:   StatusAggregating,
	}
}

// ItemByID retrieves a news item for chain-of-custody lookups.
func (s State) ItemByID(id string) (NewsItem, bool) {
	for _, it := range s.NewsItems {
		if it.ID == id {
			return it, true
		}
	}
	return NewsItem{}, false
}

// FactByID retrieves an extracted fact.
func (s State) FactByID(id string) (Fact, bool) {
	for _, f := range s.Facts {
		if f.ID == id {
			return f, true
		}
	}
	return Fact{}, false
}

// ActiveItems returns the news items not marked as dropped, optionally
// filtered to one category ("" for all).
func (s State) ActiveItems(category string) []NewsItem {
	var out []NewsItem
	for _, it := range s.NewsItems {
		if _, dropped := s.Dropped[it.ID]; dropped {
			continue
		}
		if category != "" && s.Categories[it.ID] != category {
			continue
		}
		out = append(out, it)
	}
	return out
}
