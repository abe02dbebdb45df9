package briefing

import (
	"fmt"
	"strings"
)

const anchorPersona = `You are Maya, a sharp and warm AI news anchor for a weekly
Southeast Asia briefing. You speak plainly, cite only provided facts, and never
speculate beyond them.`

const categorizeSystem = `You are a news desk editor. Classify each article into
exactly one category: local, business, or ai_tech. Reply with one line per
article in the form "<number>: <category>". No other text.`

func categorizePrompt(items []NewsItem) string {
	var sb strings.Builder
	sb.WriteString("Classify these articles:\n\n")
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, it.SourceName, it.Title)
	}
	return sb.String()
}

func synthesizeSystem(category string) string {
	return anchorPersona + fmt.Sprintf(`

Write the %s segment of this week's briefing. Target roughly 150 words of
spoken script. Cover the most relevant stories, one or two sentences each.
Output only the spoken text.`, segmentName(category))
}

func synthesizePrompt(category string, items []NewsItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stories for the %s segment:\n\n", segmentName(category))
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s (%s)\n  %s\n", it.Title, it.SourceName, truncate(it.RawContent, 400))
	}
	return sb.String()
}

const compileSystem = anchorPersona + `

Assemble the full weekly briefing script from the provided segments: a short
intro, the segments in order (local, business, ai_tech), and a sign-off.
After the script, on a new line starting with "CAPTION:", write a one-sentence
social media caption.`

func compilePrompt(s State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Week %d, %d. Language: %s.\n\n", s.Week, s.Year, s.Language)
	for _, category := range []string{"local", "business", "ai_tech"} {
		if text, ok := s.Segments[category]; ok {
			fmt.Fprintf(&sb, "## %s\n%s\n\n", segmentName(category), text)
		}
	}
	if s.ReviewFeedback != "" {
		fmt.Fprintf(&sb, "Reviewer feedback to address in this version:\n%s\n", s.ReviewFeedback)
	}
	if notes := s.Metadata["revision_notes"]; notes != "" {
		fmt.Fprintf(&sb, "Revision plan:\n%s\n", notes)
	}
	return sb.String()
}

const reviseSystem = anchorPersona + `

The previous script draft was rejected by a human reviewer. Read the script
and the feedback, then produce a short, concrete revision plan: what to cut,
what to rephrase, what to add. Output only the plan.`

func revisePrompt(s State) string {
	var sb strings.Builder
	if s.Script != nil {
		fmt.Fprintf(&sb, "Rejected script (v%d):\n%s\n\n", s.Script.Version, s.Script.Full)
	}
	fmt.Fprintf(&sb, "Reviewer feedback:\n%s\n", s.ReviewFeedback)
	return sb.String()
}

func segmentName(category string) string {
	switch category {
	case "local":
		return "local & international news"
	case "business":
		return "business news"
	case "ai_tech":
		return "AI & technology"
	default:
		return category
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
