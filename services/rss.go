// Package services implements the external collaborators of the briefing
// pipeline: news ingestion, video rendering, social posting, and reviewer
// notification.
package services

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/deniel666/news-agent-maya/briefing"
)

// Feed is one RSS or Atom source.
type Feed struct {
	Name        string               `yaml:"name"`
	URL         string               `yaml:"url"`
	Reliability briefing.Reliability `yaml:"reliability,omitempty"`
}

// DefaultFeeds returns the standard Southeast Asia source list.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "CNA", URL: "https://www.channelnewsasia.com/api/v1/rss-outbound-feed?_format=xml"},
		{Name: "Straits Times", URL: "https://www.straitstimes.com/news/asia/rss.xml"},
		{Name: "Malay Mail", URL: "https://www.malaymail.com/feed/rss/malaysia"},
		{Name: "The Star", URL: "https://www.thestar.com.my/rss/News/Nation"},
		{Name: "SCMP SEA", URL: "https://www.scmp.com/rss/91/feed"},
		{Name: "Nikkei Asia", URL: "https://asia.nikkei.com/rss/feed/nar"},
		{Name: "TechInAsia", URL: "https://www.techinasia.com/feed"},
		{Name: "e27", URL: "https://e27.co/feed/"},
		{Name: "VentureBeat AI", URL: "https://venturebeat.com/category/ai/feed/"},
	}
}

const maxEntriesPerFeed = 30

// RSSAggregator fetches articles from a set of RSS/Atom feeds. Feeds are
// fetched concurrently; a feed that fails or times out is skipped rather
// than failing the whole aggregation.
type RSSAggregator struct {
	feeds  []Feed
	client *http.Client
	now    func() time.Time
}

// NewRSSAggregator builds an aggregator over the given feeds. A nil client
// gets a 30s-timeout default; empty feeds fall back to DefaultFeeds.
func NewRSSAggregator(feeds []Feed, client *http.Client) *RSSAggregator {
	if len(feeds) == 0 {
		feeds = DefaultFeeds()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RSSAggregator{feeds: feeds, client: client, now: time.Now}
}

// Fetch implements briefing.NewsSource.
func (a *RSSAggregator) Fetch(ctx context.Context, lookbackDays, maxItems int) ([]briefing.NewsItem, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	cutoff := a.now().UTC().AddDate(0, 0, -lookbackDays)

	var (
		mu    sync.Mutex
		items []briefing.NewsItem
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, feed := range a.feeds {
		g.Go(func() error {
			got, err := a.fetchFeed(gctx, feed, cutoff)
			if err != nil {
				// One dead feed must not sink the week's briefing.
				return nil
			}
			mu.Lock()
			items = append(items, got...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("rss: no articles fetched from any feed")
	}

	// Newest first, stable across runs.
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := itemTime(items[i]), itemTime(items[j])
		if ti.Equal(tj) {
			return items[i].SourceURL < items[j].SourceURL
		}
		return ti.After(tj)
	})
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

func (a *RSSAggregator) fetchFeed(ctx context.Context, feed Feed, cutoff time.Time) ([]briefing.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "rss: build request for %s", feed.Name)
	}
	req.Header.Set("User-Agent", "maya-briefing/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "rss: fetch %s", feed.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("rss: fetch %s: status %d", feed.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "rss: read %s", feed.Name)
	}
	entries, err := parseFeed(body)
	if err != nil {
		return nil, errors.Wrapf(err, "rss: parse %s", feed.Name)
	}

	reliability := feed.Reliability
	if reliability == "" {
		reliability = ClassifySource(feed.Name, "rss")
	}

	items := make([]briefing.NewsItem, 0, len(entries))
	for i, entry := range entries {
		if i >= maxEntriesPerFeed {
			break
		}
		published := parseFeedTime(entry.published)
		if published != nil && published.Before(cutoff) {
			continue
		}
		items = append(items, briefing.NewsItem{
			SourceURL:   entry.link,
			SourceName:  feed.Name,
			SourceType:  "rss",
			Reliability: reliability,
			Title:       strings.TrimSpace(entry.title),
			RawContent:  stripHTML(entry.summary),
			PublishedAt: published,
		})
	}
	return items, nil
}

// ClassifySource maps a source to its reliability tier. Major wire and
// financial outlets are tier 1, regional and tech press tier 2, and
// social-media derived feeds tier 3.
func ClassifySource(sourceName, sourceType string) briefing.Reliability {
	tier1 := []string{"reuters", "ap", "afp", "bloomberg", "cna", "channel news asia",
		"bbc", "financial times", "wall street journal", "nikkei"}
	tier2 := []string{"straits times", "malay mail", "the star", "bernama", "techinasia",
		"tech in asia", "venturebeat", "techcrunch", "wired", "ars technica"}

	name := strings.ToLower(sourceName)
	for _, s := range tier1 {
		if strings.Contains(name, s) {
			return briefing.Tier1
		}
	}
	for _, s := range tier2 {
		if strings.Contains(name, s) {
			return briefing.Tier2
		}
	}
	switch sourceType {
	case "telegram", "twitter", "nitter":
		return briefing.Tier3
	}
	return briefing.TierUnknown
}

// feedEntry is the common subset of an RSS item and an Atom entry.
type feedEntry struct {
	title     string
	link      string
	summary   string
	published string
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Summary   string `xml:"summary"`
		Content   string `xml:"content"`
		Published string `xml:"published"`
		Updated   string `xml:"updated"`
	} `xml:"entry"`
}

func parseFeed(body []byte) ([]feedEntry, error) {
	var rss rssDoc
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		entries := make([]feedEntry, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			entries = append(entries, feedEntry{
				title:     it.Title,
				link:      it.Link,
				summary:   it.Description,
				published: it.PubDate,
			})
		}
		return entries, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, err
	}
	entries := make([]feedEntry, 0, len(atom.Entries))
	for _, e := range atom.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		summary := e.Summary
		if summary == "" {
			summary = e.Content
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		entries = append(entries, feedEntry{
			title:     e.Title,
			link:      link,
			summary:   summary,
			published: published,
		})
	}
	return entries, nil
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseFeedTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// stripHTML drops markup and collapses whitespace; feed descriptions are
// routinely full of both.
func stripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func itemTime(it briefing.NewsItem) time.Time {
	if it.PublishedAt != nil {
		return *it.PublishedAt
	}
	return time.Time{}
}
