package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/deniel666/news-agent-maya/briefing"
)

// defaultHashtags are appended to every caption.
var defaultHashtags = []string{
	"MayaNews", "SEANews", "MalaysiaNews", "SingaporeNews",
	"AINews", "TechNews", "WeeklyUpdate", "AsiaNews",
}

// platformCaptionLimits are the per-platform caption length caps.
var platformCaptionLimits = map[string]int{
	"instagram": 2200,
	"tiktok":    4000,
	"youtube":   100,
	"linkedin":  3000,
	"twitter":   280,
}

// BlotatoClient posts videos to social platforms through the Blotato API.
type BlotatoClient struct {
	apiKey   string
	baseURL  string
	hashtags []string
	client   *http.Client
}

// BlotatoOptions configures the client.
type BlotatoOptions struct {
	APIKey   string
	BaseURL  string
	Hashtags []string
	Client   *http.Client
}

// NewBlotatoClient builds a client implementing briefing.SocialPublisher.
func NewBlotatoClient(opts BlotatoOptions) *BlotatoClient {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if len(opts.Hashtags) == 0 {
		opts.Hashtags = defaultHashtags
	}
	return &BlotatoClient{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		hashtags: opts.Hashtags,
		client:   opts.Client,
	}
}

// Publish implements briefing.SocialPublisher. Each platform is posted
// independently; a platform that fails records an error result instead of
// aborting the remaining posts. Publish returns an error only when every
// platform failed.
func (b *BlotatoClient) Publish(ctx context.Context, post briefing.Post) (map[string]string, error) {
	if len(post.Platforms) == 0 {
		return nil, errors.New("blotato: no platforms to publish to")
	}

	results := make(map[string]string, len(post.Platforms))
	failed := 0
	var lastErr error
	for _, platform := range post.Platforms {
		postID, err := b.createPost(ctx, platform, adaptCaption(post.Caption, b.hashtags, platform), post.VideoURL)
		if err != nil {
			results[platform] = "error: " + err.Error()
			failed++
			lastErr = err
			continue
		}
		results[platform] = postID
	}
	if failed == len(post.Platforms) {
		return nil, errors.Wrap(lastErr, "blotato: all platforms failed")
	}
	return results, nil
}

func (b *BlotatoClient) createPost(ctx context.Context, platform, content, mediaURL string) (string, error) {
	payload := map[string]any{
		"platform":  platform,
		"content":   content,
		"media_url": mediaURL,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "blotato: encode post")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/posts", bytes.NewReader(raw))
	if err != nil {
		return "", errors.Wrap(err, "blotato: build request")
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "blotato: post to %s", platform)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errors.Errorf("blotato: post to %s: status %d: %s", platform, resp.StatusCode, body)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "blotato: decode response")
	}
	if out.ID == "" {
		return "", errors.Errorf("blotato: post to %s: response missing id", platform)
	}
	return out.ID, nil
}

// adaptCaption appends hashtags and truncates to the platform's limit,
// keeping the hashtags intact when the caption has to shrink.
func adaptCaption(caption string, hashtags []string, platform string) string {
	if len(hashtags) > 10 {
		hashtags = hashtags[:10]
	}
	tags := make([]string, len(hashtags))
	for i, t := range hashtags {
		tags[i] = "#" + t
	}
	tagLine := strings.Join(tags, " ")
	full := caption + "\n\n" + tagLine

	limit, ok := platformCaptionLimits[platform]
	if !ok {
		limit = 2000
	}
	if len(full) <= limit {
		return full
	}
	available := limit - len(tagLine) - 10
	if available < 0 {
		available = 0
	}
	return fmt.Sprintf("%s...\n\n%s", caption[:available], tagLine)
}
