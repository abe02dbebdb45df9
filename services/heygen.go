package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/deniel666/news-agent-maya/briefing"
)

const heygenBaseURL = "https://api.heygen.com"

// HeyGenClient renders avatar videos through the HeyGen API. Generation is
// asynchronous on their side; Generate submits the job and polls the status
// endpoint until the render completes or the request's wait budget runs out.
type HeyGenClient struct {
	apiKey   string
	baseURL  string
	avatarID string
	voiceID  string
	locale   string

	client       *http.Client
	pollInterval time.Duration
}

// HeyGenOptions configures the client. APIKey and AvatarID/VoiceID are
// required in production; BaseURL and PollInterval exist for tests.
type HeyGenOptions struct {
	APIKey       string
	AvatarID     string
	VoiceID      string
	Locale       string
	BaseURL      string
	Client       *http.Client
	PollInterval time.Duration
}

// NewHeyGenClient builds a client implementing briefing.VideoGenerator.
func NewHeyGenClient(opts HeyGenOptions) *HeyGenClient {
	if opts.BaseURL == "" {
		opts.BaseURL = heygenBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Locale == "" {
		opts.Locale = "en-SG"
	}
	return &HeyGenClient{
		apiKey:       opts.APIKey,
		baseURL:      opts.BaseURL,
		avatarID:     opts.AvatarID,
		voiceID:      opts.VoiceID,
		locale:       opts.Locale,
		client:       opts.Client,
		pollInterval: opts.PollInterval,
	}
}

// Generate implements briefing.VideoGenerator.
func (h *HeyGenClient) Generate(ctx context.Context, req briefing.VideoRequest) (briefing.VideoResult, error) {
	videoID, err := h.submit(ctx, req)
	if err != nil {
		return briefing.VideoResult{}, err
	}

	wait := req.MaxWait
	if wait <= 0 {
		wait = 10 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		status, err := h.videoStatus(ctx, videoID)
		if err != nil {
			return briefing.VideoResult{}, err
		}
		switch status.Status {
		case "completed":
			return briefing.VideoResult{
				ID:              videoID,
				URL:             status.VideoURL,
				DurationSeconds: int(status.Duration),
			}, nil
		case "failed":
			return briefing.VideoResult{}, errors.Errorf("heygen: video %s failed: %s", videoID, status.Error)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return briefing.VideoResult{}, ctx.Err()
			}
			return briefing.VideoResult{}, errors.Errorf("heygen: video %s not ready after %s", videoID, wait)
		case <-ticker.C:
		}
	}
}

func (h *HeyGenClient) submit(ctx context.Context, req briefing.VideoRequest) (string, error) {
	width, height := dimensions(req.AspectRatio)
	payload := map[string]any{
		"video_inputs": []map[string]any{{
			"character": map[string]any{
				"type":         "avatar",
				"avatar_id":    h.avatarID,
				"avatar_style": "normal",
			},
			"voice": map[string]any{
				"type":       "text",
				"input_text": req.Script,
				"voice_id":   h.voiceID,
				"locale":     h.locale,
				"speed":      1.0,
			},
			"background": map[string]any{
				"type":  "color",
				"value": req.BackgroundColor,
			},
		}},
		"dimension":    map[string]int{"width": width, "height": height},
		"aspect_ratio": req.AspectRatio,
	}

	var out struct {
		Data struct {
			VideoID string `json:"video_id"`
		} `json:"data"`
	}
	if err := h.do(ctx, http.MethodPost, "/v2/video/generate", payload, &out); err != nil {
		return "", err
	}
	if out.Data.VideoID == "" {
		return "", errors.New("heygen: generate response missing video_id")
	}
	return out.Data.VideoID, nil
}

type heygenStatus struct {
	Status   string  `json:"status"`
	VideoURL string  `json:"video_url"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

func (h *HeyGenClient) videoStatus(ctx context.Context, videoID string) (heygenStatus, error) {
	var out struct {
		Data heygenStatus `json:"data"`
	}
	path := "/v1/video_status.get?video_id=" + videoID
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return heygenStatus{}, err
	}
	return out.Data, nil
}

func (h *HeyGenClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "heygen: encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "heygen: build request")
	}
	req.Header.Set("X-Api-Key", h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "heygen: %s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("heygen: %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "heygen: decode response")
}

func dimensions(aspectRatio string) (width, height int) {
	switch aspectRatio {
	case "16:9":
		return 1920, 1080 // horizontal for YouTube
	case "9:16":
		return 1080, 1920 // vertical for TikTok and Reels
	default:
		return 1080, 1080
	}
}
