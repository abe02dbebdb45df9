package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// SlackNotifier posts review requests to a Slack incoming webhook, with
// approve/reject buttons pointing back at the review UI.
type SlackNotifier struct {
	webhookURL  string
	frontendURL string
	client      *http.Client
}

// NewSlackNotifier builds a notifier for the given incoming-webhook URL.
// frontendURL is the base of the review UI; the notification links to
// frontendURL/briefings/<thread>.
func NewSlackNotifier(webhookURL, frontendURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, frontendURL: frontendURL, client: client}
}

// Notify implements briefing.Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, threadID, subject, body string) error {
	blocks := []map[string]any{
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n\n%s", subject, body),
			},
		},
	}
	if s.frontendURL != "" {
		blocks = append(blocks, map[string]any{
			"type": "actions",
			"elements": []map[string]any{
				{
					"type":      "button",
					"text":      map[string]string{"type": "plain_text", "text": "Review"},
					"style":     "primary",
					"action_id": "open_review",
					"url":       fmt.Sprintf("%s/briefings/%s", s.frontendURL, threadID),
				},
			},
		})
	}

	raw, err := json.Marshal(map[string]any{"blocks": blocks})
	if err != nil {
		return errors.Wrap(err, "slack: encode message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "slack: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "slack: send")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("slack: send: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends review requests to a Telegram chat via a bot.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramNotifier builds a notifier for the given bot token and chat.
func NewTelegramNotifier(token, chatID string, client *http.Client) *TelegramNotifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TelegramNotifier{token: token, chatID: chatID, baseURL: telegramAPIBase, client: client}
}

// Notify implements briefing.Notifier.
func (t *TelegramNotifier) Notify(ctx context.Context, threadID, subject, body string) error {
	text := fmt.Sprintf("*%s*\n\nThread: `%s`\n\n%s", subject, threadID, body)
	raw, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return errors.Wrap(err, "telegram: encode message")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "telegram: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "telegram: send")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("telegram: send: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
