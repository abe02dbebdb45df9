// Package google implements model.ChatModel for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deniel666/news-agent-maya/model"
)

// SafetyFilterError indicates Gemini blocked the prompt or the response.
// Callers can detect it with errors.As and fall back to another provider.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return fmt.Sprintf("google: blocked by safety filter: %s", e.Reason)
}

// ChatModel provides access to Gemini models. Tool calling is not wired
// for this provider; pass tools through an OpenAI or Anthropic model
// instead.
type ChatModel struct {
	apiKey    string
	modelName string
	client    googleClient
}

// googleClient is the internal API surface, split out so tests can
// substitute a fake without network access.
type googleClient interface {
	generate(ctx context.Context, system string, history []model.Message, prompt string) (string, error)
}

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName
// selects gemini-1.5-pro. The underlying client is created lazily on the
// first call because the SDK requires a context to dial.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &sdkClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements model.ChatModel. The last user message is sent as the
// prompt; preceding turns become chat history.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if len(tools) > 0 {
		return model.ChatOut{}, errors.New("google: tool calling not supported by this adapter")
	}
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("google: no messages")
	}

	var system string
	var history []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		history = append(history, msg)
	}
	if len(history) == 0 || history[len(history)-1].Role != model.RoleUser {
		return model.ChatOut{}, errors.New("google: conversation must end with a user message")
	}
	prompt := history[len(history)-1].Content
	history = history[:len(history)-1]

	text, err := m.client.generate(ctx, system, history, prompt)
	if err != nil {
		return model.ChatOut{}, err
	}
	return model.ChatOut{Text: text}, nil
}

// sdkClient wraps the official generative-ai-go client.
type sdkClient struct {
	apiKey    string
	modelName string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func (c *sdkClient) generate(ctx context.Context, system string, history []model.Message, prompt string) (string, error) {
	c.once.Do(func() {
		c.client, c.initErr = genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	})
	if c.initErr != nil {
		return "", fmt.Errorf("google: client init: %w", c.initErr)
	}

	gm := c.client.GenerativeModel(c.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := gm.StartChat()
	for _, msg := range history {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates"
		if resp.PromptFeedback != nil {
			reason = fmt.Sprint(resp.PromptFeedback.BlockReason)
		}
		return "", &SafetyFilterError{Reason: reason}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", &SafetyFilterError{Reason: fmt.Sprint(candidate.FinishReason)}
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
