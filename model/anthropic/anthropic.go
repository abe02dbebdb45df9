// Package anthropic implements model.ChatModel for Anthropic's Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deniel666/news-agent-maya/model"
)

const defaultMaxTokens = 4096

// ChatModel provides access to Claude models. Anthropic takes the system
// prompt as a separate parameter, so system messages are extracted from
// the conversation before the call.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

// anthropicClient is the internal API surface, split out so tests can
// substitute a fake without network access.
type anthropicClient interface {
	createMessage(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a Claude-backed ChatModel. An empty modelName
// selects claude-sonnet-4-20250514.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-20250514"
	}
	return &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		client:    &sdkClient{client: sdk.NewClient(option.WithAPIKey(apiKey)), modelName: modelName, maxTokens: defaultMaxTokens},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	system, conversation := extractSystemPrompt(messages)
	return m.client.createMessage(ctx, system, conversation, tools)
}

// extractSystemPrompt separates system messages from the conversation,
// concatenating multiple system messages if present.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var system string
	var conversation []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return system, conversation
}

// sdkClient wraps the official anthropic-sdk-go client.
type sdkClient struct {
	client    sdk.Client
	modelName string
	maxTokens int64
}

func (c *sdkClient) createMessage(ctx context.Context, system string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: c.maxTokens,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	for _, msg := range messages {
		block := sdk.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	for _, tool := range tools {
		properties := tool.Schema["properties"]
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: sdk.ToolInputSchemaParam{Properties: properties},
			},
		})
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, err
	}
	if message == nil || len(message.Content) == 0 {
		return model.ChatOut{}, errors.New("anthropic: empty message")
	}

	var out model.ChatOut
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			input := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("anthropic: tool input: %w", err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	return out, nil
}
