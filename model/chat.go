// Package model provides LLM integration adapters.
//
// ChatModel abstracts the differences between providers (OpenAI, Anthropic,
// Google) behind a single chat API so pipeline nodes can be configured with
// any of them. Implementations handle authentication, request translation,
// and response parsing; they respect context cancellation and surface
// provider failures as ordinary errors.
package model

import "context"

// ChatModel is the provider-neutral chat interface.
type ChatModel interface {
	// Chat sends the conversation to the provider and returns the
	// response. tools may be nil; when the provider decides to call a
	// tool the result carries ToolCalls instead of (or alongside) Text.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text. May be empty for tool-only turns.
	Content string
}

// Standard role constants, aligned with the conventions all major
// providers use.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema follows JSON
// Schema and describes the tool's input parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a chat completion: generated text, tool invocations, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Complete is a convenience wrapper for the common single-prompt case:
// an optional system prompt plus one user message, returning the text.
func Complete(ctx context.Context, m ChatModel, system, user string) (string, error) {
	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: user})
	out, err := m.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
