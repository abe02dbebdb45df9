package model

import (
	"context"
	"errors"
	"fmt"
)

// FallbackModel tries a primary provider and falls back to a secondary one
// when the primary fails. Context cancellation is never retried against
// the fallback; if the caller gave up, so do we.
type FallbackModel struct {
	Primary  ChatModel
	Fallback ChatModel
}

// WithFallback wraps primary so that provider errors are retried once
// against fallback. A nil fallback returns primary unchanged.
func WithFallback(primary, fallback ChatModel) ChatModel {
	if fallback == nil {
		return primary
	}
	return &FallbackModel{Primary: primary, Fallback: fallback}
}

// Chat implements ChatModel.
func (m *FallbackModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	out, err := m.Primary.Chat(ctx, messages, tools)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ChatOut{}, err
	}
	out, ferr := m.Fallback.Chat(ctx, messages, tools)
	if ferr != nil {
		return ChatOut{}, fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return out, nil
}
