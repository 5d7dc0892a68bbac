package agent

import (
	"context"

	"looper_server/llm"
)

// ModelCallWrapFunc is the signature for the "next" function in the model call chain.
type ModelCallWrapFunc func(ctx context.Context, msgs []Message) (*llm.Response, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// Hook is agent middleware (onion ring). Index 0 is the outermost layer.
type Hook interface {
	Name() string

	// BeforeAgent is called once per run before the loop starts. Hooks
	// register their session-bound tools here.
	BeforeAgent(ctx context.Context, sess *Session) error

	// ModifyRequest is called before each model call to adjust the message list.
	ModifyRequest(ctx context.Context, sess *Session, msgs []Message) ([]Message, error)

	// WrapModelCall wraps each model call.
	WrapModelCall(ctx context.Context, msgs []Message, next ModelCallWrapFunc) (*llm.Response, error)

	// WrapToolCall wraps each tool execution. Returning a result without
	// calling next short-circuits the tool.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)
}

// BaseHook provides pass-through defaults for all hook methods.
// Embed it and override what you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) BeforeAgent(ctx context.Context, sess *Session) error { return nil }

func (BaseHook) ModifyRequest(ctx context.Context, sess *Session, msgs []Message) ([]Message, error) {
	return msgs, nil
}

func (BaseHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallWrapFunc) (*llm.Response, error) {
	return next(ctx, msgs)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}
