// Package llm provides clients for the chat models that drive the
// dispatch loop. Every provider speaks the same request/response
// contract: an ordered message history plus a tool catalogue in, an
// assistant message carrying either text or tool calls out.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI function format produced by
	// tools.Registry.List.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
