// Package llm provides the model provider clients behind role
// invocation: Ollama, Anthropic, and Google Gemini, plus a router that
// picks the provider by model name.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Options are per-request generation parameters. A nil Temperature or
// zero MaxTokens leaves the provider default in place; an explicit
// temperature of 0 is sent as given.
type Options struct {
	Temperature *float64
	MaxTokens   int
}
