// Package llm provides the transcript extraction backends: OpenAI-compatible,
// Anthropic and Gemini clients behind one interface.
package llm

import (
	"context"
)

// LLMClient defines the interface for extraction backends.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse sends one prompt with a system message and returns the completion.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// GenerateResponseResult is a completion with token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*GenaiClient)(nil)
	_ LLMClient = (*ResilientClient)(nil)
)
