// Package llm provides completion clients for OpenAI-compatible and Anthropic endpoints.
package llm

import (
	"context"
)

// CompletionRequest is one system+user prompt exchange.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// CompletionResult holds the completion text and usage stats.
type CompletionResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer defines the completion service used by the query and insight generators.
// Use this interface for dependency injection to enable mocking in tests.
type Completer interface {
	// Complete returns the model's reply to the request. Errors are *Error values.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Ensure clients implement Completer at compile time.
var (
	_ Completer = (*OpenAIClient)(nil)
	_ Completer = (*AnthropicClient)(nil)
	_ Completer = (*GuardedCompleter)(nil)
)
