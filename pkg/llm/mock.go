package llm

import (
	"context"
	"errors"
	"sync"
)

// MockCompleter is a scripted Completer for tests. Responses and Errors are
// consumed in order, one per call; CompleteFunc overrides both when set.
type MockCompleter struct {
	mu sync.Mutex

	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Responses are returned in order. Once exhausted the last one repeats.
	Responses []string
	// Errors[i], when non-nil, is returned instead of Responses[i].
	Errors []error

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	Requests []CompletionRequest
}

// NewMockCompleter creates a mock that answers with the given responses.
func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{Responses: responses, Model: "mock-model"}
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	m.mu.Lock()
	idx := len(m.Requests)
	m.Requests = append(m.Requests, req)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, ClassifyError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}
	if len(m.Responses) == 0 {
		return nil, NewError(ErrorTypeResponse, "mock has no scripted response", false, errors.New("empty script"))
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return &CompletionResult{Content: m.Responses[idx], Model: m.modelLocked()}, nil
}

// GetModel implements Completer.
func (m *MockCompleter) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelLocked()
}

// modelLocked returns the model name; the caller holds m.mu.
func (m *MockCompleter) modelLocked() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// CallCount returns how many completions were requested.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, or the zero request before any call.
func (m *MockCompleter) LastRequest() CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return CompletionRequest{}
	}
	return m.Requests[len(m.Requests)-1]
}

// Reset clears recorded requests.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
}

var _ Completer = (*MockCompleter)(nil)
