package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newChatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewOpenAIClient_RequiresEndpointAndModel(t *testing.T) {
	if _, err := NewOpenAIClient(&Config{Model: "m"}, zap.NewNop()); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewOpenAIClient(&Config{Endpoint: "http://x"}, zap.NewNop()); err == nil {
		t.Error("expected error without model")
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var seen map[string]any
	server := newChatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "test-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "SELECT COUNT(*) FROM patients;"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
	}`, &seen)

	client, err := NewOpenAIClient(&Config{Endpoint: server.URL + "/", Model: "test-model", APIKey: "k"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}

	result, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "You translate questions.",
		UserPrompt:   "How many patients?",
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Content != "SELECT COUNT(*) FROM patients;" {
		t.Errorf("content = %q", result.Content)
	}
	if result.PromptTokens != 42 || result.CompletionTokens != 7 {
		t.Errorf("usage = %d/%d", result.PromptTokens, result.CompletionTokens)
	}
	if seen["model"] != "test-model" {
		t.Errorf("request model = %v", seen["model"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	if client.GetEndpoint() != server.URL+"/" {
		t.Errorf("endpoint = %q", client.GetEndpoint())
	}
}

func TestOpenAIClient_NoChoicesIsRetryableResponseError(t *testing.T) {
	server := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","model":"m","choices":[]}`, nil)
	client, err := NewOpenAIClient(&Config{Endpoint: server.URL, Model: "m"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}

	_, err = client.Complete(context.Background(), CompletionRequest{UserPrompt: "q"})
	if GetErrorType(err) != ErrorTypeResponse {
		t.Errorf("expected response error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("empty choices should be retryable")
	}
}

func TestOpenAIClient_AuthErrorIsClassified(t *testing.T) {
	server := newChatServer(t, http.StatusUnauthorized,
		`{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)
	client, err := NewOpenAIClient(&Config{Endpoint: server.URL, Model: "m", APIKey: "bad"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}

	_, err = client.Complete(context.Background(), CompletionRequest{UserPrompt: "q"})
	if GetErrorType(err) != ErrorTypeAuth {
		t.Errorf("expected auth error, got %v", err)
	}
	var llmErr *Error
	if ok := errors.As(err, &llmErr); !ok || llmErr.Model != "m" || llmErr.Endpoint != server.URL {
		t.Errorf("expected model and endpoint on error, got %+v", llmErr)
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["system"] != "sys" {
			t.Errorf("system prompt = %v", body["system"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "Roughly half "}, {"type": "text", "text": "of patients."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 11, "output_tokens": 5}
		}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(&Config{Endpoint: server.URL, Model: "claude-test", APIKey: "k"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}
	result, err := client.Complete(context.Background(), CompletionRequest{SystemPrompt: "sys", UserPrompt: "q", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Content != "Roughly half of patients." {
		t.Errorf("content = %q", result.Content)
	}
	if result.PromptTokens != 11 || result.CompletionTokens != 5 {
		t.Errorf("usage = %d/%d", result.PromptTokens, result.CompletionTokens)
	}
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(&Config{Model: "claude"}, zap.NewNop()); err == nil {
		t.Error("expected error without api key")
	}
}
