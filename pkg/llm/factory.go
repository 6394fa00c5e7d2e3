package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
)

// Provider base URLs used when no explicit LLM base URL is configured.
const (
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"
)

// NewCompleter builds the configured completion client and wraps it with a
// circuit breaker so that a failing provider stops receiving traffic.
func NewCompleter(cfg config.LLMConfig, logger *zap.Logger) (*GuardedCompleter, error) {
	inner, err := newProviderClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.CircuitThreshold,
		ResetAfter: cfg.CircuitResetAfter,
	})
	return NewGuardedCompleter(inner, breaker, logger), nil
}

func newProviderClient(cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	endpoint := cfg.BaseURL
	if endpoint != "" {
		endpoint = config.ResolveURLForDocker(endpoint)
	}

	clientCfg := &Config{Endpoint: endpoint, Model: cfg.Model, APIKey: cfg.APIKey}

	switch provider {
	case "groq", "":
		if clientCfg.Endpoint == "" {
			clientCfg.Endpoint = GroqBaseURL
		}
		return NewOpenAIClient(clientCfg, logger)
	case "openai":
		if clientCfg.Endpoint == "" {
			clientCfg.Endpoint = OpenAIBaseURL
		}
		return NewOpenAIClient(clientCfg, logger)
	case "anthropic":
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
