package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
)

type markedError struct {
	retryable bool
}

func (e *markedError) Error() string     { return "marked" }
func (e *markedError) IsRetryable() bool { return e.retryable }

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestFromConfig_Clamps(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{MaxAttempts: 0, Multiplier: 0.5})
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 1.0, cfg.Multiplier)
}

func TestDoWithResult_SuccessFirstAttempt(t *testing.T) {
	result, attempts, err := DoWithResult(context.Background(), fastConfig(3), func(attempt int) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult_PassesAttemptNumbers(t *testing.T) {
	var seen []int
	_, attempts, err := DoWithResult(context.Background(), fastConfig(3), func(attempt int) (int, error) {
		seen = append(seen, attempt)
		if attempt < 3 {
			return 0, &markedError{retryable: true}
		}
		return attempt, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 3, attempts)
}

func TestDoWithResult_Exhausted(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(3), func(attempt int) (string, error) {
		calls++
		return "partial", &markedError{retryable: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "must never exceed MaxAttempts")
	assert.Equal(t, 3, attempts)
}

func TestDoWithResult_PermanentErrorStops(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(3), func(attempt int) (string, error) {
		calls++
		return "", &markedError{retryable: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	_, _, err := DoWithResult(ctx, cfg, func(attempt int) (string, error) {
		calls++
		cancel()
		return "", &markedError{retryable: true}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(attempt int) error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoWithFallback(t *testing.T) {
	result, usedFallback := DoWithFallback(context.Background(), fastConfig(3),
		func(attempt int) (string, error) {
			return "", &markedError{retryable: true}
		},
		func(lastErr error) string {
			return "fallback: " + lastErr.Error()
		},
	)
	assert.True(t, usedFallback)
	assert.Equal(t, "fallback: marked", result)

	result, usedFallback = DoWithFallback(context.Background(), fastConfig(3),
		func(attempt int) (string, error) { return "primary", nil },
		func(lastErr error) string { return "fallback" },
	)
	assert.False(t, usedFallback)
	assert.Equal(t, "primary", result)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"wrapped marked retryable", fmt.Errorf("wrap: %w", &markedError{retryable: true}), true},
		{"marked permanent", &markedError{retryable: false}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"syntax error", errors.New("near \"SELEC\": syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}
