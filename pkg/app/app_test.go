package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/testhelpers"
)

func testConfig() *config.Config {
	return &config.Config{
		Version: "test",
		Env:     "test",
		Logging: config.LoggingConfig{Level: "info", PrivacyMode: true},
		Store: config.StoreConfig{
			Driver:       "sqlite",
			QueryTimeout: 5 * time.Second,
			RowCap:       100,
		},
		LLM: config.LLMConfig{
			Provider:          "groq",
			Model:             "mock-model",
			MaxTokens:         512,
			CircuitThreshold:  5,
			CircuitResetAfter: time.Minute,
		},
		Retry:   config.RetryConfig{MaxAttempts: 3, Multiplier: 1},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func newTestApp(t *testing.T, completer llm.Completer) *App {
	t.Helper()
	fixture := testhelpers.NewHealthFixture(t)
	a, err := New(context.Background(), testConfig(), zap.NewNop(), Options{
		Store:     fixture.Datasource,
		Completer: completer,
	})
	require.NoError(t, err)
	return a
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "oracle"
	_, err := New(context.Background(), cfg, zap.NewNop(), Options{Completer: llm.NewMockCompleter("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestNew_OpensConfiguredSQLiteStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.DSN = ":memory:"
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{Completer: llm.NewMockCompleter("x")})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "sqlite", a.Store.Type())
}

func TestApp_HandlerAnswersQuestion(t *testing.T) {
	mock := llm.NewMockCompleter(
		"SELECT COUNT(*) AS abnormal_bp_count FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1",
		"987 of the 2000 patients have abnormal blood pressure.",
	)
	srv := httptest.NewServer(newTestApp(t, mock).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/query", "application/json",
		strings.NewReader(`{"question":"How many patients have abnormal blood pressure?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			TransactionID string `json:"transaction_id"`
			Insight       struct {
				Text               string `json:"text"`
				DisclaimerAppended bool   `json:"disclaimer_appended"`
			} `json:"insight"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data.TransactionID)
	assert.Contains(t, body.Data.Insight.Text, "987")
	assert.True(t, body.Data.Insight.DisclaimerAppended)
}

func TestApp_HandlerRejectsDestructiveQuery(t *testing.T) {
	mock := llm.NewMockCompleter("DELETE FROM health_dataset_1")
	srv := httptest.NewServer(newTestApp(t, mock).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/query", "application/json",
		strings.NewReader(`{"question":"Remove every patient"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ValidationError", body["error"])
}

func TestApp_HealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t, llm.NewMockCompleter("unused")).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"store":"sqlite"`)
	assert.Contains(t, string(body), `"llm_circuit":"closed"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthquery_")
}

func TestApp_MetricsDisabled(t *testing.T) {
	a := newTestApp(t, llm.NewMockCompleter("unused"))
	a.Config.Metrics.Enabled = false
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApp_MCPServerListsPipelineTools(t *testing.T) {
	s := newTestApp(t, llm.NewMockCompleter("unused")).MCPServer()

	resp := s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"health", "describe_schema", "process_query", "evaluate"} {
		assert.Contains(t, string(raw), `"name":"`+name+`"`)
	}
}
