package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp switches into a fresh temp directory for the duration of the test
// so Load() sees only the files the test writes.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})
	return tmpDir
}

// clearEnv unsets variables that could leak in from the developer's shell.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	clearEnv(t, "PORT", "STORE_DRIVER", "STORE_ROW_CAP", "LLM_PROVIDER", "LLM_MODEL", "RETRY_MAX_ATTEMPTS", "PRIVACY_MODE")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Store.RowCap)
	assert.Equal(t, 10*time.Second, cfg.Store.QueryTimeout)
	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.Equal(t, "meta-llama/llama-4-scout-17b-16e-instruct", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.3, cfg.LLM.InsightTemperature, 1e-9)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Logging.PrivacyMode)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)
	clearEnv(t, "STORE_DRIVER", "LLM_PROVIDER", "SAFETY_DENIED_VERBS")

	yamlContent := `
port: "9090"
env: "test"
store:
  driver: "duckdb"
  row_cap: 50
  query_timeout: 5s
llm:
  provider: "openai"
  model: "gpt-4o-mini"
safety:
  allowed_tables: ["health_dataset_1", "health_dataset_2"]
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("STORE_ROW_CAP", "25")
	t.Setenv("LLM_API_KEY", "secret-from-env")

	cfg, err := Load("v1")
	require.NoError(t, err)

	// Env wins over YAML
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 25, cfg.Store.RowCap)

	// YAML values used where env is unset
	assert.Equal(t, "duckdb", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.QueryTimeout)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, []string{"health_dataset_1", "health_dataset_2"}, cfg.Safety.AllowedTables)

	// Secrets only from env
	assert.Equal(t, "secret-from-env", cfg.LLM.APIKey)
}

func TestLoad_DotEnvFile(t *testing.T) {
	tmpDir := chdirTemp(t)
	clearEnv(t, "LLM_MODEL", "LLM_PROVIDER", "STORE_DRIVER")

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("LLM_MODEL=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("LLM_MODEL") })

	cfg, err := Load("v1")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.LLM.Model)
}

func TestLoad_ListFromEnv(t *testing.T) {
	chdirTemp(t)
	clearEnv(t, "STORE_DRIVER", "LLM_PROVIDER")
	t.Setenv("SAFETY_DENIED_VERBS", "insert, delete ,,drop")

	cfg, err := Load("v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"insert", "delete", "drop"}, cfg.Safety.DeniedVerbs)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store: StoreConfig{Driver: "sqlite", RowCap: 100, QueryTimeout: time.Second},
			LLM:   LLMConfig{Provider: "groq", Timeout: time.Second},
			Retry: RetryConfig{MaxAttempts: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }, "llm.provider"},
		{"row cap zero", func(c *Config) { c.Store.RowCap = 0 }, "row_cap"},
		{"row cap above ceiling", func(c *Config) { c.Store.RowCap = MaxRowCap + 1 }, "row_cap"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"zero timeout", func(c *Config) { c.Store.QueryTimeout = 0 }, "query_timeout"},
		{
			"disclaimer with disallowed term",
			func(c *Config) {
				c.Safety.DiagnosticVocabulary = []string{"diagnosis"}
				c.Safety.Disclaimer = "This is not a diagnosis."
			},
			"disclaimer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
