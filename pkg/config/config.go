package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// MaxRowCap is the hard ceiling for store.row_cap.
const MaxRowCap = 1000

// Config holds all configuration for ekaya-healthquery.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, DSN passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	LLM        LLMConfig        `yaml:"llm"`
	Retry      RetryConfig      `yaml:"retry"`
	Safety     SafetyConfig     `yaml:"safety"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
	// PrivacyMode keeps user questions out of the logs.
	PrivacyMode bool `yaml:"privacy_mode" env:"PRIVACY_MODE" env-default:"true"`
}

// StoreConfig describes the local relational store holding the two health tables.
type StoreConfig struct {
	Driver       string        `yaml:"driver" env:"STORE_DRIVER" env-default:"sqlite"` // sqlite, duckdb, postgres, sqlserver
	DSN          string        `yaml:"-" env:"STORE_DSN" env-default:"data/healthcare.db"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"STORE_QUERY_TIMEOUT" env-default:"10s"`
	RowCap       int           `yaml:"row_cap" env:"STORE_ROW_CAP" env-default:"100"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"STORE_MAX_OPEN_CONNS" env-default:"4"`
}

// LLMConfig selects the completion service and its sampling parameters.
type LLMConfig struct {
	Provider              string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"groq"` // groq, openai, anthropic
	BaseURL               string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`    // Empty uses the provider default
	Model                 string        `yaml:"model" env:"LLM_MODEL" env-default:"meta-llama/llama-4-scout-17b-16e-instruct"`
	APIKey                string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout               time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"30s"`
	MaxTokens             int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	GenerationTemperature float64       `yaml:"generation_temperature" env:"LLM_GENERATION_TEMPERATURE" env-default:"0"`
	InsightTemperature    float64       `yaml:"insight_temperature" env:"LLM_INSIGHT_TEMPERATURE" env-default:"0.3"`
	CircuitThreshold      int           `yaml:"circuit_threshold" env:"LLM_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitResetAfter     time.Duration `yaml:"circuit_reset_after" env:"LLM_CIRCUIT_RESET_AFTER" env-default:"30s"`
}

// RetryConfig is the bounded retry policy shared by the query and insight generators.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"RETRY_INITIAL_DELAY" env-default:"200ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"2s"`
	Multiplier   float64       `yaml:"multiplier" env:"RETRY_MULTIPLIER" env-default:"2"`
	JitterFactor float64       `yaml:"jitter" env:"RETRY_JITTER" env-default:"0.1"`
}

// SafetyConfig overrides the built-in safety policy.
// Empty lists keep the defaults. PolicyFile, when set, is applied before the list overrides.
type SafetyConfig struct {
	PolicyFile           string   `yaml:"policy_file" env:"SAFETY_POLICY_FILE" env-default:""`
	DeniedVerbs          []string `yaml:"denied_verbs" env:"SAFETY_DENIED_VERBS" env-separator:","`
	AllowedTables        []string `yaml:"allowed_tables" env:"SAFETY_ALLOWED_TABLES" env-separator:","`
	DiagnosticVocabulary []string `yaml:"diagnostic_vocabulary" env:"SAFETY_DIAGNOSTIC_VOCABULARY" env-separator:","`
	Disclaimer           string   `yaml:"disclaimer" env:"SAFETY_DISCLAIMER" env-default:""`
}

// EvaluationConfig controls the offline evaluation suite.
type EvaluationConfig struct {
	ReportDir string `yaml:"report_dir" env:"EVALUATION_REPORT_DIR" env-default:"reports"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
}

var (
	validDrivers   = []string{"sqlite", "duckdb", "postgres", "sqlserver"}
	validProviders = []string{"groq", "openai", "anthropic"}
)

// Load reads configuration from config.yaml with environment variable overrides.
// A .env file in the working directory is loaded into the environment first, if present.
// Without config.yaml, configuration comes from the environment and defaults only.
func Load(version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// normalize trims list entries and lower-cases enumerations.
func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Safety.DeniedVerbs = cleanList(c.Safety.DeniedVerbs)
	c.Safety.AllowedTables = cleanList(c.Safety.AllowedTables)
	c.Safety.DiagnosticVocabulary = cleanList(c.Safety.DiagnosticVocabulary)
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	if !contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("store.driver %q must be one of %s", c.Store.Driver, strings.Join(validDrivers, ", "))
	}
	if !contains(validProviders, c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q must be one of %s", c.LLM.Provider, strings.Join(validProviders, ", "))
	}
	if c.Store.RowCap < 1 || c.Store.RowCap > MaxRowCap {
		return fmt.Errorf("store.row_cap must be between 1 and %d, got %d", MaxRowCap, c.Store.RowCap)
	}
	if c.Store.QueryTimeout <= 0 {
		return fmt.Errorf("store.query_timeout must be positive")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Safety.Disclaimer != "" {
		lower := strings.ToLower(c.Safety.Disclaimer)
		for _, term := range c.Safety.DiagnosticVocabulary {
			if strings.Contains(lower, strings.ToLower(term)) {
				return fmt.Errorf("safety.disclaimer contains disallowed term %q", term)
			}
		}
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
