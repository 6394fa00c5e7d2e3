package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/app"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/testhelpers"
)

func testOptions(t *testing.T, completer llm.Completer, reportDir string) Options {
	t.Helper()
	fixture := testhelpers.NewHealthFixture(t)
	return Options{
		LoadConfig: func(version string) (*config.Config, error) {
			return &config.Config{
				Version: version,
				Logging: config.LoggingConfig{Level: "info", PrivacyMode: true},
				Store:   config.StoreConfig{Driver: "sqlite", QueryTimeout: 5 * time.Second, RowCap: 100},
				LLM: config.LLMConfig{
					Provider:          "groq",
					Model:             "mock-model",
					MaxTokens:         512,
					CircuitThreshold:  5,
					CircuitResetAfter: time.Minute,
				},
				Retry:      config.RetryConfig{MaxAttempts: 3, Multiplier: 1},
				Evaluation: config.EvaluationConfig{ReportDir: reportDir},
			}, nil
		},
		NewLogger: func(config.LoggingConfig) (*zap.Logger, error) { return zap.NewNop(), nil },
		App:       app.Options{Store: fixture.Datasource, Completer: completer},
	}
}

func execute(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test", opts)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantOut []string
	}{
		{name: "release version", version: "1.2.3", wantOut: []string{"ekaya-healthquery 1.2.3", "built with go", "stores: duckdb, postgres, sqlite, sqlserver"}},
		{name: "dev version", version: "dev", wantOut: []string{"ekaya-healthquery dev"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewVersionCommand(tt.version)
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)

			require.NoError(t, cmd.Execute())
			for _, want := range tt.wantOut {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRootCmd_VersionSkipsConfig(t *testing.T) {
	opts := Options{
		LoadConfig: func(string) (*config.Config, error) { return nil, errors.New("must not be called") },
	}
	out, err := execute(t, opts, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ekaya-healthquery test")
}

func TestRootCmd_ConfigErrorIsReported(t *testing.T) {
	opts := Options{
		LoadConfig: func(string) (*config.Config, error) { return nil, errors.New("store.driver \"oracle\" is invalid") },
	}
	_, err := execute(t, opts, "ask", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestAsk_PrintsQueryRowsAndInsight(t *testing.T) {
	mock := llm.NewMockCompleter(
		"SELECT COUNT(*) AS abnormal_bp_count FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1",
		"987 of the 2000 patients have abnormal blood pressure.",
	)
	out, err := execute(t, testOptions(t, mock, t.TempDir()), "ask", "How many patients have abnormal blood pressure?")
	require.NoError(t, err)

	assert.Contains(t, out, "Query (relational):")
	assert.Contains(t, out, "abnormal_bp_count")
	assert.Contains(t, out, "(1 rows)")
	assert.Contains(t, out, "987 of the 2000 patients")
}

func TestAsk_JSONOutput(t *testing.T) {
	mock := llm.NewMockCompleter(
		"SELECT AVG(Age) AS avg_age FROM health_dataset_1 WHERE Chronic_kidney_disease = 1",
		"Patients with chronic kidney disease have an average age of 45.09 years.",
	)
	out, err := execute(t, testOptions(t, mock, t.TempDir()),
		"ask", "-o", "json", "What is the average age of patients with chronic kidney disease?")
	require.NoError(t, err)

	var tx struct {
		Insight struct {
			Text               string `json:"text"`
			DisclaimerAppended bool   `json:"disclaimer_appended"`
		} `json:"insight"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.Contains(t, tx.Insight.Text, "45.09")
	assert.True(t, tx.Insight.DisclaimerAppended)
}

func TestAsk_ValidationErrorIsReturned(t *testing.T) {
	mock := llm.NewMockCompleter("DELETE FROM health_dataset_1")
	_, err := execute(t, testOptions(t, mock, t.TempDir()), "ask", "Remove", "every", "patient")
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
}

func TestAsk_RejectsUnknownFormatAndKind(t *testing.T) {
	opts := testOptions(t, llm.NewMockCompleter("unused"), t.TempDir())

	_, err := execute(t, opts, "ask", "-o", "yaml", "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")

	_, err = execute(t, opts, "ask", "--kind", "graph", "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown query kind")
}

func TestSuite_WritesReport(t *testing.T) {
	dir := t.TempDir()
	mock := llm.NewMockCompleter(
		"SELECT COUNT(*) AS abnormal_bp_count FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1",
		"987 of the 2000 patients have abnormal blood pressure.",
	)
	out, err := execute(t, testOptions(t, mock, dir), "suite", "-q", "How many patients have abnormal blood pressure?")
	require.NoError(t, err)

	assert.Contains(t, out, "1/1 answered")
	assert.Contains(t, out, "Report written to")

	data, err := os.ReadFile(filepath.Join(dir, services.ReportFileName))
	require.NoError(t, err)
	var report services.SuiteReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.TotalQueries)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Items, 1)
	assert.Greater(t, report.Items[0].Score.Overall, 0.0)
}

func TestSuite_NoReport(t *testing.T) {
	dir := t.TempDir()
	mock := llm.NewMockCompleter("DELETE FROM health_dataset_1")
	out, err := execute(t, testOptions(t, mock, dir), "suite", "--no-report", "-q", "Remove every patient")
	require.NoError(t, err)

	assert.Contains(t, out, "ValidationError")
	assert.Contains(t, out, "0/1 answered")
	assert.False(t, strings.Contains(out, "Report written to"))
	_, statErr := os.Stat(filepath.Join(dir, services.ReportFileName))
	assert.True(t, os.IsNotExist(statErr))
}
