package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/metrics"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/retry"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/schema"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/testhelpers"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

// healthTables is the described schema of an unseeded copy of the health dataset.
func healthTables() []models.TableSchema {
	return []models.TableSchema{
		{Name: "health_dataset_1", Columns: []models.Column{
			{Name: "Patient_Number", DataType: "INTEGER", SemanticType: schema.SemanticIdentifier},
			{Name: "Blood_Pressure_Abnormality", DataType: "INTEGER", SemanticType: schema.SemanticFlag},
			{Name: "Age", DataType: "INTEGER", SemanticType: schema.SemanticMeasure},
			{Name: "BMI", DataType: "REAL", SemanticType: schema.SemanticMeasure},
			{Name: "Level_of_Stress", DataType: "INTEGER", SemanticType: schema.SemanticCategorical},
			{Name: "Chronic_kidney_disease", DataType: "INTEGER", SemanticType: schema.SemanticFlag},
		}},
		{Name: "health_dataset_2", Columns: []models.Column{
			{Name: "Patient_Number", DataType: "INTEGER", SemanticType: schema.SemanticIdentifier},
			{Name: "Day_Number", DataType: "INTEGER", SemanticType: schema.SemanticMeasure},
			{Name: "Physical_activity", DataType: "INTEGER", SemanticType: schema.SemanticMeasure},
		}},
	}
}

func validate(t *testing.T, text string, kind models.QueryKind, tables []models.TableSchema) safety.ValidatedQuery {
	t.Helper()
	v := safety.NewValidator(safety.DefaultPolicy(), nil, zap.NewNop())
	q, result := v.Check(context.Background(), models.GeneratedQuery{Text: text, Kind: kind}, tables)
	require.True(t, result.Accepted, "unexpected violations: %v", result.Reasons())
	return q
}

// countingExecutor records how often the store was reached.
type countingExecutor struct {
	QueryExecutor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, q safety.ValidatedQuery) (*models.ExecutionResult, error) {
	c.calls.Add(1)
	return c.QueryExecutor.Execute(ctx, q)
}

type testPipeline struct {
	*Pipeline
	execs         *countingExecutor
	generationLLM *llm.MockCompleter
	insightLLM    *llm.MockCompleter
	fixture       *testhelpers.HealthFixture
}

// newTestPipeline wires every stage over the seeded fixture with scripted completions.
func newTestPipeline(t *testing.T, generation, insight *llm.MockCompleter) *testPipeline {
	t.Helper()
	fixture := testhelpers.NewHealthFixture(t)
	logger := zap.NewNop()
	policy := safety.DefaultPolicy()

	executor := &countingExecutor{
		QueryExecutor: NewQueryExecutor(fixture.Datasource, ExecutorOptions{RowCap: 100, Timeout: 5 * time.Second}, nil, logger),
	}
	p := NewPipeline(PipelineDeps{
		Schema:    schema.NewDescriptor(fixture.Datasource, logger),
		Generator: NewQueryGenerator(generation, fastRetry(), GenerationOptions{MaxTokens: 512}, logger),
		Validator: safety.NewValidator(policy, nil, logger),
		Executor:  executor,
		Insight: NewInsightGenerator(insight, safety.NewFilter(policy), fastRetry(),
			GenerationOptions{Temperature: 0.3, MaxTokens: 512}, nil, logger),
		Metrics:     metrics.New(prometheus.NewRegistry()),
		PrivacyMode: true,
		Logger:      logger,
	})
	return &testPipeline{Pipeline: p, execs: executor, generationLLM: generation, insightLLM: insight, fixture: fixture}
}
