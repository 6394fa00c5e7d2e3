package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

// mockPipeline is a configurable PipelineService for handler tests.
type mockPipeline struct {
	tables    []models.TableSchema
	schemaErr error
	refreshes int

	txError  *apperrors.Error
	question string
	kind     models.QueryKind

	score     models.EvaluationScore
	evalErr   error
	scenarios []models.Scenario

	suiteQuestions []string
	report         *services.SuiteReport
}

var _ PipelineService = (*mockPipeline)(nil)

func newMockPipeline() *mockPipeline {
	return &mockPipeline{
		tables: []models.TableSchema{{
			Name: "health_dataset_1",
			Columns: []models.Column{
				{Name: "Patient_Number", DataType: "INTEGER", SemanticType: "identifier"},
				{Name: "Blood_Pressure_Abnormality", DataType: "INTEGER", SemanticType: "flag"},
			},
		}},
		score: models.NewEvaluationScore(1, 0.8, 0.9, 1),
	}
}

func (m *mockPipeline) Schema(ctx context.Context) ([]models.TableSchema, error) {
	return m.tables, m.schemaErr
}

func (m *mockPipeline) RefreshSchema(ctx context.Context) ([]models.TableSchema, error) {
	m.refreshes++
	return m.tables, m.schemaErr
}

func (m *mockPipeline) ProcessQuery(ctx context.Context, question string, kind models.QueryKind) *models.Transaction {
	m.question, m.kind = question, kind
	tx := &models.Transaction{
		ID:        uuid.New(),
		Question:  question,
		Kind:      kind,
		StartedAt: time.Now(),
		Duration:  42 * time.Millisecond,
	}
	if m.txError != nil {
		tx.Error = m.txError
		return tx
	}
	tx.GeneratedQuery = &models.GeneratedQuery{
		Text:   "SELECT COUNT(*) AS abnormal_bp_count FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1",
		Kind:   kind,
		Tables: []string{"health_dataset_1"},
	}
	tx.ExecutionResult = &models.ExecutionResult{
		Columns:  []string{"abnormal_bp_count"},
		Rows:     []models.Row{{"abnormal_bp_count": int64(987)}},
		RowCount: 1,
	}
	tx.Insight = &models.Insight{
		Text:               "987 patients have abnormal blood pressure.\n\nThis is not medical advice.",
		DisclaimerAppended: true,
	}
	return tx
}

func (m *mockPipeline) Evaluate(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) (models.EvaluationScore, error) {
	m.question = question
	m.scenarios = append(m.scenarios, models.Scenario{Question: question, Query: query, Result: result, Insight: insight})
	return m.score, m.evalErr
}

func (m *mockPipeline) EvaluateBatch(ctx context.Context, scenarios []models.Scenario) (models.BatchEvaluation, error) {
	m.scenarios = scenarios
	if m.evalErr != nil {
		return models.BatchEvaluation{}, m.evalErr
	}
	batch := models.BatchEvaluation{Aggregate: m.score}
	for range scenarios {
		batch.PerItem = append(batch.PerItem, m.score)
	}
	return batch, nil
}

func (m *mockPipeline) RunSuite(ctx context.Context, questions []string, kind models.QueryKind) (*services.SuiteReport, error) {
	m.suiteQuestions, m.kind = questions, kind
	if m.evalErr != nil {
		return nil, m.evalErr
	}
	if m.report != nil {
		return m.report, nil
	}
	return &services.SuiteReport{Kind: kind, TotalQueries: len(questions), Succeeded: len(questions), Aggregate: m.score}, nil
}
