package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

type mockPipeline struct {
	tables    []models.TableSchema
	schemaErr error
	refreshed bool

	txError  *apperrors.Error
	question string
	kind     models.QueryKind

	evalQuery   models.GeneratedQuery
	evalResult  *models.ExecutionResult
	evalInsight *models.Insight
	evalErr     error
}

var _ PipelineService = (*mockPipeline)(nil)

func newMockPipeline() *mockPipeline {
	return &mockPipeline{
		tables: []models.TableSchema{{
			Name: "health_dataset_1",
			Columns: []models.Column{
				{Name: "Patient_Number", DataType: "INTEGER", SemanticType: "identifier"},
				{Name: "Age", DataType: "INTEGER", SemanticType: "measure", Description: "years"},
			},
		}},
	}
}

func (m *mockPipeline) Schema(ctx context.Context) ([]models.TableSchema, error) {
	return m.tables, m.schemaErr
}

func (m *mockPipeline) RefreshSchema(ctx context.Context) ([]models.TableSchema, error) {
	m.refreshed = true
	return m.tables, m.schemaErr
}

func (m *mockPipeline) ProcessQuery(ctx context.Context, question string, kind models.QueryKind) *models.Transaction {
	m.question, m.kind = question, kind
	tx := &models.Transaction{ID: uuid.New(), Question: question, Kind: kind, StartedAt: time.Now(), Duration: 15 * time.Millisecond}
	if m.txError != nil {
		tx.Error = m.txError
		return tx
	}
	tx.GeneratedQuery = &models.GeneratedQuery{
		Text:     "SELECT AVG(Age) AS avg_age FROM health_dataset_1 WHERE Chronic_kidney_disease = 1",
		Kind:     kind,
		Attempts: 1,
	}
	tx.ExecutionResult = &models.ExecutionResult{
		Columns:  []string{"avg_age"},
		Rows:     []models.Row{{"avg_age": 45.09}},
		RowCount: 1,
	}
	tx.Insight = &models.Insight{
		Text:               "The average age of patients with chronic kidney disease is 45.09.\n\nThis is not medical advice.",
		DisclaimerAppended: true,
	}
	return tx
}

func (m *mockPipeline) Evaluate(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) (models.EvaluationScore, error) {
	m.question = question
	m.evalQuery, m.evalResult, m.evalInsight = query, result, insight
	return models.NewEvaluationScore(1, 0.5, 1, 1), m.evalErr
}
