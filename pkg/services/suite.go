package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

// ReportFileName is the file WriteReport creates.
const ReportFileName = "evaluation_report.json"

// DefaultSuiteQuestions are run when RunSuite gets no questions.
var DefaultSuiteQuestions = []string{
	"How many patients have abnormal blood pressure?",
	"What is the average age of patients with chronic kidney disease?",
	"Show me patients above 60 years with BMI over 30",
	"What is the average physical activity for patients with high stress?",
}

// SuiteItem is one question of an evaluation run.
type SuiteItem struct {
	Question      string                 `json:"question"`
	TransactionID uuid.UUID              `json:"transaction_id"`
	Query         *models.GeneratedQuery `json:"query,omitempty"`
	RowCount      int                    `json:"row_count"`
	Truncated     bool                   `json:"truncated"`
	Insight       string                 `json:"insight,omitempty"`
	Fallback      bool                   `json:"insight_fallback"`
	Error         *apperrors.Error       `json:"error,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`
	Score         models.EvaluationScore `json:"score"`
}

// SuiteReport is the result of RunSuite.
type SuiteReport struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	Kind         models.QueryKind       `json:"kind"`
	TotalQueries int                    `json:"total_queries"`
	Succeeded    int                    `json:"succeeded"`
	Aggregate    models.EvaluationScore `json:"aggregate"`
	Items        []SuiteItem            `json:"items"`
}

// RunSuite processes each question and scores the outcome. Failed questions
// score zero on the insight axes.
func (p *Pipeline) RunSuite(ctx context.Context, questions []string, kind models.QueryKind) (*SuiteReport, error) {
	if len(questions) == 0 {
		questions = DefaultSuiteQuestions
	}
	ev, err := p.Evaluator(ctx)
	if err != nil {
		return nil, err
	}

	report := &SuiteReport{GeneratedAt: time.Now().UTC(), Kind: kind, TotalQueries: len(questions)}
	scenarios := make([]models.Scenario, 0, len(questions))
	for _, q := range questions {
		tx := p.ProcessQuery(ctx, q, kind)
		item := SuiteItem{
			Question:      q,
			TransactionID: tx.ID,
			Query:         tx.GeneratedQuery,
			Error:         tx.Error,
			DurationMs:    tx.Duration.Milliseconds(),
		}
		if tx.ExecutionResult != nil {
			item.RowCount = tx.ExecutionResult.RowCount
			item.Truncated = tx.ExecutionResult.Truncated
		}
		if tx.Insight != nil {
			item.Insight = tx.Insight.Text
			item.Fallback = tx.Insight.Fallback
		}
		if tx.Succeeded() {
			report.Succeeded++
		}

		scenario := tx.Scenario()
		item.Score = ev.Evaluate(scenario.Question, scenario.Query, scenario.Result, scenario.Insight)
		p.observeScore(item.Score)
		scenarios = append(scenarios, scenario)
		report.Items = append(report.Items, item)
	}
	report.Aggregate = ev.EvaluateBatch(scenarios).Aggregate

	p.logger.Info("Evaluation suite finished",
		zap.Int("questions", report.TotalQueries),
		zap.Int("succeeded", report.Succeeded),
		zap.Float64("overall", report.Aggregate.Overall))
	return report, nil
}

// WriteReport writes the report as indented JSON to dir and returns the file path.
func WriteReport(dir string, report *SuiteReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, ReportFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
