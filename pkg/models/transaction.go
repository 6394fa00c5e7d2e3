package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
)

// Transaction is everything produced while processing one question.
// Exactly one of Insight or Error is set once processing finishes.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	Question        string            `json:"question"`
	Kind            QueryKind         `json:"kind"`
	GeneratedQuery  *GeneratedQuery   `json:"generated_query,omitempty"`
	Validation      *ValidationResult `json:"validation,omitempty"`
	ExecutionResult *ExecutionResult  `json:"execution_result,omitempty"`
	Insight         *Insight          `json:"insight,omitempty"`
	Error           *apperrors.Error  `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
}

// Succeeded reports whether the transaction produced an insight without error.
func (t *Transaction) Succeeded() bool {
	return t.Error == nil && t.Insight != nil
}

// Scenario converts a successful transaction into an evaluation scenario.
func (t *Transaction) Scenario() Scenario {
	s := Scenario{Question: t.Question, Result: t.ExecutionResult, Insight: t.Insight}
	if t.GeneratedQuery != nil {
		s.Query = *t.GeneratedQuery
	}
	return s
}
