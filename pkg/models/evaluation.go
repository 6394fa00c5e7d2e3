package models

// Weights applied to the sub-scores of an EvaluationScore.
const (
	WeightSQLAccuracy = 0.3
	WeightRelevance   = 0.3
	WeightCoherence   = 0.2
	WeightSafety      = 0.2
)

// EvaluationScore holds four independent sub-scores in [0,1] and their weighted combination.
type EvaluationScore struct {
	SQLAccuracy float64 `json:"sql_accuracy"`
	Relevance   float64 `json:"relevance"`
	Coherence   float64 `json:"coherence"`
	Safety      float64 `json:"safety"`
	Overall     float64 `json:"overall"`
}

// OverallScore combines sub-scores with the fixed weights.
func OverallScore(sqlAccuracy, relevance, coherence, safety float64) float64 {
	return WeightSQLAccuracy*sqlAccuracy +
		WeightRelevance*relevance +
		WeightCoherence*coherence +
		WeightSafety*safety
}

// NewEvaluationScore builds a score whose Overall is derived from the sub-scores.
func NewEvaluationScore(sqlAccuracy, relevance, coherence, safety float64) EvaluationScore {
	return EvaluationScore{
		SQLAccuracy: sqlAccuracy,
		Relevance:   relevance,
		Coherence:   coherence,
		Safety:      safety,
		Overall:     OverallScore(sqlAccuracy, relevance, coherence, safety),
	}
}

// Scenario is one completed (question, query, result, insight) tuple to score.
type Scenario struct {
	Question string           `json:"question"`
	Query    GeneratedQuery   `json:"query"`
	Result   *ExecutionResult `json:"result,omitempty"`
	Insight  *Insight         `json:"insight,omitempty"`
}

// BatchEvaluation is the result of scoring several scenarios.
type BatchEvaluation struct {
	PerItem   []EvaluationScore `json:"per_item"`
	Aggregate EvaluationScore   `json:"aggregate"`
}
