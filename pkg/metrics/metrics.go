// Package metrics exposes pipeline counters and latencies to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for processed questions.
const (
	OutcomeSuccess = "success"
)

// Pipeline holds the collectors for one pipeline instance. A nil *Pipeline records nothing.
type Pipeline struct {
	questions        *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	violations       *prometheus.CounterVec
	generationTries  prometheus.Histogram
	insightFallbacks prometheus.Counter
	filteredSentence prometheus.Counter
	truncatedResults prometheus.Counter
	evaluationScore  *prometheus.HistogramVec
}

// New registers the pipeline collectors with reg.
func New(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		questions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthquery_questions_total",
			Help: "Questions processed, by query kind and outcome (success or error kind).",
		}, []string{"kind", "outcome"}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthquery_stage_duration_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthquery_validation_violations_total",
			Help: "Validator violations, by rule.",
		}, []string{"rule"}),
		generationTries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthquery_generation_attempts",
			Help:    "Completion attempts needed to produce a usable query.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		insightFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "healthquery_insight_fallbacks_total",
			Help: "Insights built from the result template because the completion service failed.",
		}),
		filteredSentence: f.NewCounter(prometheus.CounterOpts{
			Name: "healthquery_insight_filtered_sentences_total",
			Help: "Insight sentences removed by the vocabulary filter.",
		}),
		truncatedResults: f.NewCounter(prometheus.CounterOpts{
			Name: "healthquery_truncated_results_total",
			Help: "Execution results cut at the row cap.",
		}),
		evaluationScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthquery_evaluation_score",
			Help:    "Evaluation sub-scores and overall score.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"axis"}),
	}
}

// ObserveStage records how long a stage took.
func (p *Pipeline) ObserveStage(stage string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.stageLatency.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

// ObserveQuestion counts a finished question.
func (p *Pipeline) ObserveQuestion(kind, outcome string) {
	if p == nil {
		return
	}
	p.questions.WithLabelValues(kind, outcome).Inc()
}

// ObserveViolations counts each violated rule.
func (p *Pipeline) ObserveViolations(rules []string) {
	if p == nil {
		return
	}
	for _, r := range rules {
		p.violations.WithLabelValues(r).Inc()
	}
}

func (p *Pipeline) ObserveGenerationAttempts(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.generationTries.Observe(float64(n))
}

// ObserveInsight records the filter and fallback outcome of an insight.
func (p *Pipeline) ObserveInsight(fallback bool, removedSentences int) {
	if p == nil {
		return
	}
	if fallback {
		p.insightFallbacks.Inc()
	}
	if removedSentences > 0 {
		p.filteredSentence.Add(float64(removedSentences))
	}
}

func (p *Pipeline) ObserveTruncated() {
	if p == nil {
		return
	}
	p.truncatedResults.Inc()
}

// ObserveScore records an evaluation score, one sample per axis.
func (p *Pipeline) ObserveScore(sqlAccuracy, relevance, coherence, safety, overall float64) {
	if p == nil {
		return
	}
	p.evaluationScore.WithLabelValues("sql_accuracy").Observe(sqlAccuracy)
	p.evaluationScore.WithLabelValues("relevance").Observe(relevance)
	p.evaluationScore.WithLabelValues("coherence").Observe(coherence)
	p.evaluationScore.WithLabelValues("safety").Observe(safety)
	p.evaluationScore.WithLabelValues("overall").Observe(overall)
}
