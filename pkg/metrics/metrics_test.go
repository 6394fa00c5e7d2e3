package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveQuestion("relational", OutcomeSuccess)
	m.ObserveQuestion("relational", "ValidationError")
	m.ObserveQuestion("relational", "ValidationError")
	m.ObserveViolations([]string{"denied_verb", "structure", "denied_verb"})
	m.ObserveInsight(true, 2)
	m.ObserveInsight(false, 0)
	m.ObserveTruncated()
	m.ObserveStage("execute", 12*time.Millisecond)
	m.ObserveGenerationAttempts(2)
	m.ObserveScore(1, 0.5, 0.8, 1, 0.81)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.questions.WithLabelValues("relational", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.questions.WithLabelValues("relational", "ValidationError")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("denied_verb")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.insightFallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.filteredSentence))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.truncatedResults))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["healthquery_stage_duration_ms"])
	assert.True(t, names["healthquery_evaluation_score"])
	assert.True(t, names["healthquery_generation_attempts"])
}

func TestPipeline_NilIsNoop(t *testing.T) {
	var m *Pipeline
	assert.NotPanics(t, func() {
		m.ObserveQuestion("relational", OutcomeSuccess)
		m.ObserveStage("generate", time.Second)
		m.ObserveViolations([]string{"table"})
		m.ObserveInsight(true, 1)
		m.ObserveTruncated()
		m.ObserveGenerationAttempts(1)
		m.ObserveScore(0, 0, 0, 0, 0)
	})
}
