package services

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
	sqlcheck "github.com/ekaya-inc/ekaya-healthquery/pkg/sql"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/tabular"
)

// Evaluator scores completed (question, query, result, insight) tuples.
// It is a pure function of its inputs and the schema it was built with.
type Evaluator struct {
	validator *safety.Validator
	filter    *safety.Filter
	tables    []models.TableSchema
}

// NewEvaluator builds an evaluator for policy over tables. Its validator does not audit.
func NewEvaluator(policy safety.Policy, tables []models.TableSchema) *Evaluator {
	return &Evaluator{
		validator: safety.NewValidator(policy, nil, zap.NewNop()),
		filter:    safety.NewFilter(policy),
		tables:    tables,
	}
}

// Evaluate scores one tuple. result and insight may be nil for failed transactions.
func (e *Evaluator) Evaluate(question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) models.EvaluationScore {
	sqlScore := e.sqlAccuracy(question, query)
	if insight == nil || strings.TrimSpace(insight.Text) == "" {
		return models.NewEvaluationScore(sqlScore, 0, 0, 0)
	}
	body := e.body(insight.Text)
	return models.NewEvaluationScore(
		sqlScore,
		Relevance(question, body),
		Coherence(body),
		e.safetyScore(insight.Text),
	)
}

// EvaluateBatch scores each scenario and averages every axis.
func (e *Evaluator) EvaluateBatch(scenarios []models.Scenario) models.BatchEvaluation {
	batch := models.BatchEvaluation{PerItem: make([]models.EvaluationScore, 0, len(scenarios))}
	if len(scenarios) == 0 {
		return batch
	}

	var sqlSum, relSum, cohSum, safeSum float64
	for _, s := range scenarios {
		score := e.Evaluate(s.Question, s.Query, s.Result, s.Insight)
		batch.PerItem = append(batch.PerItem, score)
		sqlSum += score.SQLAccuracy
		relSum += score.Relevance
		cohSum += score.Coherence
		safeSum += score.Safety
	}
	n := float64(len(scenarios))
	batch.Aggregate = models.NewEvaluationScore(sqlSum/n, relSum/n, cohSum/n, safeSum/n)
	return batch
}

// body strips the disclaimer so it does not count towards relevance or coherence.
func (e *Evaluator) body(text string) string {
	if d := e.filter.Disclaimer(); d != "" {
		if stripped := strings.TrimSpace(strings.ReplaceAll(text, d, "")); stripped != "" {
			return stripped
		}
	}
	return text
}

// Sub-score weights inside sql_accuracy.
const (
	sqlParseWeight     = 0.4
	sqlValidWeight     = 0.3
	sqlConstructWeight = 0.3
)

// construct is a SQL feature a question's wording implies.
type construct struct {
	cue     *regexp.Regexp
	present func(tokens []sqlcheck.Token) bool
}

func aggregateCall(name string) func([]sqlcheck.Token) bool {
	return func(tokens []sqlcheck.Token) bool {
		for _, a := range sqlcheck.AggregateCalls(tokens) {
			if a == name {
				return true
			}
		}
		return false
	}
}

func keyword(kw string) func([]sqlcheck.Token) bool {
	return func(tokens []sqlcheck.Token) bool { return sqlcheck.HasKeyword(tokens, kw) }
}

var expectedConstructs = []construct{
	{regexp.MustCompile(`(?i)\b(how many|number of|count)\b`), aggregateCall("COUNT")},
	{regexp.MustCompile(`(?i)\b(average|mean|avg)\b`), aggregateCall("AVG")},
	{regexp.MustCompile(`(?i)\b(total|sum)\b`), func(t []sqlcheck.Token) bool { return aggregateCall("SUM")(t) || aggregateCall("COUNT")(t) }},
	{regexp.MustCompile(`(?i)\b(maximum|max|highest|largest|most)\b`), func(t []sqlcheck.Token) bool { return aggregateCall("MAX")(t) || keyword("ORDER")(t) }},
	{regexp.MustCompile(`(?i)\b(minimum|min|lowest|smallest|least)\b`), func(t []sqlcheck.Token) bool { return aggregateCall("MIN")(t) || keyword("ORDER")(t) }},
	{regexp.MustCompile(`(?i)\b(with|where|who|whose|above|below|over|under|than|have|has|having)\b`), keyword("WHERE")},
	{regexp.MustCompile(`(?i)\b(per|each|by|breakdown|distribution|group)\b`), keyword("GROUP")},
}

// sqlAccuracy checks that the query parses, passes the validator and contains the
// constructs the question's wording implies. The result is never compared.
func (e *Evaluator) sqlAccuracy(question string, query models.GeneratedQuery) float64 {
	sqlText, ok := e.comparableSQL(query)
	if !ok {
		return 0
	}
	score := sqlParseWeight

	if e.validator.Validate(context.Background(), query, e.tables).Accepted {
		score += sqlValidWeight
	}

	tokens, err := sqlcheck.Tokenize(sqlText)
	if err != nil {
		return score
	}
	var expected, found int
	for _, c := range expectedConstructs {
		if !c.cue.MatchString(question) {
			continue
		}
		expected++
		if c.present(tokens) {
			found++
		}
	}
	if expected == 0 {
		return score + sqlConstructWeight
	}
	return score + sqlConstructWeight*float64(found)/float64(expected)
}

// comparableSQL returns SQL for the query's constructs: the text itself, or the
// compiled form of a tabular expression.
func (e *Evaluator) comparableSQL(query models.GeneratedQuery) (string, bool) {
	switch query.Kind {
	case models.QueryKindRelational:
		v := sqlcheck.ValidateAndNormalize(query.Text)
		return v.NormalizedSQL, v.Error == nil
	case models.QueryKindTabular:
		program, err := tabular.Parse(query.Text)
		if err != nil {
			return "", false
		}
		lowered, err := tabular.Lower(program, tabular.Options{Tables: e.tables})
		if err != nil {
			return "", false
		}
		return lowered.SQL, true
	default:
		return "", false
	}
}

func (e *Evaluator) safetyScore(text string) float64 {
	sentences := safety.Sentences(e.body(text))
	flagged := 0
	for _, s := range sentences {
		if len(e.filter.Scan(s)) > 0 {
			flagged++
		}
	}
	score := 1.0
	if len(sentences) > 0 {
		score -= float64(flagged) / float64(len(sentences))
	}
	if !e.filter.HasDisclaimer(text) {
		score *= 0.5
	}
	return clamp01(score)
}

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z'-]*|[0-9]+(?:\.[0-9]+)?`)

// stopWords are excluded from relevance keywords and counted for coherence.
var stopWords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "all": true, "also": true, "an": true, "and": true,
	"any": true, "are": true, "as": true, "at": true, "be": true, "been": true, "below": true, "between": true,
	"both": true, "but": true, "by": true, "can": true, "did": true, "do": true, "does": true, "each": true,
	"for": true, "from": true, "had": true, "has": true, "have": true, "having": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true, "many": true, "me": true,
	"more": true, "most": true, "much": true, "my": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "over": true, "per": true, "show": true, "so": true, "some": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "to": true, "under": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "whose": true, "why": true, "will": true,
	"with": true, "within": true, "would": true, "you": true, "your": true, "give": true, "tell": true,
	"list": true, "find": true,
}

func words(text string) []string {
	raw := wordPattern.FindAllString(text, -1)
	out := make([]string, len(raw))
	for i, w := range raw {
		out[i] = strings.ToLower(strings.Trim(w, "'-"))
	}
	return out
}

// keywords returns the singular, lower-cased content words of text.
func keywords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range words(text) {
		if w == "" || stopWords[w] {
			continue
		}
		set[inflection.Singular(w)] = true
	}
	return set
}

// Relevance is the share of the question's content keywords that appear in the insight.
func Relevance(question, insight string) float64 {
	q := keywords(question)
	if len(q) == 0 {
		return 1
	}
	in := keywords(insight)
	hit := 0
	for k := range q {
		if in[k] {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// Coherence is a readability heuristic from sentence length, its variance and
// the share of stop words.
func Coherence(text string) float64 {
	sentences := safety.Sentences(text)
	if len(sentences) == 0 {
		return 0
	}

	lengths := make([]float64, 0, len(sentences))
	var total, stops float64
	for _, s := range sentences {
		ws := words(s)
		if len(ws) == 0 {
			continue
		}
		lengths = append(lengths, float64(len(ws)))
		for _, w := range ws {
			total++
			if stopWords[w] {
				stops++
			}
		}
	}
	if len(lengths) == 0 {
		return 0
	}

	mean := total / float64(len(lengths))
	var variance float64
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lengths))
	cv := math.Sqrt(variance) / mean

	var lengthScore float64
	switch {
	case mean < 8:
		lengthScore = mean / 8
	case mean <= 25:
		lengthScore = 1
	default:
		lengthScore = 1 - (mean-25)/25
	}

	ratio := stops / total
	var stopScore float64
	switch {
	case ratio < 0.2:
		stopScore = ratio / 0.2
	case ratio <= 0.6:
		stopScore = 1
	default:
		stopScore = 1 - (ratio-0.6)/0.4
	}

	return clamp01(0.4*clamp01(lengthScore) + 0.3/(1+cv) + 0.3*clamp01(stopScore))
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
