package services

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/metrics"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/prompts"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
	sqlcheck "github.com/ekaya-inc/ekaya-healthquery/pkg/sql"
)

// SchemaSource provides the cached table description.
type SchemaSource interface {
	Describe(ctx context.Context) ([]models.TableSchema, error)
	Refresh(ctx context.Context) ([]models.TableSchema, error)
}

// PipelineDeps are the stages and collaborators a Pipeline owns.
type PipelineDeps struct {
	Schema    SchemaSource
	Generator QueryGenerator
	Validator *safety.Validator
	Executor  QueryExecutor
	Insight   InsightGenerator
	Metrics   *metrics.Pipeline // optional
	// PrivacyMode keeps question text out of the logs.
	PrivacyMode bool
	Logger      *zap.Logger
}

// Pipeline runs questions through schema description, generation, validation,
// execution and insight generation, strictly in that order.
type Pipeline struct {
	schema    SchemaSource
	generator QueryGenerator
	validator *safety.Validator
	executor  QueryExecutor
	insight   InsightGenerator
	metrics   *metrics.Pipeline
	privacy   bool
	logger    *zap.Logger
}

// NewPipeline creates a pipeline from its stages.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		schema:    deps.Schema,
		generator: deps.Generator,
		validator: deps.Validator,
		executor:  deps.Executor,
		insight:   deps.Insight,
		metrics:   deps.Metrics,
		privacy:   deps.PrivacyMode,
		logger:    logger.Named("pipeline"),
	}
}

// Schema returns the cached table description.
func (p *Pipeline) Schema(ctx context.Context) ([]models.TableSchema, error) {
	return p.schema.Describe(ctx)
}

// RefreshSchema re-reads store metadata.
func (p *Pipeline) RefreshSchema(ctx context.Context) ([]models.TableSchema, error) {
	return p.schema.Refresh(ctx)
}

// ProcessQuery answers one question. The returned transaction carries either an
// insight or a structured error, never both.
func (p *Pipeline) ProcessQuery(ctx context.Context, question string, kind models.QueryKind) *models.Transaction {
	tx := &models.Transaction{
		ID:        uuid.New(),
		Question:  question,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	ctx = audit.WithTransactionID(ctx, tx.ID)
	logger := p.logger.With(zap.String("transaction_id", tx.ID.String()))
	logger.Info("Processing question",
		zap.String("kind", string(kind)),
		zap.String("question", logging.RedactQuestion(question, p.privacy)))

	defer func() {
		tx.Duration = time.Since(tx.StartedAt)
		outcome := metrics.OutcomeSuccess
		if tx.Error != nil {
			outcome = string(tx.Error.Kind)
		}
		p.metrics.ObserveQuestion(string(kind), outcome)
		logger.Info("Question processed",
			zap.String("outcome", outcome),
			zap.Duration("duration", tx.Duration))
	}()

	// Schema
	start := time.Now()
	tables, err := p.schema.Describe(ctx)
	p.metrics.ObserveStage(StageSchema, time.Since(start))
	if err != nil {
		tx.Error = asAppError(err, apperrors.KindSchema, "the store schema could not be read")
		return tx
	}

	// Generation
	start = time.Now()
	query, err := p.generator.Generate(ctx, question, tables, kind)
	p.metrics.ObserveStage(StageGeneration, time.Since(start))
	if err != nil {
		tx.Error = asAppError(err, apperrors.KindGeneration, "no usable query was produced")
		return tx
	}
	tx.GeneratedQuery = query
	p.metrics.ObserveGenerationAttempts(query.Attempts)

	// Validation
	start = time.Now()
	validated, validation := p.validator.Check(ctx, *query, tables)
	p.metrics.ObserveStage(StageValidation, time.Since(start))
	tx.Validation = &validation
	if !validation.Accepted {
		rules := make([]string, len(validation.Violations))
		for i, v := range validation.Violations {
			rules[i] = v.Rule
		}
		p.metrics.ObserveViolations(rules)
		tx.Error = apperrors.Validation(validation.Reasons()...)
		return tx
	}
	query.Tables = validated.Tables()

	// Execution
	start = time.Now()
	result, err := p.executor.Execute(ctx, validated)
	p.metrics.ObserveStage(StageExecution, time.Since(start))
	if err != nil {
		tx.Error = asAppError(err, apperrors.KindExecution, "the store failed to run the query")
		return tx
	}
	tx.ExecutionResult = result
	if result.Truncated {
		p.metrics.ObserveTruncated()
	}

	// Insight
	start = time.Now()
	population := p.population(ctx, tables, validated, result)
	insight := p.insight.Summarize(ctx, question, *query, result, population)
	p.metrics.ObserveStage(StageInsight, time.Since(start))
	p.metrics.ObserveInsight(insight.Fallback, insight.RemovedSentences)
	tx.Insight = insight

	return tx
}

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// population counts the rows of the queried table when the result is a filtered
// count, so the insight can state a percentage. The extra query goes through the
// validator and executor like any other.
func (p *Pipeline) population(ctx context.Context, tables []models.TableSchema, query safety.ValidatedQuery, result *models.ExecutionResult) *prompts.Population {
	col, value, ok := result.Scalar()
	if !ok || !isCountResult(col, query) {
		return nil
	}
	if _, numeric := prompts.Number(value); !numeric {
		return nil
	}
	tokens, err := sqlcheck.Tokenize(result.SQL)
	if err != nil || !sqlcheck.HasKeyword(tokens, "WHERE") {
		return nil
	}

	base := tables[0].Name
	if referenced := query.Tables(); len(referenced) > 0 {
		base = referenced[0]
	}
	from := base
	if !plainIdentifier.MatchString(base) {
		from = `"` + base + `"`
	}
	totalQuery := models.GeneratedQuery{
		Text:   "SELECT COUNT(*) AS total FROM " + from,
		Kind:   models.QueryKindRelational,
		Tables: []string{base},
	}

	checked, validation := p.validator.Check(ctx, totalQuery, tables)
	if !validation.Accepted {
		p.logger.Debug("Population query rejected", zap.Strings("reasons", validation.Reasons()))
		return nil
	}
	totalResult, err := p.executor.Execute(ctx, checked)
	if err != nil {
		p.logger.Debug("Population query failed", zap.String("error", logging.SanitizeError(err)))
		return nil
	}
	_, total, ok := totalResult.Scalar()
	if !ok {
		return nil
	}
	n, ok := prompts.Number(total)
	if !ok || n <= 0 {
		return nil
	}
	return &prompts.Population{Total: int64(n)}
}

// isCountResult reports whether a scalar result is a row count: either the
// column is named like one or the only selected expression is a COUNT.
func isCountResult(col string, query safety.ValidatedQuery) bool {
	if prompts.IsCountColumn(col) {
		return true
	}
	if query.Kind() != models.QueryKindRelational {
		return false
	}
	cols, err := sqlcheck.ParseSelectColumns(query.Text())
	if err != nil || len(cols) != 1 {
		return false
	}
	tokens, err := sqlcheck.Tokenize(cols[0].Expr)
	if err != nil {
		return false
	}
	for _, fn := range sqlcheck.AggregateCalls(tokens) {
		if fn == "COUNT" {
			return true
		}
	}
	return false
}

// asAppError returns err as a structured error, wrapping it with kind when it is not one.
func asAppError(err error, kind apperrors.Kind, reason string) *apperrors.Error {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		reason += " before the deadline"
	}
	return apperrors.New(kind, err, reason)
}

// Evaluator returns an evaluator over the current schema.
func (p *Pipeline) Evaluator(ctx context.Context) (*Evaluator, error) {
	tables, err := p.schema.Describe(ctx)
	if err != nil {
		return nil, asAppError(err, apperrors.KindSchema, "the store schema could not be read")
	}
	return NewEvaluator(p.validator.Policy(), tables), nil
}

// Evaluate scores one completed tuple.
func (p *Pipeline) Evaluate(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) (models.EvaluationScore, error) {
	ev, err := p.Evaluator(ctx)
	if err != nil {
		return models.EvaluationScore{}, err
	}
	score := ev.Evaluate(question, query, result, insight)
	p.observeScore(score)
	return score, nil
}

// EvaluateBatch scores several tuples and their aggregate.
func (p *Pipeline) EvaluateBatch(ctx context.Context, scenarios []models.Scenario) (models.BatchEvaluation, error) {
	ev, err := p.Evaluator(ctx)
	if err != nil {
		return models.BatchEvaluation{}, err
	}
	batch := ev.EvaluateBatch(scenarios)
	for _, s := range batch.PerItem {
		p.observeScore(s)
	}
	return batch, nil
}

func (p *Pipeline) observeScore(s models.EvaluationScore) {
	p.metrics.ObserveScore(s.SQLAccuracy, s.Relevance, s.Coherence, s.Safety, s.Overall)
}
