package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/prompts"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/retry"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/schema"
	sqlcheck "github.com/ekaya-inc/ekaya-healthquery/pkg/sql"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/tabular"
)

// Stage names used for logging, completion context and metrics.
const (
	StageSchema     = "schema"
	StageGeneration = "query_generation"
	StageValidation = "validation"
	StageExecution  = "execution"
	StageInsight    = "insight"
)

// QueryGenerator asks the completion service for a candidate query.
type QueryGenerator interface {
	// Generate returns a query that parses and references only known tables.
	// It has not been safety-checked. Failure is a GenerationError.
	Generate(ctx context.Context, question string, tables []models.TableSchema, kind models.QueryKind) (*models.GeneratedQuery, error)
}

// GenerationOptions are the sampling parameters for query generation.
type GenerationOptions struct {
	Temperature float64
	MaxTokens   int
}

type queryGenerator struct {
	completer llm.Completer
	retry     *retry.Config
	opts      GenerationOptions
	logger    *zap.Logger
}

// NewQueryGenerator creates a generator that retries under policy.
func NewQueryGenerator(completer llm.Completer, policy *retry.Config, opts GenerationOptions, logger *zap.Logger) QueryGenerator {
	if policy == nil {
		policy = retry.DefaultConfig()
	}
	return &queryGenerator{
		completer: completer,
		retry:     policy,
		opts:      opts,
		logger:    logger.Named("query-generator"),
	}
}

var _ QueryGenerator = (*queryGenerator)(nil)

// rejectedCompletion is a reply that arrived but cannot be used. It is always retried.
type rejectedCompletion struct {
	reason string
	cause  error
}

func (e *rejectedCompletion) Error() string     { return e.reason }
func (e *rejectedCompletion) Unwrap() error     { return e.cause }
func (e *rejectedCompletion) IsRetryable() bool { return true }

func (g *queryGenerator) Generate(ctx context.Context, question string, tables []models.TableSchema, kind models.QueryKind) (*models.GeneratedQuery, error) {
	if !kind.IsValid() {
		return nil, apperrors.Generation(apperrors.ErrUnknownQueryKind, fmt.Sprintf("query kind %q is not supported", kind))
	}

	schemaText := schema.Render(tables)
	txID, _ := audit.TransactionUUID(ctx)
	var corrections []string

	query, attempts, err := retry.DoWithResult(ctx, g.retry, func(attempt int) (*models.GeneratedQuery, error) {
		req := llm.CompletionRequest{
			SystemPrompt: prompts.QuerySystemPrompt(kind),
			UserPrompt:   prompts.BuildQueryPrompt(schemaText, question, kind, corrections),
			Temperature:  g.opts.Temperature,
			MaxTokens:    g.opts.MaxTokens,
		}
		result, err := g.completer.Complete(llm.WithStageContext(ctx, txID, StageGeneration, attempt), req)
		if err != nil {
			return nil, err
		}

		q, rejectErr := parseCandidate(result.Content, kind, tables)
		if rejectErr != nil {
			g.logger.Warn("Query candidate rejected",
				zap.Int("attempt", attempt),
				zap.String("kind", string(kind)),
				zap.String("reason", rejectErr.reason))
			corrections = append(corrections, rejectErr.reason)
			return nil, rejectErr
		}
		return q, nil
	})
	if err != nil {
		g.logger.Error("Query generation failed",
			zap.Int("attempts", attempts),
			zap.String("error", logging.SanitizeError(err)))
		return nil, generationError(err, attempts)
	}

	query.Attempts = attempts
	g.logger.Debug("Query generated",
		zap.Int("attempts", attempts),
		zap.String("query", logging.SanitizeQuery(query.Text)))
	return query, nil
}

func generationError(err error, attempts int) *apperrors.Error {
	reasons := []string{fmt.Sprintf("no usable query was produced after %d attempt(s)", attempts)}

	var rejected *rejectedCompletion
	var llmErr *llm.Error
	switch {
	case errors.As(err, &rejected):
		reasons = append(reasons, "the last reply was rejected: "+rejected.reason)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		reasons = append(reasons, "the completion service did not answer in time")
	case errors.As(err, &llmErr):
		reasons = append(reasons, fmt.Sprintf("the completion service failed (%s)", llmErr.Type))
	default:
		reasons = append(reasons, "the completion service failed")
	}
	return apperrors.Generation(err, reasons...)
}

// parseCandidate extracts the query from a reply and checks that it is a single
// query over known tables. Deny-list checks are left to the validator.
func parseCandidate(content string, kind models.QueryKind, tables []models.TableSchema) (*models.GeneratedQuery, *rejectedCompletion) {
	var text string
	if kind == models.QueryKindTabular {
		text = llm.ExtractCode(content, "python", "pandas", "py")
	} else {
		text = llm.ExtractCode(content, "sql")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &rejectedCompletion{reason: "the reply was empty", cause: apperrors.ErrEmptyCompletion}
	}

	var referenced []sqlcheck.TableRef
	if kind == models.QueryKindTabular {
		program, err := tabular.Parse(text)
		if err != nil {
			return nil, &rejectedCompletion{reason: "the reply is not a single expression", cause: err}
		}
		for _, name := range program.Tables() {
			referenced = append(referenced, sqlcheck.TableRef{Name: name})
		}
	} else {
		normalized := sqlcheck.ValidateAndNormalize(text)
		if normalized.Error != nil {
			return nil, &rejectedCompletion{reason: "the reply is not a single SQL statement", cause: normalized.Error}
		}
		text = normalized.NormalizedSQL
		referenced = sqlcheck.ReferencedTables(normalized.Tokens)
	}

	var unknown, names []string
	for _, ref := range referenced {
		if _, ok := models.FindTable(tables, ref.Name); !ok || !ref.InStoreSchema() {
			unknown = append(unknown, ref.String())
			continue
		}
		names = append(names, ref.Name)
	}
	if len(unknown) > 0 {
		return nil, &rejectedCompletion{reason: fmt.Sprintf("unknown table(s) %s; use only %s",
			strings.Join(unknown, ", "), strings.Join(models.TableNames(tables), ", "))}
	}

	return &models.GeneratedQuery{Text: text, Kind: kind, Tables: names}, nil
}
