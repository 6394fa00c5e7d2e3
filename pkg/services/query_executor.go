package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/tabular"
)

// QueryStore is the part of a datasource the executor needs.
type QueryStore interface {
	Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error)
	QuoteIdentifier(name string) string
}

// ExecutionStrategy runs one kind of validated query.
type ExecutionStrategy interface {
	Execute(ctx context.Context, query safety.ValidatedQuery) (*models.ExecutionResult, error)
}

// QueryExecutor runs validated queries against the store with a row cap and a per-call timeout.
type QueryExecutor interface {
	ExecutionStrategy
	RowCap() int
}

// ExecutorOptions bound each execution.
type ExecutorOptions struct {
	RowCap  int
	Timeout time.Duration
}

// ExecutorOptionsFromConfig reads the store section.
func ExecutorOptionsFromConfig(cfg config.StoreConfig) ExecutorOptions {
	return ExecutorOptions{RowCap: cfg.RowCap, Timeout: cfg.QueryTimeout}
}

type queryExecutor struct {
	strategies map[models.QueryKind]ExecutionStrategy
	opts       ExecutorOptions
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
}

// NewQueryExecutor creates an executor with the relational and tabular strategies.
// auditor may be nil.
func NewQueryExecutor(store QueryStore, opts ExecutorOptions, auditor *audit.SecurityAuditor, logger *zap.Logger) QueryExecutor {
	if opts.RowCap <= 0 {
		opts.RowCap = 100
	}
	if opts.RowCap > config.MaxRowCap {
		opts.RowCap = config.MaxRowCap
	}
	return &queryExecutor{
		strategies: map[models.QueryKind]ExecutionStrategy{
			models.QueryKindRelational: &RelationalStrategy{store: store, rowCap: opts.RowCap},
			models.QueryKindTabular:    &TabularStrategy{store: store, rowCap: opts.RowCap},
		},
		opts:    opts,
		auditor: auditor,
		logger:  logger.Named("query-executor"),
	}
}

var _ QueryExecutor = (*queryExecutor)(nil)

func (e *queryExecutor) RowCap() int { return e.opts.RowCap }

// Execute refuses anything that did not come from an accepting validator.
func (e *queryExecutor) Execute(ctx context.Context, query safety.ValidatedQuery) (*models.ExecutionResult, error) {
	if !query.Valid() {
		return nil, apperrors.Execution(apperrors.ErrUnvalidatedQuery, "the query has not passed safety validation")
	}
	strategy, ok := e.strategies[query.Kind()]
	if !ok {
		return nil, apperrors.Execution(apperrors.ErrUnknownQueryKind, fmt.Sprintf("query kind %q cannot be executed", query.Kind()))
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := strategy.Execute(ctx, query)
	if err != nil {
		var appErr *apperrors.Error
		if !errors.As(err, &appErr) {
			appErr = e.executionError(ctx, err)
		}
		e.logger.Error("Query execution failed",
			zap.String("kind", string(query.Kind())),
			zap.String("query", logging.SanitizeQuery(query.Text())),
			zap.String("error", logging.SanitizeError(err)))
		return nil, appErr
	}
	result.Duration = time.Since(start)

	e.logger.Debug("Query executed",
		zap.String("kind", string(query.Kind())),
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("duration", result.Duration))
	if e.auditor != nil {
		e.auditor.LogQueryExecution(ctx, string(query.Kind()), query.Tables(), result.RowCount, result.Truncated)
	}
	return result, nil
}

// executionError turns a store failure into a caller-facing error without the driver text.
func (e *queryExecutor) executionError(ctx context.Context, err error) *apperrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Execution(fmt.Errorf("%w: %v", apperrors.ErrQueryTimeout, err),
			fmt.Sprintf("the query did not finish within %s", e.opts.Timeout))
	}
	return apperrors.Execution(err, describeStoreError(err))
}

func describeStoreError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "invalid column name"),
		strings.Contains(msg, "column") && (strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")):
		return "the query refers to a column the store does not have"
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "invalid object name"),
		(strings.Contains(msg, "table") || strings.Contains(msg, "relation")) && (strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")):
		return "the query refers to a table the store does not have"
	case strings.Contains(msg, "syntax"):
		return "the store could not parse the query"
	case strings.Contains(msg, "conversion"), strings.Contains(msg, "mismatch"), strings.Contains(msg, "cannot compare"),
		strings.Contains(msg, "invalid input syntax"), strings.Contains(msg, "could not convert"):
		return "the query compares or combines values of incompatible types"
	default:
		return "the store failed to run the query"
	}
}

// RelationalStrategy runs SQL text directly.
type RelationalStrategy struct {
	store  QueryStore
	rowCap int
}

func (s *RelationalStrategy) Execute(ctx context.Context, query safety.ValidatedQuery) (*models.ExecutionResult, error) {
	raw, err := s.store.Query(ctx, query.Text(), s.rowCap)
	if err != nil {
		return nil, err
	}
	return toExecutionResult(raw, query.Text()), nil
}

// TabularStrategy compiles a tabular expression to SQL and runs that. Only the
// validated program's tables and operations can appear in the compiled statement.
type TabularStrategy struct {
	store  QueryStore
	rowCap int
}

func (s *TabularStrategy) Execute(ctx context.Context, query safety.ValidatedQuery) (*models.ExecutionResult, error) {
	program := query.Program()
	if program == nil {
		return nil, apperrors.Execution(apperrors.ErrUnvalidatedQuery, "the tabular expression was not parsed by the validator")
	}
	lowered, err := tabular.Lower(program, tabular.Options{Tables: query.Schema(), Quote: s.store.QuoteIdentifier})
	if err != nil {
		return nil, apperrors.Execution(err, "the expression could not be compiled: "+strings.TrimPrefix(err.Error(), tabular.ErrUnsupported.Error()+": "))
	}

	limit := s.rowCap
	headLimited := lowered.Limit > 0 && lowered.Limit <= s.rowCap
	if headLimited {
		limit = lowered.Limit
	}

	raw, err := s.store.Query(ctx, lowered.SQL, limit)
	if err != nil {
		return nil, err
	}
	if headLimited {
		// head(n) asked for at most n rows; more being available is not truncation
		raw.Truncated = false
	}

	result := toExecutionResult(raw, lowered.SQL)
	if lowered.RoundDigits >= 0 {
		roundRows(result.Rows, lowered.RoundDigits)
	}
	return result, nil
}

func toExecutionResult(raw *datasource.QueryExecutionResult, sqlText string) *models.ExecutionResult {
	rows := make([]models.Row, len(raw.Rows))
	for i, r := range raw.Rows {
		rows[i] = models.Row(r)
	}
	return &models.ExecutionResult{
		Columns:   raw.ColumnNames(),
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: raw.Truncated,
		SQL:       sqlText,
	}
}

func roundRows(rows []models.Row, digits int) {
	scale := math.Pow(10, float64(digits))
	for _, row := range rows {
		for k, v := range row {
			switch f := v.(type) {
			case float64:
				row[k] = math.Round(f*scale) / scale
			case float32:
				row[k] = math.Round(float64(f)*scale) / scale
			}
		}
	}
}
