package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/schema"
)

// PipelineService is the part of the question pipeline the tools call.
type PipelineService interface {
	Schema(ctx context.Context) ([]models.TableSchema, error)
	RefreshSchema(ctx context.Context) ([]models.TableSchema, error)
	ProcessQuery(ctx context.Context, question string, kind models.QueryKind) *models.Transaction
	Evaluate(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) (models.EvaluationScore, error)
}

// PipelineToolDeps contains the dependencies of the pipeline tools.
type PipelineToolDeps struct {
	Pipeline PipelineService
	Logger   *zap.Logger
}

// RegisterPipelineTools adds describe_schema, process_query and evaluate.
func RegisterPipelineTools(s *server.MCPServer, deps *PipelineToolDeps) {
	registerDescribeSchemaTool(s, deps)
	registerProcessQueryTool(s, deps)
	registerEvaluateTool(s, deps)
}

type describeSchemaResult struct {
	SchemaContext string               `json:"schema_context"`
	Tables        []models.TableSchema `json:"tables"`
	Count         int                  `json:"count"`
	Refreshed     bool                 `json:"refreshed"`
}

func registerDescribeSchemaTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"describe_schema",
		mcp.WithDescription(
			"Describe the health dataset tables available to questions: column names, types, "+
				"semantic roles (identifier, flag, categorical, measure) and value hints.",
		),
		mcp.WithBoolean(
			"refresh",
			mcp.Description("If true, re-read the schema from the store instead of the cached copy (default: false)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		refresh, _ := getOptionalBool(req, "refresh")
		load := deps.Pipeline.Schema
		if refresh {
			load = deps.Pipeline.RefreshSchema
		}

		tables, err := load(ctx)
		if err != nil {
			if appErr, ok := apperrors.As(err); ok {
				return NewPipelineErrorResult(appErr, ""), nil
			}
			return nil, fmt.Errorf("failed to describe schema: %w", err)
		}

		jsonResult, err := json.Marshal(describeSchemaResult{
			SchemaContext: schema.Render(tables),
			Tables:        tables,
			Count:         len(tables),
			Refreshed:     refresh,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

type processQueryResult struct {
	TransactionID      string       `json:"transaction_id"`
	Question           string       `json:"question"`
	Kind               string       `json:"kind"`
	Query              string       `json:"query"`
	Attempts           int          `json:"attempts"`
	Columns            []string     `json:"columns"`
	Rows               []models.Row `json:"rows"`
	RowCount           int          `json:"row_count"`
	Truncated          bool         `json:"truncated"`
	Insight            string       `json:"insight"`
	DisclaimerAppended bool         `json:"disclaimer_appended"`
	Fallback           bool         `json:"fallback"`
	DurationMs         int64        `json:"duration_ms"`
}

func registerProcessQueryTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"process_query",
		mcp.WithDescription(
			"Answer a natural-language question about the health dataset. The question is turned into a query, "+
				"checked against the read-only safety rules, run with a row cap, and summarised into an insight "+
				"that always ends with a medical disclaimer.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer, e.g. 'How many patients have abnormal blood pressure?'"),
		),
		mcp.WithString(
			"kind",
			mcp.Description("Query kind: 'relational' (default) or 'tabular-expression'"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := getRequiredString(req, "question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		kind, err := models.ParseQueryKind(getOptionalString(req, "kind"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		tx := deps.Pipeline.ProcessQuery(ctx, question, kind)
		if tx.Error != nil {
			deps.Logger.Debug("Question failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("kind", string(tx.Error.Kind)))
			return NewPipelineErrorResult(tx.Error, tx.ID.String()), nil
		}

		out := processQueryResult{
			TransactionID: tx.ID.String(),
			Question:      tx.Question,
			Kind:          string(tx.Kind),
			DurationMs:    tx.Duration.Milliseconds(),
		}
		if q := tx.GeneratedQuery; q != nil {
			out.Query = q.Text
			out.Attempts = q.Attempts
		}
		if r := tx.ExecutionResult; r != nil {
			out.Columns = r.Columns
			out.Rows = r.Rows
			out.RowCount = r.RowCount
			out.Truncated = r.Truncated
		}
		if in := tx.Insight; in != nil {
			out.Insight = in.Text
			out.DisclaimerAppended = in.DisclaimerAppended
			out.Fallback = in.Fallback
		}

		jsonResult, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func registerEvaluateTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"evaluate",
		mcp.WithDescription(
			"Score a question, query and insight on query accuracy, relevance, coherence and safety. "+
				"Overall = 0.3*sql_accuracy + 0.3*relevance + 0.2*coherence + 0.2*safety.",
		),
		mcp.WithString("question", mcp.Required(), mcp.Description("The original question")),
		mcp.WithString("query", mcp.Required(), mcp.Description("The query text that answered it")),
		mcp.WithString(
			"kind",
			mcp.Description("Query kind: 'relational' (default) or 'tabular-expression'"),
		),
		mcp.WithString("insight", mcp.Description("The insight text to score")),
		mcp.WithObject(
			"result",
			mcp.Description("Optional execution result with 'columns' and 'rows'"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := getRequiredString(req, "question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		text, err := getRequiredString(req, "query")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		kind, err := models.ParseQueryKind(getOptionalString(req, "kind"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		var result *models.ExecutionResult
		var decoded models.ExecutionResult
		ok, err := decodeObject(req, "result", &decoded)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if ok {
			if decoded.RowCount == 0 {
				decoded.RowCount = len(decoded.Rows)
			}
			result = &decoded
		}

		var insight *models.Insight
		if in := getOptionalString(req, "insight"); in != "" {
			insight = &models.Insight{Text: in}
		}

		score, err := deps.Pipeline.Evaluate(ctx, question, models.GeneratedQuery{Text: text, Kind: kind}, result, insight)
		if err != nil {
			if appErr, ok := apperrors.As(err); ok {
				return NewPipelineErrorResult(appErr, ""), nil
			}
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}

		jsonResult, err := json.Marshal(score)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal score: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
