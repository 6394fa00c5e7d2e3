package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

// PipelineService is the part of the pipeline the HTTP and MCP surfaces use.
type PipelineService interface {
	Schema(ctx context.Context) ([]models.TableSchema, error)
	RefreshSchema(ctx context.Context) ([]models.TableSchema, error)
	ProcessQuery(ctx context.Context, question string, kind models.QueryKind) *models.Transaction
	Evaluate(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, insight *models.Insight) (models.EvaluationScore, error)
	EvaluateBatch(ctx context.Context, scenarios []models.Scenario) (models.BatchEvaluation, error)
	RunSuite(ctx context.Context, questions []string, kind models.QueryKind) (*services.SuiteReport, error)
}

var _ PipelineService = (*services.Pipeline)(nil)

// ProcessQueryRequest is the body of POST /api/query.
type ProcessQueryRequest struct {
	Question string `json:"question"`
	Kind     string `json:"kind,omitempty"`
}

// QueryResponse is the successful answer to a question.
type QueryResponse struct {
	TransactionID string                  `json:"transaction_id"`
	Question      string                  `json:"question"`
	Query         *models.GeneratedQuery  `json:"query"`
	Result        *models.ExecutionResult `json:"result"`
	Insight       *models.Insight         `json:"insight"`
	DurationMs    int64                   `json:"duration_ms"`
}

// SchemaResponse lists the tables exposed to query generation.
type SchemaResponse struct {
	Tables []models.TableSchema `json:"tables"`
	Count  int                  `json:"count"`
}

// QueryHandler serves the question and schema endpoints.
type QueryHandler struct {
	pipeline PipelineService
	logger   *zap.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(pipeline PipelineService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Process)
	mux.HandleFunc("GET /api/schema", h.GetSchema)
	mux.HandleFunc("POST /api/schema/refresh", h.RefreshSchema)
}

// Process handles POST /api/query.
func (h *QueryHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	kind, err := models.ParseQueryKind(req.Kind)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_kind", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tx := h.pipeline.ProcessQuery(r.Context(), req.Question, kind)
	if tx.Error != nil {
		if err := WriteAppError(w, tx.Error, tx.ID.String()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ApiResponse{Success: true, Data: QueryResponse{
		TransactionID: tx.ID.String(),
		Question:      tx.Question,
		Query:         tx.GeneratedQuery,
		Result:        tx.ExecutionResult,
		Insight:       tx.Insight,
		DurationMs:    tx.Duration.Milliseconds(),
	}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// GetSchema handles GET /api/schema.
func (h *QueryHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	h.writeSchema(w, r, h.pipeline.Schema)
}

// RefreshSchema handles POST /api/schema/refresh.
func (h *QueryHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	h.writeSchema(w, r, h.pipeline.RefreshSchema)
}

func (h *QueryHandler) writeSchema(w http.ResponseWriter, r *http.Request, load func(context.Context) ([]models.TableSchema, error)) {
	tables, err := load(r.Context())
	if err != nil {
		h.logger.Error("Failed to describe schema", zap.Error(err))
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.Schema(err, "schema could not be described")
		}
		if err := WriteAppError(w, appErr, ""); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ApiResponse{Success: true, Data: SchemaResponse{Tables: tables, Count: len(tables)}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
