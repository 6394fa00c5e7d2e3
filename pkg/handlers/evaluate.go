package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	Question string                  `json:"question"`
	Query    models.GeneratedQuery   `json:"query"`
	Result   *models.ExecutionResult `json:"result,omitempty"`
	Insight  *models.Insight         `json:"insight,omitempty"`
}

// EvaluateBatchRequest is the body of POST /api/evaluate/batch.
type EvaluateBatchRequest struct {
	Scenarios []models.Scenario `json:"scenarios"`
}

// SuiteRequest is the body of POST /api/evaluate/suite. An empty question
// list runs the built-in questions.
type SuiteRequest struct {
	Questions []string `json:"questions,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

// EvaluateHandler serves the scoring endpoints.
type EvaluateHandler struct {
	pipeline PipelineService
	logger   *zap.Logger
}

// NewEvaluateHandler creates a new evaluate handler.
func NewEvaluateHandler(pipeline PipelineService, logger *zap.Logger) *EvaluateHandler {
	return &EvaluateHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers the evaluate handler's routes on the given mux.
func (h *EvaluateHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/evaluate"
	mux.HandleFunc("POST "+base, h.Evaluate)
	mux.HandleFunc("POST "+base+"/batch", h.EvaluateBatch)
	mux.HandleFunc("POST "+base+"/suite", h.RunSuite)
}

// Evaluate handles POST /api/evaluate.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}
	if req.Question == "" {
		h.badRequest(w, "question is required")
		return
	}
	if req.Query.Kind == "" {
		req.Query.Kind = models.QueryKindRelational
	}

	score, err := h.pipeline.Evaluate(r.Context(), req.Question, req.Query, req.Result, req.Insight)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: score}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// EvaluateBatch handles POST /api/evaluate/batch.
func (h *EvaluateHandler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req EvaluateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}
	if len(req.Scenarios) == 0 {
		h.badRequest(w, "at least one scenario is required")
		return
	}
	for i := range req.Scenarios {
		if req.Scenarios[i].Query.Kind == "" {
			req.Scenarios[i].Query.Kind = models.QueryKindRelational
		}
	}

	batch, err := h.pipeline.EvaluateBatch(r.Context(), req.Scenarios)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: batch}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// RunSuite handles POST /api/evaluate/suite: it answers every question and scores the results.
func (h *EvaluateHandler) RunSuite(w http.ResponseWriter, r *http.Request) {
	var req SuiteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "Invalid request body")
			return
		}
	}
	kind, err := models.ParseQueryKind(req.Kind)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	questions := req.Questions
	if len(questions) == 0 {
		questions = services.DefaultSuiteQuestions
	}

	report, err := h.pipeline.RunSuite(r.Context(), questions, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *EvaluateHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *EvaluateHandler) writeError(w http.ResponseWriter, err error) {
	h.logger.Error("Evaluation failed", zap.Error(err))
	if appErr, ok := apperrors.As(err); ok {
		if err := WriteAppError(w, appErr, ""); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := ErrorResponse(w, http.StatusInternalServerError, "evaluation_failed", "evaluation failed"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
