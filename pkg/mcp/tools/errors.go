package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Errors the caller can act on are returned as tool results so the
// client sees the details instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can fix (invalid parameters, rejected query).
// System failures still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// pipelineErrorDetails is attached to every pipeline failure.
type pipelineErrorDetails struct {
	Kind          apperrors.Kind `json:"kind"`
	Reasons       []string       `json:"reasons"`
	TransactionID string         `json:"transaction_id,omitempty"`
}

// ErrorCode maps a pipeline error kind to a tool error code.
func ErrorCode(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindSchema:
		return "schema_error"
	case apperrors.KindGeneration:
		return "generation_error"
	case apperrors.KindValidation:
		return "validation_error"
	case apperrors.KindExecution:
		return "execution_error"
	default:
		return "internal_error"
	}
}

// NewPipelineErrorResult reports a failed question. Only the reasons are
// exposed; the underlying cause stays in the server logs.
func NewPipelineErrorResult(appErr *apperrors.Error, transactionID string) *mcp.CallToolResult {
	reasons := appErr.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return NewErrorResultWithDetails(ErrorCode(appErr.Kind), appErr.Error(), pipelineErrorDetails{
		Kind:          appErr.Kind,
		Reasons:       reasons,
		TransactionID: transactionID,
	})
}
