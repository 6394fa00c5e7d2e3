package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
)

// ApiResponse is the success envelope for JSON endpoints.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// PipelineErrorBody is the response for a question that failed in one of the pipeline stages.
type PipelineErrorBody struct {
	Error         string   `json:"error"`
	Message       string   `json:"message"`
	Reasons       []string `json:"reasons"`
	TransactionID string   `json:"transaction_id,omitempty"`
}

// StatusForKind maps a pipeline error kind to an HTTP status.
func StatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindSchema:
		return http.StatusServiceUnavailable
	case apperrors.KindGeneration:
		return http.StatusBadGateway
	case apperrors.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes a structured pipeline error. Only the human-readable
// reasons are sent; the underlying cause stays in the logs.
func WriteAppError(w http.ResponseWriter, appErr *apperrors.Error, transactionID string) error {
	reasons := appErr.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return WriteJSON(w, StatusForKind(appErr.Kind), PipelineErrorBody{
		Error:         string(appErr.Kind),
		Message:       appErr.Error(),
		Reasons:       reasons,
		TransactionID: transactionID,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
