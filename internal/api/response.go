// Package api provides HTTP response utilities for ReflectLoop.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps the engine's error taxonomy to HTTP status codes:
// caller mistakes are 400s, unknown conversations 404, submissions against a
// finished conversation 409, and upstream LLM failures 502 so the caller
// knows the same request is safe to resubmit.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConversationDone):
		return http.StatusConflict
	case errors.Is(err, models.ErrClassification), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrEmptyName),
		errors.Is(err, models.ErrEmptyContact),
		errors.Is(err, models.ErrEmptyLanguage),
		errors.Is(err, models.ErrUnsupportedLanguage),
		errors.Is(err, models.ErrEmptyConversationID),
		errors.Is(err, models.ErrEmptyResponseText),
		errors.Is(err, models.ErrNegativeIndex),
		errors.Is(err, models.ErrStateMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
