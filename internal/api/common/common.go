// Package common holds request and response helpers shared by the API
// route packages.
package common

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON body returned for all error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes data as a JSON response with the given status.
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out, all we can do is log.
		slog.Error("failed to encode response body", "error", err)
	}
}

// WriteErrorResponse writes an ErrorResponse with the given message and status.
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
