package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in HTTP responses
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeNotFound     = "NOT_FOUND"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pyexec"`)
	writeAPIError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
