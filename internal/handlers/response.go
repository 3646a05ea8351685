package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// Error codes shared by every endpoint.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeAPIError            = "API_ERROR"
	CodeParseError          = "PARSE_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeInvalidWebhook      = "INVALID_WEBHOOK"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// APIResponse is the response envelope: {success, data, timestamp} on success,
// {success:false, error:{code,message[,details]}, timestamp} on failure.
type APIResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// debugDetails suppresses diagnostic payloads outside development; functional
// details (validation fields, balance info) bypass this and are always sent.
func debugDetails(v any) any {
	if viper.GetString("app.env") == "production" {
		return nil
	}
	return v
}
