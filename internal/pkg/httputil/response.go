// Package httputil provides HTTP response helpers and middleware shared by the API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// JSON writes a raw JSON response without envelope.
// Use Success for {"data": ...} wrapped responses.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes a JSON response with {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

// Error writes a JSON response with {"error": {"message": ...}} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Message: message}})
}

// ValidationError writes a 400 response. Field errors from the validator are
// listed in details; any other error is reported as a string.
func ValidationError(w http.ResponseWriter, err error) {
	var details any = err.Error()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]fieldError, 0, len(validationErrors))
		for _, e := range validationErrors {
			fields = append(fields, fieldError{Field: e.Field(), Message: e.Tag()})
		}
		details = fields
	}

	writeJSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Message: "validation error", Details: details},
	})
}
