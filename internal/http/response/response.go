package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const MessageInternal = "Internal server error"

// ErrorBody is the body of every non-2xx response. Message is a string, or
// a list of strings for validation failures.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
	Error      string `json:"error"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.WarnContext(r.Context(), "write json response failed",
			"request_id", chimiddleware.GetReqID(r.Context()),
			"error", err,
		)
	}
}

// Empty writes status with no body.
func Empty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, ErrorBody{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
	})
}

// Errors writes a failure carrying several messages.
func Errors(w http.ResponseWriter, r *http.Request, status int, messages []string) {
	JSON(w, r, status, ErrorBody{
		StatusCode: status,
		Message:    messages,
		Error:      http.StatusText(status),
	})
}

// Internal logs err and writes a generic 500 that does not leak it.
func Internal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"error", err,
	)
	Error(w, r, http.StatusInternalServerError, MessageInternal)
}
