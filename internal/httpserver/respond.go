package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/latticevpn/sessiond/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errKind string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   errKind,
		Message: message,
	})
}

// RespondErr writes a JSON error response for an apierr.Error, falling back to
// an internal_error envelope (without leaking the underlying message) for any
// other error type.
func RespondErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		RespondError(w, apiErr.Kind.Status(), string(apiErr.Kind), apiErr.Message)
		return
	}
	logger.Error("unhandled error", "error", err)
	RespondError(w, http.StatusInternalServerError, string(apierr.KindInternal), "internal error")
}
