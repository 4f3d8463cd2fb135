package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ErrorBody is the wire shape of a non-OAuth error response.
type ErrorBody struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorEnvelope wraps ErrorBody under the "error" key.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// RenderError writes err as the standard JSON error envelope with the
// status mapped from its code. OAuth protocol endpoints do not use this;
// they render bare RFC 6749 bodies instead.
func RenderError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(err, ErrCodeInternal, "internal error")
	}

	status := e.HTTPStatusCode()
	envelope := ErrorEnvelope{
		Error: ErrorBody{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope); encErr != nil {
		slog.Error("Failed to encode error response", "error", encErr)
	}
}
