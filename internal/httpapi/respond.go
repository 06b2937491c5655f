package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nimbusid/authapi/internal/obs"
	"github.com/nimbusid/authapi/internal/validate"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	msgValidation     = "Validation error"
	msgNotFound       = "Resource not found"
	msgMethodNotAllow = "Method not allowed"
	msgInternal       = "Internal server error"
)

type successEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type errorEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Errors    validate.Fields `json:"errors,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Status: statusSuccess, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeFieldErrors(w, r, code, msg, nil)
}

func writeFieldErrors(w http.ResponseWriter, r *http.Request, code int, msg string, fields validate.Fields) {
	writeJSON(w, code, errorEnvelope{
		Status:    statusError,
		Message:   msg,
		Errors:    fields,
		RequestID: obs.RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, msgMethodNotAllow)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, msgNotFound)
}

// decodeJSON reads one JSON object from the size-limited body. Unknown fields are ignored.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &maxErr):
			return errors.New("request body is too large")
		default:
			return errors.New("request body is not valid JSON")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// writeBodyError renders a decode failure as a validation error on "body".
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	writeFieldErrors(w, r, http.StatusUnprocessableEntity, msgValidation, validate.Fields{"body": {err.Error()}})
}
