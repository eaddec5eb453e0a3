package httpapi

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"inferd/internal/llm"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service and core errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsDependencyUnavailable(err), manager.IsBudgetExceeded(err), llm.IsRetryable(err):
		return http.StatusServiceUnavailable
	case llm.IsInvalidArgument(err):
		return http.StatusBadRequest
	case llm.IsCapacityExceeded(err):
		return http.StatusRequestEntityTooLarge
	case llm.IsTokenization(err):
		return http.StatusUnprocessableEntity
	case llm.IsUnsupported(err):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status and returns the status.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeJSON writes v as a JSON document with status 200 unless status is set.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = w.Write(append(b, '\n'))
}
