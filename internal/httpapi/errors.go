package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/resources"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/solution"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusOf maps well-known service errors to HTTP status codes. Anything
// unrecognized is a 500.
func statusOf(err error) int {
	switch {
	case solution.IsModelNotFound(err), solution.IsPluginNotFound(err), resources.IsNotFound(err):
		return http.StatusNotFound
	case solution.IsNicknameTaken(err), solution.IsStateNotAllowed(err):
		return http.StatusBadRequest
	case solution.IsBookkeepingFailed(err), resources.IsPluginRemoved(err), resources.IsRecordMissing(err):
		// The record exists in the core tables but the plugin side is gone.
		return http.StatusGone
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeServiceError translates a service error into the JSON error payload.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak storage internals to clients.
		msg = "internal error"
		logError(r, err)
	}
	writeJSONError(w, status, msg)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
