package web

import (
	"encoding/json"
	"net/http"

	"biz-agent/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeJSONStatus(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForKind maps an error kind of an action result to an HTTP status.
func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindUnknownAction:
		return http.StatusNotFound
	case core.KindUnknownProduct, core.KindUnknownCustomer, core.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case core.KindConcurrencyConflict, core.KindDuplicateMessage:
		return http.StatusConflict
	case core.KindResolverTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err as a JSON error with the status of its kind.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	msg := core.UserMessage(err)
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeError(w, r, msg, string(kind), status)
}
