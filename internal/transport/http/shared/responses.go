// Package shared holds the JSON envelopes every handler uses, so error
// bodies and status mapping stay identical across modules.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "meridian/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error onto an HTTP status and the error
// envelope. Internal errors omit the description so infrastructure details
// never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)

	resp := ErrorResponse{Error: string(code)}
	if code == dErrors.CodeInternal {
		resp.Error = "internal_error"
	} else {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		} else {
			resp.ErrorDescription = err.Error()
		}
	}
	WriteJSON(w, statusOf(code), resp)
}

func statusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest,
		dErrors.CodeInvalidAmount, dErrors.CodeInvalidRange,
		dErrors.CodeInvalidExclusion, dErrors.CodeInvalidCheckpoint:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeExcluded:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeAlreadyClaimed,
		dErrors.CodeAlreadyReclaimed, dErrors.CodeNotYetPayable,
		dErrors.CodeExpired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
