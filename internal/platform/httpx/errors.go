// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/clearledger/clearledger/internal/shared"
)

// RespondError maps taxonomy errors to RFC7807 problem responses. Unclassified
// errors become an opaque 500 so internals never leak to clients.
func RespondError(w http.ResponseWriter, err error) {
	var tagged *shared.Error
	if !errors.As(err, &tagged) {
		tagged = shared.Normalize(err)
	}
	status := statusFor(tagged)
	detail := shared.Sanitize(tagged.Message)
	if status == http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, tagged.Code, detail)
}

func statusFor(err *shared.Error) int {
	switch err.Code {
	case "FINALIZE_IN_PROGRESS", "DUPLICATE_MATCH", "INVALID_STATUS_TRANSITION", "PERIOD_LOCKED":
		return http.StatusConflict
	case "REFERENCE_NOT_FOUND":
		return http.StatusNotFound
	case "NO_DATA_TO_EXPORT":
		return http.StatusUnprocessableEntity
	case "STORE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	}
	switch err.Category {
	case shared.CategoryValidation:
		return http.StatusBadRequest
	case shared.CategoryCalculation, shared.CategoryReconciliation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
