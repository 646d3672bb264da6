// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/odyssey-retail/backoffice/internal/shared"
)

var exposeInternal atomic.Bool

// ExposeInternalErrors toggles the detail of 500 responses. Enable outside production only.
func ExposeInternalErrors(enabled bool) {
	exposeInternal.Store(enabled)
}

// Detailer is implemented by domain errors carrying structured diagnostics.
type Detailer interface {
	ProblemMeta() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var meta map[string]any
	var d Detailer
	if errors.As(err, &d) {
		meta = d.ProblemMeta()
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemWithMeta(w, http.StatusNotFound, "Not Found", err.Error(), meta)
	case errors.Is(err, shared.ErrDuplicate):
		ProblemWithMeta(w, http.StatusConflict, "Duplicate", err.Error(), meta)
	case errors.Is(err, shared.ErrNotConfigured):
		ProblemWithMeta(w, http.StatusBadRequest, "Unit Not Configured", err.Error(), meta)
	case errors.Is(err, shared.ErrInsufficientPayment):
		ProblemWithMeta(w, http.StatusBadRequest, "Insufficient Payment", err.Error(), meta)
	case errors.Is(err, shared.ErrNegativeStock):
		ProblemWithMeta(w, http.StatusBadRequest, "Stock Would Go Negative", err.Error(), meta)
	case errors.Is(err, shared.ErrValidation):
		ProblemWithMeta(w, http.StatusBadRequest, "Validation Failed", err.Error(), meta)
	default:
		detail := ""
		if exposeInternal.Load() && err != nil {
			detail = err.Error()
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", detail)
	}
}
