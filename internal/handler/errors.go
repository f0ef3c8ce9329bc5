package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"notehub/internal/domain"
	"notehub/internal/httputil"
)

// retryAfterSeconds is sent with 503 responses for transient store failures
const retryAfterSeconds = "30"

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var (
		transitionErr *domain.InvalidTransitionError
		conflictErr   *domain.ConflictError
		maxBytesErr   *http.MaxBytesError
	)

	// The alert fires regardless of status; the status follows the cause
	orphaned := errors.Is(err, domain.ErrOrphanCleanup)
	if orphaned {
		slog.Error("compensating delete failed, blob may be orphaned",
			"alert", "orphaned_blob",
			"error", err,
		)
	}

	switch {
	case errors.Is(err, domain.ErrCredentialInvalid):
		slog.Error("blob store credential invalid", "alert", "credential_invalid", "error", err)
		httputil.RespondErrorWithExtras(w, http.StatusServiceUnavailable,
			"storage authorization required",
			map[string]interface{}{"retryable": false},
		)
	case errors.Is(err, domain.ErrTransientStore):
		w.Header().Set("Retry-After", retryAfterSeconds)
		httputil.RespondErrorWithExtras(w, http.StatusServiceUnavailable,
			"storage temporarily unavailable",
			map[string]interface{}{"retryable": true},
		)
	case errors.As(err, &transitionErr):
		httputil.RespondErrorWithExtras(w, http.StatusConflict, transitionErr.Error(),
			map[string]interface{}{"current_state": transitionErr.Current},
		)
	case errors.As(err, &maxBytesErr):
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, "upload too large")
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, "note not found")
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &conflictErr):
		httputil.RespondErrorWithExtras(w, http.StatusConflict, conflictErr.Error(),
			map[string]interface{}{"resource_type": conflictErr.ResourceType},
		)
	default:
		if !orphaned {
			slog.Error("unexpected error", "error", err)
		}
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
