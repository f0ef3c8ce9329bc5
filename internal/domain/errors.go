package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string  { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ForbiddenError) StatusCode() int  { return http.StatusForbidden }

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ForbiddenError) Is(target error) bool  { return target == ErrForbidden }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidTransition is returned when a moderation decision does not
	// match the note's current state (illegal edge or lost CAS race).
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTransientStore marks retryable blob store failures (network, timeout,
	// throttling, 5xx).
	ErrTransientStore = errors.New("blob store temporarily unavailable")

	// ErrAuthUnavailable is a transient failure to obtain an access token.
	ErrAuthUnavailable = fmt.Errorf("access token unavailable: %w", ErrTransientStore)

	// ErrCredentialInvalid means the refresh credential was revoked or is
	// missing. Nothing succeeds until an operator re-authorizes.
	ErrCredentialInvalid = errors.New("blob store credential invalid: re-authorization required")

	// ErrOrphanCleanup means a compensating delete failed and a remote
	// object may be left without an owning note.
	ErrOrphanCleanup = errors.New("orphan cleanup failed")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (note, blob)
	ResourceID   string // ID of the existing/conflicting resource
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// InvalidTransitionError carries the state actually observed so clients can
// refresh instead of retrying blindly.
type InvalidTransitionError struct {
	NoteID  string
	Current string
	Target  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("note %s: cannot move from %s to %s", e.NoteID, e.Current, e.Target)
}

func (e *InvalidTransitionError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrInvalidTransition
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// OrphanCleanupError reports an operation whose compensating delete also
// failed. It matches ErrOrphanCleanup but unwraps only to Cause, so callers
// classify the failure by what went wrong first.
type OrphanCleanupError struct {
	Ref     string
	Cause   error
	Cleanup error
}

func (e *OrphanCleanupError) Error() string {
	return fmt.Sprintf("%v; %v: %s: %v", e.Cause, ErrOrphanCleanup, e.Ref, e.Cleanup)
}

func (e *OrphanCleanupError) Is(target error) bool {
	return target == ErrOrphanCleanup
}

func (e *OrphanCleanupError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is worth retrying without operator action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) && !errors.Is(err, ErrCredentialInvalid)
}
