// Package apperror defines the domain error kinds shared by every layer.
//
// SENTINEL + WRAPPER:
// Each kind is a package-level sentinel (ErrNotFound, ErrForbidden, ...).
// Services return an *AppError that carries one sentinel plus a human message,
// and callers branch on the kind with errors.Is(err, apperror.ErrNotFound).
// The HTTP layer is the only place that turns a kind into a status code.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidTitle     = errors.New("invalid title")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRateLimited      = errors.New("rate limited")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // human-readable error message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying failure (store, transport)
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned when an operation needs a signed-in user and
// none was supplied.
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "sign in required",
	}
}

func InvalidTitle(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidTitle,
		Message: message,
		Field:   "title",
	}
}

func PayloadTooLarge(field string, limit int) *AppError {
	return &AppError{
		Err:     ErrPayloadTooLarge,
		Message: fmt.Sprintf("%s exceeds the maximum size of %d bytes", field, limit),
		Field:   field,
	}
}

// StoreUnavailable wraps a storage or transport failure. The cause stays
// reachable through errors.Is / errors.As but its text is never shown to
// clients.
func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStoreUnavailable,
		Message: fmt.Sprintf("storage unavailable while %s", op),
		Cause:   cause,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}
