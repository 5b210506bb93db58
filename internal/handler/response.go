package handler

// RESPONSE HELPERS:
// These functions standardise how we read JSON requests and send JSON
// responses and errors.
//
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   sonic.ConfigDefault.NewEncoder(w).Encode(data)
//
// With helpers, handlers stay short:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, logger, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "snippet not found with id abc123"}
//
// The frontend always knows what fields to expect, whatever the status.

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/assistant"
	"github.com/sakif/codeflow/internal/auth"
)

// maxBodyBytes caps request bodies. Code is limited to ~100KB by the
// service, so this leaves room for the JSON envelope around it.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable kind, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending field, when there is one
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and the status code must be set BEFORE the body is written.
// Once the first byte of the body goes out, header changes are ignored.
//
//  1. w.Header().Set(...)     ← set headers
//  2. w.WriteHeader(status)   ← send status + headers
//  3. encode(data)            ← send body
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := sonic.ConfigDefault.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent, all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKind is one row of the domain error → HTTP mapping.
type errorKind struct {
	sentinel error
	status   int
	name     string
}

// errorKinds is checked in order; the first sentinel found in the error
// chain wins.
//
// WHY HERE AND NOT IN THE SERVICE?
// The service layer does not know about HTTP. A CLI or a gRPC front end
// would map apperror.ErrNotFound to its own representation.
var errorKinds = []errorKind{
	{apperror.ErrInvalidTitle, http.StatusBadRequest, "invalid_title"},
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperror.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// errors.As() UNWRAPPING:
// errors.As walks the chain (via Unwrap) and fills appErr if it finds an
// *AppError, so a service can wrap it with fmt.Errorf("...: %w", err) and
// the handler still sees the kind and the human message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, k := range errorKinds {
			if errors.Is(appErr, k.sentinel) {
				if k.status >= http.StatusInternalServerError {
					logger.Error("request failed", slog.String("kind", k.name), slog.String("message", appErr.Message), slog.Any("cause", appErr.Cause))
				}
				writeJSON(w, k.status, ErrorResponse{Error: k.name, Message: appErr.Message, Field: appErr.Field})
				return
			}
		}
	}

	if errors.Is(err, assistant.ErrNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_configured",
			Message: "AI service not configured",
		})
		return
	}

	// Unknown error: generic 500.
	// NEVER expose internal error details to the client. The raw message
	// can contain queries, file paths or upstream responses.
	logger.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// validate checks the `validate:"..."` tags on request DTOs.
var validate = validator.New()

// decodeJSON reads the request body into dst and validates it.
//
// Bodies over maxBodyBytes fail with payload_too_large, malformed JSON and
// failed struct tags with validation_error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.PayloadTooLarge("body", maxBodyBytes)
		}
		return apperror.ValidationFailed("body", "could not read request body")
	}
	if len(body) == 0 {
		return apperror.ValidationFailed("body", "request body is required")
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return apperror.ValidationFailed("body", "request body is not valid JSON")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed("body", err.Error())
	}
	fe := verrs[0]
	return apperror.ValidationFailed(jsonName(fe.Field()), fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	name := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
	}
}

// jsonName lower-cases the first letter of a Go field name so messages
// use the same spelling as the request body.
func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// ownerFrom returns the signed-in user id that RequireAuth stored in the
// request context.
func ownerFrom(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok || id == "" {
		return "", apperror.Unauthenticated()
	}
	return id, nil
}
