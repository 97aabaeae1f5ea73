// Package errors defines the application error taxonomy shared by the handoff
// store, orchestrator and HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Handoff availability
	ErrCodeHandoffDisabled     ErrorCode = "HANDOFF_DISABLED"
	ErrCodeOutsideWorkingHours ErrorCode = "OUTSIDE_WORKING_HOURS"

	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeInternal  ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase  ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Conflict reports an operation that collides with an existing active record.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// InvalidState reports a transition attempted from an incompatible status.
func InvalidState(message string) *AppError {
	return New(ErrCodeInvalidState, message)
}

func HandoffDisabled(message string) *AppError {
	return New(ErrCodeHandoffDisabled, message)
}

func OutsideWorkingHours(message string) *AppError {
	return New(ErrCodeOutsideWorkingHours, message)
}

func Transport(message string, cause error) *AppError {
	return Wrap(ErrCodeTransport, message, cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(message string, cause error) *AppError {
	return Wrap(ErrCodeDatabase, message, cause)
}

// AsAppError extracts an AppError from err, if any
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// HTTPStatus maps an ErrorCode to its HTTP status code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeHandoffDisabled, ErrCodeOutsideWorkingHours:
		return http.StatusServiceUnavailable
	case ErrCodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
