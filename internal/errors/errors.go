package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the public, serialized code of an AppError.
type ErrorCode string

const (
	ErrValidation ErrorCode = "validation_error"     // 400
	ErrNotFound   ErrorCode = "not_found"            // 404
	ErrAuth       ErrorCode = "unauthorized"         // 401
	ErrForbidden  ErrorCode = "forbidden"            // 403
	ErrTransient  ErrorCode = "upstream_unavailable" // 503
	ErrInternal   ErrorCode = "internal"             // 500
)

// AppError is a structured error carrying a public code and HTTP status.
// Message is caller-facing. Cause is never serialized.
type AppError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidation creates a 400 error for malformed or missing input.
func NewValidation(msg string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewValidationf is NewValidation with formatting.
func NewValidationf(format string, args ...any) *AppError {
	return NewValidation(fmt.Sprintf(format, args...))
}

// NewNotFound creates a 404 error for an identifier that does not resolve.
func NewNotFound(kind, id string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"id": id},
	}
}

// NewUnauthorized creates a 401 error. The message never echoes the credential.
func NewUnauthorized(msg string) *AppError {
	return &AppError{
		Code:    ErrAuth,
		Status:  401,
		Message: msg,
	}
}

// NewForbidden creates a 403 error.
func NewForbidden(msg string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Status:  403,
		Message: msg,
	}
}

// NewTransient wraps an embedding/model failure that is worth retrying.
func NewTransient(op string, cause error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Status:  503,
		Message: fmt.Sprintf("%s temporarily unavailable", op),
		Cause:   cause,
	}
}

// NewInternal creates a 500 error. The cause is kept for logs only.
func NewInternal(cause error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Status:  500,
		Message: "internal error",
		Cause:   cause,
	}
}

// Is reports whether err (or anything it wraps) is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As extracts the AppError from err, converting anything else into an internal error.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	return Is(err, ErrTransient)
}
