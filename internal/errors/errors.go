// Package errors provides coded application errors shared by every layer of
// the approvals service. Codes map one-to-one onto HTTP status classes so
// handlers never inspect error strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeValidation       ErrCode = "VALIDATION_ERROR"
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeConflict         ErrCode = "CONFLICT"
	ErrCodeUnauthorized     ErrCode = "UNAUTHORIZED"
	ErrCodeNoApplicableRule ErrCode = "NO_APPLICABLE_RULE"
	ErrCodeInternal         ErrCode = "INTERNAL_ERROR"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the application error type. Fields is populated only for
// validation errors.
type Error struct {
	Code    ErrCode      `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an application error with the given code and message.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a resource does not exist for the caller's tenant.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// Conflict reports a state conflict (e.g. acting on a completed instance).
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Unauthorized reports that the caller may not perform the action. The
// message must not leak step or approver details.
func Unauthorized(message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// InvalidInput reports a single-field validation failure.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// Validation reports a multi-field validation failure.
func Validation(fields []FieldError) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: "validation failed",
		Fields:  fields,
	}
}

// NoApplicableRule reports the legitimate business outcome of no rule
// matching an entity. Distinct from NotFound so callers can treat it as
// "approval not required" rather than a lookup failure.
func NoApplicableRule(tenantID, moduleType string) *Error {
	return &Error{
		Code:    ErrCodeNoApplicableRule,
		Message: fmt.Sprintf("no approval rule applies to module '%s' for tenant '%s'", moduleType, tenantID),
	}
}

// CodeOf extracts the ErrCode from any error, defaulting to internal.
func CodeOf(err error) ErrCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error to the HTTP status a handler should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeNoApplicableRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrCode) bool { return CodeOf(err) == code }

// As forwards to the standard library so callers importing this package do
// not need a second errors import.
func As(err error, target any) bool { return errors.As(err, target) }
