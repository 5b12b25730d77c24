package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeUnauthenticated   ErrorType = "unauthenticated"
	ErrorTypeForbidden         ErrorType = "forbidden"
	ErrorTypeBadRequest        ErrorType = "bad_request"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeAuditWriteFailure ErrorType = "audit_write_failure"
	ErrorTypeInternal          ErrorType = "internal"
)

// Common error codes
const (
	ErrCodeNoPrincipal             = "NO_PRINCIPAL"
	ErrCodeInsufficientRole        = "INSUFFICIENT_ROLE"
	ErrCodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	ErrCodeDepartmentAccessDenied  = "DEPARTMENT_ACCESS_DENIED"
	ErrCodeSpecialtyRequired       = "SPECIALTY_REQUIRED"
	ErrCodeOverrideNotPermitted    = "OVERRIDE_NOT_PERMITTED"
	ErrCodeInvalidOverrideReason   = "INVALID_OVERRIDE_REASON"
	ErrCodeOverrideNotFound        = "OVERRIDE_NOT_FOUND"
	ErrCodeAuditWriteFailed        = "AUDIT_WRITE_FAILED"
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeInternalError           = "INTERNAL_ERROR"
)

// AccessError represents a structured error in the access control core
type AccessError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches context information to the error
func (e *AccessError) WithDetails(details map[string]interface{}) *AccessError {
	e.Details = details
	return e
}

// NewUnauthenticatedError creates a new unauthenticated error
func NewUnauthenticatedError(message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeUnauthenticated,
		Code:    ErrCodeNoPrincipal,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeForbidden,
		Code:    code,
		Message: message,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeBadRequest,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *AccessError {
	return &AccessError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewAuditWriteError creates an error for a failed audit write. An access
// whose audit record cannot be durably written is treated as a failed
// operation even when the authorization check itself passed.
func NewAuditWriteError(cause error) *AccessError {
	return &AccessError{
		Type:    ErrorTypeAuditWriteFailure,
		Code:    ErrCodeAuditWriteFailed,
		Message: "failed to persist audit log entry",
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AccessError {
	return &AccessError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// AsAccessError extracts an AccessError from a generic error
func AsAccessError(err error) (*AccessError, bool) {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr, true
	}
	return nil, false
}
