package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// RxError represents a structured error in the rx-ledger system
type RxError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *RxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *RxError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *RxError {
	return &RxError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *RxError {
	return &RxError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *RxError {
	return &RxError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code, message string) *RxError {
	return &RxError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *RxError {
	return &RxError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewDependencyError creates an error for a failing external collaborator
func NewDependencyError(code, message string, cause error) *RxError {
	return &RxError{
		Type:    ErrorTypeExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorTypeOf returns the type of the first RxError in err's chain, or internal.
func ErrorTypeOf(err error) ErrorType {
	var rxErr *RxError
	if errors.As(err, &rxErr) {
		return rxErr.Type
	}
	return ErrorTypeInternal
}

// IsNotFound reports whether err carries a not found RxError
func IsNotFound(err error) bool {
	return err != nil && ErrorTypeOf(err) == ErrorTypeNotFound
}

// IsValidation reports whether err carries a validation RxError
func IsValidation(err error) bool {
	return err != nil && ErrorTypeOf(err) == ErrorTypeValidation
}

// Common error codes
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeExternalError        = "EXTERNAL_ERROR"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeNotVerified          = "NOT_VERIFIED"
	ErrCodeOracleUnavailable    = "ORACLE_UNAVAILABLE"
	ErrCodeMalformedAttestation = "MALFORMED_ATTESTATION"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
)
