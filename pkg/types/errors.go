package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeExpired       ErrorType = "expired"
	ErrorTypeEmergency     ErrorType = "emergency"
	ErrorTypeAudit         ErrorType = "audit"
)

// ErrorCode is the stable numeric code existing callers depend on.
// These values must never change.
type ErrorCode uint32

const (
	CodeUnauthorized      ErrorCode = 100
	CodeNotFound          ErrorCode = 101
	CodeAlreadyExists     ErrorCode = 102
	CodeInvalidInput      ErrorCode = 103
	CodeExpiredAccess     ErrorCode = 104
	CodeEmergencyInactive ErrorCode = 105
	CodeAuditFailed       ErrorCode = 106
)

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	switch c {
	case CodeUnauthorized:
		return "UNAUTHORIZED"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	case CodeInvalidInput:
		return "INVALID_INPUT"
	case CodeExpiredAccess:
		return "EXPIRED_ACCESS"
	case CodeEmergencyInactive:
		return "EMERGENCY_INACTIVE"
	case CodeAuditFailed:
		return "AUDIT_FAILED"
	default:
		return fmt.Sprintf("CODE_%d", uint32(c))
	}
}

// LedgerError is a typed, expected failure of a ledger operation
type LedgerError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %s (caused by: %v)", e.Code, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is matches any LedgerError carrying the same code, so callers can write
// errors.Is(err, types.ErrNotFound).
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrUnauthorized      = &LedgerError{Type: ErrorTypeAuthorization, Code: CodeUnauthorized, Message: "unauthorized"}
	ErrNotFound          = &LedgerError{Type: ErrorTypeNotFound, Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists     = &LedgerError{Type: ErrorTypeConflict, Code: CodeAlreadyExists, Message: "already exists"}
	ErrInvalidInput      = &LedgerError{Type: ErrorTypeValidation, Code: CodeInvalidInput, Message: "invalid input"}
	ErrExpiredAccess     = &LedgerError{Type: ErrorTypeExpired, Code: CodeExpiredAccess, Message: "access expired"}
	ErrEmergencyInactive = &LedgerError{Type: ErrorTypeEmergency, Code: CodeEmergencyInactive, Message: "emergency inactive"}
	ErrAuditFailed       = &LedgerError{Type: ErrorTypeAudit, Code: CodeAuditFailed, Message: "audit failed"}
)

// NewUnauthorizedError creates a new authorization error
func NewUnauthorizedError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeAuthorization, Code: CodeUnauthorized, Message: message}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeNotFound, Code: CodeNotFound, Message: message}
}

// NewAlreadyExistsError creates a new conflict error
func NewAlreadyExistsError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeConflict, Code: CodeAlreadyExists, Message: message}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeValidation, Code: CodeInvalidInput, Message: message}
}

// NewExpiredAccessError creates a new expired access error
func NewExpiredAccessError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeExpired, Code: CodeExpiredAccess, Message: message}
}

// NewEmergencyInactiveError creates a new emergency inactive error
func NewEmergencyInactiveError(message string) *LedgerError {
	return &LedgerError{Type: ErrorTypeEmergency, Code: CodeEmergencyInactive, Message: message}
}

// NewAuditFailedError creates a new audit error wrapping the sink failure
func NewAuditFailedError(message string, cause error) *LedgerError {
	return &LedgerError{Type: ErrorTypeAudit, Code: CodeAuditFailed, Message: message, Cause: cause}
}

// CodeOf extracts the stable code from err, if it carries one.
func CodeOf(err error) (ErrorCode, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code, true
	}
	return 0, false
}
