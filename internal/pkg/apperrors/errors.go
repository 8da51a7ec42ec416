package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	// Resource errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")

	// Authentication errors
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidFormat = errors.New("invalid token format")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrBadRequest       = errors.New("bad request")
)

// Registration errors
var (
	ErrDuplicateNationalID = errors.New("national ID already registered")
	ErrDuplicateFullName   = errors.New("full name already registered")
	ErrDuplicateEmail      = errors.New("email already in use")

	ErrInvalidStudentCode  = errors.New("invalid student code")
	ErrIdentityMismatch    = errors.New("student code does not match national ID")
	ErrRegistrationExpired = errors.New("pre-registration expired")
)

// Email verification errors
var (
	ErrVerificationCodeExpired  = errors.New("verification code expired")
	ErrVerificationCodeMismatch = errors.New("verification code mismatch")
	ErrEmailDeliveryFailed      = errors.New("email delivery failed")
)

// Administrative errors
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidExtension  = errors.New("invalid extension days")
	ErrNotExpired        = errors.New("registration is not expired")
)

// NewResourceNotFoundError creates a new custom error for resource not found with a message
func NewResourceNotFoundError(message string) error {
	return &CustomError{
		Err:     ErrResourceNotFound,
		Message: message,
	}
}

// NewValidationError wraps ErrValidationFailed with a user-facing message
func NewValidationError(message string) error {
	return &CustomError{
		Err:     ErrValidationFailed,
		Message: message,
	}
}

// CustomError represents application-specific errors with additional context
type CustomError struct {
	Err     error
	Message string
	Details map[string]interface{}
}

// Error implements error interface
func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements errors.Unwrap interface
func (e *CustomError) Unwrap() error {
	return e.Err
}

// NewCustomError creates a CustomError with underlying error
func NewCustomError(err error, message string) *CustomError {
	return &CustomError{
		Err:     err,
		Message: message,
	}
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}

// RowError is a problem found on one line of an import file.
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (r RowError) String() string {
	if r.Field == "" {
		return fmt.Sprintf("línea %d: %s", r.Line, r.Message)
	}
	return fmt.Sprintf("línea %d (%s): %s", r.Line, r.Field, r.Message)
}

// ImportError rejects a whole batch. Err is the dominant kind
// (validation or one of the duplicate errors).
type ImportError struct {
	Err        error
	Message    string
	Rows       []RowError
	Duplicated []string
}

// Error implements error interface
func (e *ImportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, r := range e.Rows {
		b.WriteString("; ")
		b.WriteString(r.String())
	}
	if len(e.Duplicated) > 0 {
		b.WriteString("; duplicados: ")
		b.WriteString(strings.Join(e.Duplicated, ", "))
	}
	return b.String()
}

// Unwrap implements errors.Unwrap interface
func (e *ImportError) Unwrap() error {
	return e.Err
}
