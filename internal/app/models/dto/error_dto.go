package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrorCode represents standardized error codes
type ErrorCode string

// Standard error codes for the application
const (
	// Authentication errors
	ErrorCodeInvalidToken ErrorCode = "AUTH_005"
	ErrorCodeExpiredToken ErrorCode = "AUTH_006"
	ErrorCodeUnauthorized ErrorCode = "AUTH_008"
	ErrorCodeForbidden    ErrorCode = "AUTH_009"

	// Resource errors
	ErrorCodeResourceNotFound      ErrorCode = "RES_001"
	ErrorCodeResourceAlreadyExists ErrorCode = "RES_002"
	ErrorCodeConflict              ErrorCode = "RES_004"

	// Validation errors
	ErrorCodeValidationFailed ErrorCode = "VAL_001"
	ErrorCodeBadRequest       ErrorCode = "VAL_002"

	// Pre-registration errors
	ErrorCodeInvalidStudentCode  ErrorCode = "REG_001"
	ErrorCodeIdentityMismatch    ErrorCode = "REG_002"
	ErrorCodeRegistrationExpired ErrorCode = "REG_003"
	ErrorCodeDuplicateNationalID ErrorCode = "REG_004"
	ErrorCodeDuplicateFullName   ErrorCode = "REG_005"
	ErrorCodeDuplicateEmail      ErrorCode = "REG_006"

	// Email verification errors
	ErrorCodeVerificationCodeExpired  ErrorCode = "VER_001"
	ErrorCodeVerificationCodeMismatch ErrorCode = "VER_002"

	// Administrative errors
	ErrorCodeInvalidTransition ErrorCode = "ADM_001"
	ErrorCodeInvalidExtension  ErrorCode = "ADM_002"
	ErrorCodeNotExpired        ErrorCode = "ADM_003"

	// Server errors
	ErrorCodeInternalServer       ErrorCode = "SRV_001"
	ErrorCodeExternalServiceError ErrorCode = "SRV_003"
	ErrorCodeTooManyRequests      ErrorCode = "SRV_004"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityInfo     ErrorSeverity = "INFO"
	ErrorSeverityWarning  ErrorSeverity = "WARNING"
	ErrorSeverityError    ErrorSeverity = "ERROR"
	ErrorSeverityCritical ErrorSeverity = "CRITICAL"
)

// ErrorDetail represents detailed error information
type ErrorDetail struct {
	Code     ErrorCode     `json:"code" example:"REG_001"`
	Message  string        `json:"message" example:"El código de alumno no es válido"`
	Field    string        `json:"field,omitempty" example:"studentCode"`
	Severity ErrorSeverity `json:"severity" example:"ERROR"`
	Details  interface{}   `json:"details,omitempty"`
}

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success   bool         `json:"success" example:"false"`
	Error     *ErrorDetail `json:"error"`
	Timestamp time.Time    `json:"timestamp"`
}

// FieldError is one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewErrorDetail creates a new error detail
func NewErrorDetail(code ErrorCode, message string) *ErrorDetail {
	return &ErrorDetail{
		Code:     code,
		Message:  message,
		Severity: ErrorSeverityError,
	}
}

// WithField adds a field name to the error detail
func (e *ErrorDetail) WithField(field string) *ErrorDetail {
	e.Field = field
	return e
}

// WithSeverity sets the severity level of the error
func (e *ErrorDetail) WithSeverity(severity ErrorSeverity) *ErrorDetail {
	e.Severity = severity
	return e
}

// WithDetails adds additional details to the error
func (e *ErrorDetail) WithDetails(details interface{}) *ErrorDetail {
	e.Details = details
	return e
}

// NewErrorResponse creates a standard error response
func NewErrorResponse(errorDetail *ErrorDetail) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     errorDetail,
		Timestamp: time.Now().UTC(),
	}
}

// HandleValidationError converts a binding failure into an ErrorDetail listing each bad field
func HandleValidationError(err error) *ErrorDetail {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: validationMessage(fe)})
		}
		detail := NewErrorDetail(ErrorCodeValidationFailed, "Datos de entrada inválidos").WithDetails(fields)
		if len(fields) == 1 {
			detail.WithField(fields[0].Field)
		}
		return detail
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return NewErrorDetail(ErrorCodeBadRequest, "Tipo de dato inválido").WithField(typeErr.Field)
	case errors.As(err, &syntaxErr):
		return NewErrorDetail(ErrorCodeBadRequest, "El cuerpo de la solicitud no es JSON válido")
	default:
		return NewErrorDetail(ErrorCodeBadRequest, "Formato de solicitud inválido").WithDetails(err.Error())
	}
}

// validationMessage creates a human-readable validation error message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s es obligatorio", e.Field())
	case "min":
		return fmt.Sprintf("%s debe tener al menos %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s debe tener como máximo %s", e.Field(), e.Param())
	case "len":
		return fmt.Sprintf("%s debe tener exactamente %s caracteres", e.Field(), e.Param())
	case "numeric":
		return fmt.Sprintf("%s solo admite dígitos", e.Field())
	case "email":
		return fmt.Sprintf("%s debe ser un correo válido", e.Field())
	case "oneof":
		return fmt.Sprintf("%s debe ser uno de: %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s no es válido (%s)", e.Field(), e.Tag())
	}
}
