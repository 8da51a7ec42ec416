package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ieppc/matricula/internal/app/models/dto"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/logger"
)

// errorMapping ties an error kind to its HTTP status, code and fallback message
type errorMapping struct {
	kind    error
	status  int
	code    dto.ErrorCode
	message string
}

// errorMappings is checked in order; the first kind matched by errors.Is wins
var errorMappings = []errorMapping{
	{apperrors.ErrValidationFailed, http.StatusBadRequest, dto.ErrorCodeValidationFailed, "Los datos enviados no son válidos"},
	{apperrors.ErrBadRequest, http.StatusBadRequest, dto.ErrorCodeBadRequest, "Solicitud inválida"},
	{apperrors.ErrDuplicateNationalID, http.StatusConflict, dto.ErrorCodeDuplicateNationalID, "Ya existe un alumno registrado con ese DNI"},
	{apperrors.ErrDuplicateFullName, http.StatusConflict, dto.ErrorCodeDuplicateFullName, "Ya existe un alumno registrado con esos nombres y apellidos"},
	{apperrors.ErrDuplicateEmail, http.StatusConflict, dto.ErrorCodeDuplicateEmail, "El correo electrónico ya está registrado"},
	{apperrors.ErrResourceNotFound, http.StatusNotFound, dto.ErrorCodeResourceNotFound, "No se encontró el recurso solicitado"},
	{apperrors.ErrInvalidStudentCode, http.StatusBadRequest, dto.ErrorCodeInvalidStudentCode, "El código de alumno no es válido"},
	{apperrors.ErrIdentityMismatch, http.StatusBadRequest, dto.ErrorCodeIdentityMismatch, "El código de alumno no corresponde al DNI ingresado"},
	{apperrors.ErrRegistrationExpired, http.StatusGone, dto.ErrorCodeRegistrationExpired, "El plazo de prerregistro venció"},
	{apperrors.ErrVerificationCodeExpired, http.StatusGone, dto.ErrorCodeVerificationCodeExpired, "El código de verificación venció"},
	{apperrors.ErrVerificationCodeMismatch, http.StatusBadRequest, dto.ErrorCodeVerificationCodeMismatch, "El código de verificación es incorrecto"},
	{apperrors.ErrEmailDeliveryFailed, http.StatusBadGateway, dto.ErrorCodeExternalServiceError, "No se pudo enviar el correo de verificación"},
	{apperrors.ErrInvalidTransition, http.StatusConflict, dto.ErrorCodeInvalidTransition, "El cambio de estado no está permitido"},
	{apperrors.ErrInvalidExtension, http.StatusBadRequest, dto.ErrorCodeInvalidExtension, "La extensión debe estar entre 1 y 365 días"},
	{apperrors.ErrNotExpired, http.StatusConflict, dto.ErrorCodeNotExpired, "Solo se pueden reactivar prerregistros vencidos"},
	{apperrors.ErrConflict, http.StatusConflict, dto.ErrorCodeConflict, "Conflicto con el estado actual del recurso"},
	{apperrors.ErrPermissionDenied, http.StatusForbidden, dto.ErrorCodeForbidden, "Acceso denegado"},
	{apperrors.ErrTokenExpired, http.StatusUnauthorized, dto.ErrorCodeExpiredToken, "La sesión expiró"},
	{apperrors.ErrTokenInvalid, http.StatusUnauthorized, dto.ErrorCodeInvalidToken, "Token inválido"},
	{apperrors.ErrInvalidFormat, http.StatusUnauthorized, dto.ErrorCodeInvalidToken, "Token inválido"},
}

// HandleAPIError handles common API errors and returns appropriate responses
func HandleAPIError(c *gin.Context, err error) {
	status, detail := errorDetailFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(detail))
}

// errorDetailFor resolves the status and body for err
func errorDetailFor(err error) (int, *dto.ErrorDetail) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.kind) {
			continue
		}

		detail := dto.NewErrorDetail(m.code, m.message)

		var importErr *apperrors.ImportError
		var customErr *apperrors.CustomError
		switch {
		case errors.As(err, &importErr):
			detail.Message = importErr.Message
			detail.WithDetails(gin.H{"rows": importErr.Rows, "duplicated": importErr.Duplicated})
		case errors.As(err, &customErr):
			if customErr.Message != "" {
				detail.Message = customErr.Message
			}
			if field, ok := customErr.Details["field"].(string); ok {
				detail.WithField(field)
			}
		}
		return m.status, detail
	}

	return http.StatusInternalServerError, dto.NewErrorDetail(dto.ErrorCodeInternalServer, "Error interno del servidor").
		WithSeverity(dto.ErrorSeverityCritical)
}
