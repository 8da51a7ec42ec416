package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ieppc/matricula/internal/app/models/dto"
	"github.com/ieppc/matricula/internal/app/services"
	"github.com/ieppc/matricula/internal/middleware"
)

// RegistrationController serves the student self-service pre-registration flow
type RegistrationController struct {
	registrationService services.RegistrationService
}

// NewRegistrationController creates a new RegistrationController
func NewRegistrationController(registrationService services.RegistrationService) *RegistrationController {
	return &RegistrationController{
		registrationService: registrationService,
	}
}

// bindJSON binds the body or writes a 400 response and reports false
func bindJSON(ctx *gin.Context, req interface{}) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.HandleValidationError(err)))
		return false
	}
	return true
}

// ValidateIdentity checks a student code against the DNI
// @Summary Validate student identity
// @Tags pre-registration
// @Accept json
// @Produce json
// @Param request body dto.ValidateIdentityRequest true "Student code and DNI"
// @Success 200 {object} dto.APIResponse{data=dto.IdentityResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid code or mismatched DNI"
// @Failure 404 {object} dto.ErrorResponse "No pending pre-registration"
// @Failure 410 {object} dto.ErrorResponse "Pre-registration expired"
// @Router /pre-registration/validate [post]
func (c *RegistrationController) ValidateIdentity(ctx *gin.Context) {
	var req dto.ValidateIdentityRequest
	if !bindJSON(ctx, &req) {
		return
	}

	identity, err := c.registrationService.ValidateIdentity(ctx.Request.Context(), req.StudentCode, req.NationalID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.IdentityResponse{
		GivenName:             identity.GivenName,
		FamilyName:            identity.FamilyName,
		RegistrationExpiresAt: identity.RegistrationExpiresAt,
	}, "Identidad verificada"))
}

// CompleteRegistration stores personal data and sends the verification code
// @Summary Complete pre-registration
// @Tags pre-registration
// @Accept json
// @Produce json
// @Param request body dto.CompleteRegistrationRequest true "Personal data and credentials"
// @Success 200 {object} dto.APIResponse{data=dto.VerificationSentResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "Email already in use"
// @Failure 502 {object} dto.ErrorResponse "Email could not be delivered"
// @Router /pre-registration/complete [post]
func (c *RegistrationController) CompleteRegistration(ctx *gin.Context) {
	var req dto.CompleteRegistrationRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.registrationService.BeginCompletion(ctx.Request.Context(), services.CompletionInput{
		StudentCode:   req.StudentCode,
		NationalID:    req.NationalID,
		Email:         req.Email,
		Password:      req.Password,
		BirthDate:     req.BirthDate,
		Sex:           req.Sex,
		Nationality:   req.Nationality,
		Address:       req.Address,
		Phone:         req.Phone,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
	})
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.VerificationSentResponse{
		MaskedEmail: result.MaskedEmail,
		ExpiresAt:   result.CodeExpiresAt,
	}, "Se envió un código de verificación a su correo"))
}

// VerifyEmail activates the account with the emailed code
// @Summary Verify email
// @Tags pre-registration
// @Accept json
// @Produce json
// @Param request body dto.ConfirmEmailRequest true "Verification code"
// @Success 200 {object} dto.APIResponse{data=dto.ActivationResponse}
// @Failure 400 {object} dto.ErrorResponse "Wrong code"
// @Failure 404 {object} dto.ErrorResponse "No verification in progress"
// @Failure 410 {object} dto.ErrorResponse "Code expired"
// @Router /pre-registration/verify-email [post]
func (c *RegistrationController) VerifyEmail(ctx *gin.Context) {
	var req dto.ConfirmEmailRequest
	if !bindJSON(ctx, &req) {
		return
	}

	account, err := c.registrationService.ConfirmEmail(ctx.Request.Context(), req.StudentCode, req.NationalID, req.Code)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	resp := dto.ActivationResponse{StudentCode: account.StudentCode}
	if account.Email != nil {
		resp.Email = *account.Email
	}
	if account.ActivatedAt != nil {
		resp.ActivatedAt = *account.ActivatedAt
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(resp, "Cuenta activada correctamente"))
}

// ResendCode issues a fresh verification code
func (c *RegistrationController) ResendCode(ctx *gin.Context) {
	var req dto.ResendCodeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	result, err := c.registrationService.ResendCode(ctx.Request.Context(), req.StudentCode, req.NationalID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.VerificationSentResponse{
		MaskedEmail: result.MaskedEmail,
		ExpiresAt:   result.CodeExpiresAt,
	}, "Se reenvió el código de verificación"))
}
