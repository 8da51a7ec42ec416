package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/app/models/dto"
	"github.com/ieppc/matricula/internal/app/services"
	"github.com/ieppc/matricula/internal/middleware"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/csvimport"
	"github.com/ieppc/matricula/internal/pkg/helpers"
)

// AdminStudentController serves the administrator student management endpoints
type AdminStudentController struct {
	registrationService services.RegistrationService
	importService       services.BulkImportService
	maxUploadBytes      int64
}

// NewAdminStudentController creates a new AdminStudentController
func NewAdminStudentController(registrationService services.RegistrationService, importService services.BulkImportService, maxUploadBytes int64) *AdminStudentController {
	return &AdminStudentController{
		registrationService: registrationService,
		importService:       importService,
		maxUploadBytes:      maxUploadBytes,
	}
}

// adminID reads the authenticated administrator or answers 401
func adminID(ctx *gin.Context) (int64, bool) {
	id, ok := middleware.CurrentUserID(ctx)
	if !ok {
		errorDetail := dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Se requiere autenticación")
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(errorDetail))
	}
	return id, ok
}

func parseAccountID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errorDetail := dto.NewErrorDetail(dto.ErrorCodeBadRequest, "Identificador de alumno inválido").WithField("id")
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(errorDetail))
		return 0, false
	}
	return id, true
}

// CreateStudent pre-registers one student
// @Summary Pre-register a student
// @Tags admin-students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateStudentRequest true "Student identity"
// @Success 201 {object} dto.APIResponse{data=dto.StudentAccountResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "DNI or full name already registered"
// @Router /admin/students [post]
func (c *AdminStudentController) CreateStudent(ctx *gin.Context) {
	admin, ok := adminID(ctx)
	if !ok {
		return
	}
	var req dto.CreateStudentRequest
	if !bindJSON(ctx, &req) {
		return
	}

	account, err := c.registrationService.CreateStub(ctx.Request.Context(), services.CreateStubInput{
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		NationalID: req.NationalID,
		AdminID:    admin,
	})
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.NewStudentAccountResponse(account), "Alumno prerregistrado"))
}

// ListStudents lists accounts with optional status and search filters
// @Summary List students
// @Tags admin-students
// @Produce json
// @Security BearerAuth
// @Param status query string false "Registration status"
// @Param search query string false "Name, DNI or student code"
// @Param page query int false "Page number (1-based)"
// @Param size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.StudentListResponse}
// @Router /admin/students [get]
func (c *AdminStudentController) ListStudents(ctx *gin.Context) {
	page, size := helpers.ParsePaginationParams(ctx)
	filter := services.ListFilter{Search: ctx.Query("search"), Page: page, Size: size}

	if raw := ctx.Query("status"); raw != "" {
		status, err := models.ParseRegistrationStatus(raw)
		if err != nil {
			errorDetail := dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Estado de registro desconocido").WithField("status")
			ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(errorDetail))
			return
		}
		filter.Status = &status
	}

	accounts, total, err := c.registrationService.List(ctx.Request.Context(), filter)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	students := make([]*dto.StudentAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		students = append(students, dto.NewStudentAccountResponse(a))
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.StudentListResponse{
		Students:   students,
		Pagination: helpers.NewPaginationInfo(total, page, size),
	}, ""))
}

// GetStats returns aggregate counts
func (c *AdminStudentController) GetStats(ctx *gin.Context) {
	stats, err := c.registrationService.Stats(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	byStatus := make(map[string]int64, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RegistrationStatsResponse{
		ByStatus:        byStatus,
		ExpiringSoon:    stats.ExpiringSoon,
		RecentlyCreated: stats.RecentlyCreated,
		Total:           stats.Total,
	}, ""))
}

// GetStudent returns one account
func (c *AdminStudentController) GetStudent(ctx *gin.Context) {
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}

	account, err := c.registrationService.GetByID(ctx.Request.Context(), id)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewStudentAccountResponse(account), ""))
}

// SetStatus activates or suspends an account
// @Summary Activate or suspend a student
// @Tags admin-students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body dto.SetStatusRequest true "active or suspended"
// @Success 200 {object} dto.APIResponse{data=dto.StudentAccountResponse}
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "Transition not allowed"
// @Router /admin/students/{id}/status [patch]
func (c *AdminStudentController) SetStatus(ctx *gin.Context) {
	admin, ok := adminID(ctx)
	if !ok {
		return
	}
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}
	var req dto.SetStatusRequest
	if !bindJSON(ctx, &req) {
		return
	}

	status, err := models.ParseRegistrationStatus(req.Status)
	if err != nil {
		middleware.HandleAPIError(ctx, apperrors.NewCustomError(apperrors.ErrInvalidTransition,
			"Solo se puede activar o suspender una cuenta"))
		return
	}

	account, err := c.registrationService.SetStatus(ctx.Request.Context(), id, status, admin)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewStudentAccountResponse(account), "Estado actualizado"))
}

// Reactivate reopens an expired pre-registration
// @Summary Reactivate an expired pre-registration
// @Tags admin-students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body dto.ReactivateRequest true "Extension in days (1-365)"
// @Success 200 {object} dto.APIResponse{data=dto.StudentAccountResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid extension"
// @Failure 409 {object} dto.ErrorResponse "Not expired or duplicated"
// @Router /admin/students/{id}/reactivate [post]
func (c *AdminStudentController) Reactivate(ctx *gin.Context) {
	admin, ok := adminID(ctx)
	if !ok {
		return
	}
	id, ok := parseAccountID(ctx)
	if !ok {
		return
	}
	var req dto.ReactivateRequest
	if !bindJSON(ctx, &req) {
		return
	}

	account, err := c.registrationService.Reactivate(ctx.Request.Context(), id, req.ExtensionDays, admin)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewStudentAccountResponse(account), "Prerregistro reactivado"))
}

// ImportStudents pre-registers every row of an uploaded CSV file, or none
// @Summary Bulk import students
// @Tags admin-students
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "CSV with nombres, apellidos and dni columns"
// @Success 201 {object} dto.APIResponse{data=dto.ImportResponse}
// @Failure 400 {object} dto.ErrorResponse "Row errors, listed in details"
// @Failure 409 {object} dto.ErrorResponse "Duplicated students, listed in details"
// @Router /admin/students/import [post]
func (c *AdminStudentController) ImportStudents(ctx *gin.Context) {
	admin, ok := adminID(ctx)
	if !ok {
		return
	}

	if c.maxUploadBytes > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUploadBytes)
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		message := "Adjunte el archivo CSV en el campo file"
		if errors.As(err, &tooLarge) {
			message = fmt.Sprintf("El archivo supera el tamaño máximo de %d bytes", c.maxUploadBytes)
		}
		middleware.HandleAPIError(ctx, apperrors.NewCustomError(apperrors.ErrValidationFailed, message).
			WithDetails(map[string]interface{}{"field": "file"}))
		return
	}

	file, err := header.Open()
	if err != nil {
		middleware.HandleAPIError(ctx, fmt.Errorf("error opening upload: %w", err))
		return
	}
	defer file.Close()

	rows, err := csvimport.Parse(file)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	result, err := c.importService.Import(ctx.Request.Context(), rows, admin)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.ImportResponse{
		BatchID:       result.BatchID.String(),
		RowsProcessed: result.RowsProcessed,
		Created:       result.Created,
		Skipped:       result.Skipped,
	}, "Importación completada"))
}

// ExpireOverdue runs the expiry sweep on demand
func (c *AdminStudentController) ExpireOverdue(ctx *gin.Context) {
	n, err := c.registrationService.ExpireOverdue(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ExpireOverdueResponse{Expired: n}, ""))
}
