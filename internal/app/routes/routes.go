package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ieppc/matricula/internal/app/controllers"
	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/app/models/dto"
	"github.com/ieppc/matricula/internal/middleware"
)

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// SetupRouter configures all application routes. publicLimit may be nil when
// rate limiting is disabled.
func SetupRouter(
	router *gin.Engine,
	registrationController *controllers.RegistrationController,
	adminStudentController *controllers.AdminStudentController,
	authMiddleware *middleware.AuthMiddleware,
	publicLimit gin.HandlerFunc,
	health HealthCheck,
) {
	// API version group
	v1 := router.Group("/api/v1")

	// --- Public pre-registration routes ---
	preRegistration := v1.Group("/pre-registration")
	if publicLimit != nil {
		preRegistration.Use(publicLimit)
	}
	{
		preRegistration.POST("/validate", registrationController.ValidateIdentity)
		preRegistration.POST("/complete", registrationController.CompleteRegistration)
		preRegistration.POST("/verify-email", registrationController.VerifyEmail)
		preRegistration.POST("/resend-code", registrationController.ResendCode)
	}

	// --- Administrator routes ---
	admin := v1.Group("/admin")
	admin.Use(authMiddleware.JWTAuth(), authMiddleware.RoleRequired(models.RoleAdmin))
	{
		students := admin.Group("/students")
		{
			students.POST("", adminStudentController.CreateStudent)
			students.GET("", adminStudentController.ListStudents)
			students.GET("/stats", adminStudentController.GetStats)
			students.POST("/import", adminStudentController.ImportStudents)
			students.POST("/expire-overdue", adminStudentController.ExpireOverdue)
			students.GET("/:id", adminStudentController.GetStudent)
			students.PATCH("/:id/status", adminStudentController.SetStatus)
			students.POST("/:id/reactivate", adminStudentController.Reactivate)
		}
	}

	v1.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		db := "ok"
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				db = "unavailable"
			}
		}
		c.JSON(status, dto.APIResponse{
			Success:   status == http.StatusOK,
			Data:      gin.H{"status": db},
			Timestamp: time.Now().UTC(),
		})
	})
}
