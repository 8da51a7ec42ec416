package dto

import (
	"time"

	"github.com/ieppc/matricula/internal/app/models"
)

// CreateStudentRequest pre-registers a single student
type CreateStudentRequest struct {
	GivenName  string `json:"givenName" binding:"required"`
	FamilyName string `json:"familyName" binding:"required"`
	NationalID string `json:"nationalId" binding:"required"`
}

// SetStatusRequest forces an account into active or suspended
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ReactivateRequest reopens an expired pre-registration
type ReactivateRequest struct {
	ExtensionDays int `json:"extensionDays"`
}

// StudentAccountResponse is the administrator view of an account
type StudentAccountResponse struct {
	ID                    int64      `json:"id"`
	NationalID            string     `json:"nationalId"`
	GivenName             string     `json:"givenName"`
	FamilyName            string     `json:"familyName"`
	StudentCode           string     `json:"studentCode"`
	RegistrationStatus    string     `json:"registrationStatus"`
	PreRegisteredAt       time.Time  `json:"preRegisteredAt"`
	RegistrationExpiresAt time.Time  `json:"registrationExpiresAt"`
	ActivatedAt           *time.Time `json:"activatedAt,omitempty"`
	Email                 *string    `json:"email,omitempty"`
	BirthDate             *string    `json:"birthDate,omitempty"`
	Sex                   *string    `json:"sex,omitempty"`
	Nationality           *string    `json:"nationality,omitempty"`
	Address               *string    `json:"address,omitempty"`
	Phone                 *string    `json:"phone,omitempty"`
	GuardianName          *string    `json:"guardianName,omitempty"`
	GuardianPhone         *string    `json:"guardianPhone,omitempty"`
	CreatedByAdminID      *int64     `json:"createdByAdminId,omitempty"`
	LastLoginAt           *time.Time `json:"lastLoginAt,omitempty"`
}

// NewStudentAccountResponse maps the model, leaving out credentials and codes
func NewStudentAccountResponse(a *models.StudentAccount) *StudentAccountResponse {
	if a == nil {
		return nil
	}
	resp := &StudentAccountResponse{
		ID:                    a.ID,
		NationalID:            a.NationalID,
		GivenName:             a.GivenName,
		FamilyName:            a.FamilyName,
		StudentCode:           a.StudentCode,
		RegistrationStatus:    string(a.RegistrationStatus),
		PreRegisteredAt:       a.PreRegisteredAt,
		RegistrationExpiresAt: a.RegistrationExpiresAt,
		ActivatedAt:           a.ActivatedAt,
		Email:                 a.Email,
		Sex:                   a.Sex,
		Nationality:           a.Nationality,
		Address:               a.Address,
		Phone:                 a.Phone,
		GuardianName:          a.GuardianName,
		GuardianPhone:         a.GuardianPhone,
		CreatedByAdminID:      a.CreatedByAdminID,
		LastLoginAt:           a.LastLoginAt,
	}
	if a.BirthDate != nil {
		d := a.BirthDate.Format("2006-01-02")
		resp.BirthDate = &d
	}
	return resp
}

// StudentListResponse is one page of accounts
type StudentListResponse struct {
	Students   []*StudentAccountResponse `json:"students"`
	Pagination PaginationInfo            `json:"pagination"`
}

// RegistrationStatsResponse aggregates the account population
type RegistrationStatsResponse struct {
	ByStatus        map[string]int64 `json:"byStatus"`
	ExpiringSoon    int64            `json:"expiringSoon"`
	RecentlyCreated int64            `json:"recentlyCreated"`
	Total           int64            `json:"total"`
}

// ImportResponse summarises a successful bulk import
type ImportResponse struct {
	BatchID       string `json:"batchId"`
	RowsProcessed int    `json:"rowsProcessed"`
	Created       int    `json:"created"`
	Skipped       int    `json:"skipped"`
}

// ExpireOverdueResponse reports how many pending accounts were expired
type ExpireOverdueResponse struct {
	Expired int64 `json:"expired"`
}
