package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ieppc/matricula/internal/pkg/apperrors"
)

// RegistrationStatus is the lifecycle state of a student account
type RegistrationStatus string

const (
	StatusPending        RegistrationStatus = "pending"
	StatusVerifyingEmail RegistrationStatus = "verifying_email"
	StatusActive         RegistrationStatus = "active"
	StatusExpired        RegistrationStatus = "expired"
	StatusSuspended      RegistrationStatus = "suspended"
	StatusCancelled      RegistrationStatus = "cancelled"
)

// AllRegistrationStatuses lists every status in display order
var AllRegistrationStatuses = []RegistrationStatus{
	StatusPending,
	StatusVerifyingEmail,
	StatusActive,
	StatusExpired,
	StatusSuspended,
	StatusCancelled,
}

// LiveStatuses are the statuses within which national ID and full name must be unique
var LiveStatuses = []RegistrationStatus{StatusPending, StatusVerifyingEmail, StatusActive}

// ParseRegistrationStatus accepts exactly one of the six known status names
func ParseRegistrationStatus(s string) (RegistrationStatus, error) {
	status := RegistrationStatus(strings.TrimSpace(s))
	for _, known := range AllRegistrationStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown registration status %q", apperrors.ErrValidationFailed, s)
}

// transitions holds every edge the workflow itself may take.
// Administrator overrides go through CanAdminSet instead.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusPending:        {StatusVerifyingEmail, StatusExpired},
	StatusVerifyingEmail: {StatusActive, StatusPending},
	StatusActive:         {StatusSuspended},
	StatusSuspended:      {StatusActive},
	StatusExpired:        {StatusPending},
}

// CanTransition reports whether from -> to is a workflow edge
func CanTransition(from, to RegistrationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanAdminSet reports whether an administrator may force an account into to.
// Only active and suspended are settable, and cancelled accounts are final.
func CanAdminSet(from, to RegistrationStatus) bool {
	if to != StatusActive && to != StatusSuspended {
		return false
	}
	return from != StatusCancelled
}

// StudentAccount is a student record from pre-registration through activation
type StudentAccount struct {
	ID                        int64              `json:"id" db:"id"`
	NationalID                string             `json:"nationalId" db:"national_id"`
	GivenName                 string             `json:"givenName" db:"given_name"`
	FamilyName                string             `json:"familyName" db:"family_name"`
	StudentCode               string             `json:"studentCode" db:"student_code"`
	RegistrationStatus        RegistrationStatus `json:"registrationStatus" db:"registration_status"`
	PreRegisteredAt           time.Time          `json:"preRegisteredAt" db:"pre_registered_at"`
	RegistrationExpiresAt     time.Time          `json:"registrationExpiresAt" db:"registration_expires_at"`
	ActivatedAt               *time.Time         `json:"activatedAt,omitempty" db:"activated_at"`
	Email                     *string            `json:"email,omitempty" db:"email"`
	PasswordHash              *string            `json:"-" db:"password_hash"`
	BirthDate                 *time.Time         `json:"birthDate,omitempty" db:"birth_date"`
	Sex                       *string            `json:"sex,omitempty" db:"sex"`
	Nationality               *string            `json:"nationality,omitempty" db:"nationality"`
	Address                   *string            `json:"address,omitempty" db:"address"`
	Phone                     *string            `json:"phone,omitempty" db:"phone"`
	GuardianName              *string            `json:"guardianName,omitempty" db:"guardian_name"`
	GuardianPhone             *string            `json:"guardianPhone,omitempty" db:"guardian_phone"`
	VerificationCode          *string            `json:"-" db:"verification_code"`
	VerificationCodeExpiresAt *time.Time         `json:"-" db:"verification_code_expires_at"`
	CreatedByAdminID          *int64             `json:"createdByAdminId,omitempty" db:"created_by_admin_id"`
	LastLoginAt               *time.Time         `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt                 time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt                 time.Time          `json:"updatedAt" db:"updated_at"`
}

// FullName joins given and family names
func (a *StudentAccount) FullName() string {
	return a.GivenName + " " + a.FamilyName
}

// RegistrationOverdue reports whether the completion window has lapsed at now
func (a *StudentAccount) RegistrationOverdue(now time.Time) bool {
	return now.After(a.RegistrationExpiresAt)
}

// SetVerificationCode stores a code together with its expiry
func (a *StudentAccount) SetVerificationCode(code string, expiresAt time.Time) {
	a.VerificationCode = &code
	a.VerificationCodeExpiresAt = &expiresAt
}

// ClearVerificationCode removes the code and its expiry together
func (a *StudentAccount) ClearVerificationCode() {
	a.VerificationCode = nil
	a.VerificationCodeExpiresAt = nil
}

// Clone returns a copy that shares no pointers with a
func (a *StudentAccount) Clone() *StudentAccount {
	c := *a
	c.ActivatedAt = cloneTime(a.ActivatedAt)
	c.Email = cloneString(a.Email)
	c.PasswordHash = cloneString(a.PasswordHash)
	c.BirthDate = cloneTime(a.BirthDate)
	c.Sex = cloneString(a.Sex)
	c.Nationality = cloneString(a.Nationality)
	c.Address = cloneString(a.Address)
	c.Phone = cloneString(a.Phone)
	c.GuardianName = cloneString(a.GuardianName)
	c.GuardianPhone = cloneString(a.GuardianPhone)
	c.VerificationCode = cloneString(a.VerificationCode)
	c.VerificationCodeExpiresAt = cloneTime(a.VerificationCodeExpiresAt)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	if a.CreatedByAdminID != nil {
		id := *a.CreatedByAdminID
		c.CreatedByAdminID = &id
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
