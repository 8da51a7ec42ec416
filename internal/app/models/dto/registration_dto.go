package dto

import "time"

// ValidateIdentityRequest is the first step of the student self-service flow
type ValidateIdentityRequest struct {
	StudentCode string `json:"studentCode" binding:"required"`
	NationalID  string `json:"nationalId" binding:"required"`
}

// IdentityResponse carries the public-safe identity fields
type IdentityResponse struct {
	GivenName             string    `json:"givenName" example:"Ana"`
	FamilyName            string    `json:"familyName" example:"Quispe Huamán"`
	RegistrationExpiresAt time.Time `json:"registrationExpiresAt"`
}

// CompleteRegistrationRequest submits personal data and credentials
type CompleteRegistrationRequest struct {
	StudentCode   string `json:"studentCode" binding:"required"`
	NationalID    string `json:"nationalId" binding:"required"`
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	BirthDate     string `json:"birthDate" example:"2012-04-30"`
	Sex           string `json:"sex" binding:"omitempty,oneof=M F"`
	Nationality   string `json:"nationality"`
	Address       string `json:"address"`
	Phone         string `json:"phone"`
	GuardianName  string `json:"guardianName"`
	GuardianPhone string `json:"guardianPhone"`
}

// VerificationSentResponse tells the student where the code went and until when it is valid
type VerificationSentResponse struct {
	MaskedEmail string    `json:"maskedEmail" example:"a***@gmail.com"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ConfirmEmailRequest submits the emailed code
type ConfirmEmailRequest struct {
	StudentCode string `json:"studentCode" binding:"required"`
	NationalID  string `json:"nationalId" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// ResendCodeRequest asks for a fresh code
type ResendCodeRequest struct {
	StudentCode string `json:"studentCode" binding:"required"`
	NationalID  string `json:"nationalId" binding:"required"`
}

// ActivationResponse is returned once the account is active
type ActivationResponse struct {
	StudentCode string    `json:"studentCode"`
	Email       string    `json:"email"`
	ActivatedAt time.Time `json:"activatedAt"`
}
