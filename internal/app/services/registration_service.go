package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/email"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/ieppc/matricula/internal/pkg/metrics"
	"github.com/ieppc/matricula/internal/pkg/studentcode"
	"github.com/ieppc/matricula/internal/pkg/validation"
	"github.com/ieppc/matricula/internal/pkg/verification"
	"github.com/ieppc/matricula/internal/queue"
	"github.com/rs/zerolog"
)

// MaxExtensionDays bounds a reactivation window
const MaxExtensionDays = 365

// StudentAccountStore is the persistence the registration workflow needs.
// Update only applies when the stored status still equals expected and
// otherwise fails with apperrors.ErrResourceNotFound.
type StudentAccountStore interface {
	Create(ctx context.Context, a *models.StudentAccount) error
	GetByID(ctx context.Context, id int64) (*models.StudentAccount, error)
	FindByCodeAndNationalID(ctx context.Context, studentCode, nationalID string, status models.RegistrationStatus) (*models.StudentAccount, error)
	NationalIDExists(ctx context.Context, nationalID string, statuses []models.RegistrationStatus, excludeID int64) (bool, error)
	FullNameExists(ctx context.Context, name models.FullName, statuses []models.RegistrationStatus, excludeID int64) (bool, error)
	EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error)
	StudentCodeExists(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, a *models.StudentAccount, expected models.RegistrationStatus) error
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
	List(ctx context.Context, filter models.StudentAccountFilter) ([]*models.StudentAccount, int64, error)
	CountByStatus(ctx context.Context) (map[models.RegistrationStatus]int64, error)
	CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountPreRegisteredSince(ctx context.Context, since time.Time) (int64, error)
	ExistingNationalIDs(ctx context.Context, ids []string) ([]string, error)
	ExistingFullNames(ctx context.Context, names []models.FullName, statuses []models.RegistrationStatus) ([]models.FullName, error)
	BulkInsert(ctx context.Context, accounts []*models.StudentAccount) (int, error)
}

// PasswordHasher hashes the password chosen at completion
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// CodeIssuer hands out email verification codes
type CodeIssuer interface {
	Issue() (verification.Code, error)
}

// ListFilter narrows the administrator listing
type ListFilter = models.StudentAccountFilter

// CreateStubInput is what an administrator supplies to pre-register a student
type CreateStubInput struct {
	GivenName  string
	FamilyName string
	NationalID string
	AdminID    int64
}

// CompletionInput is the data a student submits to finish registration
type CompletionInput struct {
	StudentCode   string
	NationalID    string
	Email         string
	Password      string
	BirthDate     string
	Sex           string
	Nationality   string
	Address       string
	Phone         string
	GuardianName  string
	GuardianPhone string
}

// IdentityResult is the public part of a pending account
type IdentityResult struct {
	GivenName             string
	FamilyName            string
	RegistrationExpiresAt time.Time
}

// CompletionResult tells the student where the code went and until when it is valid
type CompletionResult struct {
	MaskedEmail   string
	CodeExpiresAt time.Time
}

// RegistrationStats aggregates the account population. ByStatus always holds every status.
type RegistrationStats struct {
	ByStatus        map[models.RegistrationStatus]int64
	ExpiringSoon    int64
	RecentlyCreated int64
	Total           int64
}

// RegistrationSettings holds the time windows of the workflow
type RegistrationSettings struct {
	StubTTL            time.Duration
	ExpiringSoonWindow time.Duration
	RecentWindow       time.Duration
}

// RegistrationService drives a student account from pre-registration to activation
type RegistrationService interface {
	CreateStub(ctx context.Context, in CreateStubInput) (*models.StudentAccount, error)
	ValidateIdentity(ctx context.Context, studentCode, nationalID string) (*IdentityResult, error)
	BeginCompletion(ctx context.Context, in CompletionInput) (*CompletionResult, error)
	ConfirmEmail(ctx context.Context, studentCode, nationalID, code string) (*models.StudentAccount, error)
	ResendCode(ctx context.Context, studentCode, nationalID string) (*CompletionResult, error)
	SetStatus(ctx context.Context, accountID int64, status models.RegistrationStatus, adminID int64) (*models.StudentAccount, error)
	Reactivate(ctx context.Context, accountID int64, extensionDays int, adminID int64) (*models.StudentAccount, error)
	List(ctx context.Context, filter ListFilter) ([]*models.StudentAccount, int64, error)
	Stats(ctx context.Context) (*RegistrationStats, error)
	GetByID(ctx context.Context, id int64) (*models.StudentAccount, error)
	ExpireOverdue(ctx context.Context) (int64, error)
}

// RegistrationDeps are the collaborators of the registration service.
// Events and Metrics may be nil.
type RegistrationDeps struct {
	Store    StudentAccountStore
	Hasher   PasswordHasher
	Issuer   CodeIssuer
	Mailer   email.EmailService
	Clock    helpers.Clock
	Events   queue.Publisher
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Settings RegistrationSettings
}

// registrationServiceImpl implements RegistrationService
type registrationServiceImpl struct {
	store    StudentAccountStore
	hasher   PasswordHasher
	issuer   CodeIssuer
	mailer   email.EmailService
	clock    helpers.Clock
	events   queue.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	settings RegistrationSettings
}

// NewRegistrationService creates a new RegistrationService
func NewRegistrationService(deps RegistrationDeps) RegistrationService {
	if deps.Clock == nil {
		deps.Clock = helpers.SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = queue.NoopPublisher{}
	}
	if deps.Settings.StubTTL <= 0 {
		deps.Settings.StubTTL = helpers.Days(30)
	}
	if deps.Settings.ExpiringSoonWindow <= 0 {
		deps.Settings.ExpiringSoonWindow = helpers.Days(7)
	}
	if deps.Settings.RecentWindow <= 0 {
		deps.Settings.RecentWindow = helpers.Days(30)
	}
	return &registrationServiceImpl{
		store:    deps.Store,
		hasher:   deps.Hasher,
		issuer:   deps.Issuer,
		mailer:   deps.Mailer,
		clock:    deps.Clock,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		settings: deps.Settings,
	}
}

// checkStubFields applies the identity field rules shared by single and bulk creation
func checkStubFields(line int, givenName, familyName, nationalID string) []apperrors.RowError {
	var problems []apperrors.RowError
	if givenName == "" {
		problems = append(problems, apperrors.RowError{Line: line, Field: "givenName", Message: "los nombres son obligatorios"})
	} else if !validation.IsName(givenName) {
		problems = append(problems, apperrors.RowError{Line: line, Field: "givenName", Message: "los nombres son demasiado largos"})
	}
	if familyName == "" {
		problems = append(problems, apperrors.RowError{Line: line, Field: "familyName", Message: "los apellidos son obligatorios"})
	} else if !validation.IsName(familyName) {
		problems = append(problems, apperrors.RowError{Line: line, Field: "familyName", Message: "los apellidos son demasiado largos"})
	}
	if nationalID == "" {
		problems = append(problems, apperrors.RowError{Line: line, Field: "nationalId", Message: "el DNI es obligatorio"})
	} else if !validation.IsNationalID(nationalID) {
		problems = append(problems, apperrors.RowError{Line: line, Field: "nationalId", Message: "el DNI debe tener 8 dígitos"})
	}
	return problems
}

// CreateStub pre-registers a student with a fresh code and a completion window
func (s *registrationServiceImpl) CreateStub(ctx context.Context, in CreateStubInput) (*models.StudentAccount, error) {
	givenName := strings.TrimSpace(in.GivenName)
	familyName := strings.TrimSpace(in.FamilyName)
	nationalID := strings.TrimSpace(in.NationalID)

	if problems := checkStubFields(0, givenName, familyName, nationalID); len(problems) > 0 {
		return nil, apperrors.NewCustomError(apperrors.ErrValidationFailed, problems[0].Message).
			WithDetails(map[string]interface{}{"field": problems[0].Field})
	}

	taken, err := s.store.NationalIDExists(ctx, nationalID, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("error checking national ID: %w", err)
	}
	if taken {
		return nil, apperrors.NewCustomError(apperrors.ErrDuplicateNationalID, "Ya existe un alumno registrado con ese DNI")
	}

	name := models.FullName{GivenName: givenName, FamilyName: familyName}
	taken, err = s.store.FullNameExists(ctx, name, models.LiveStatuses, 0)
	if err != nil {
		return nil, fmt.Errorf("error checking full name: %w", err)
	}
	if taken {
		return nil, apperrors.NewCustomError(apperrors.ErrDuplicateFullName, "Ya existe un alumno registrado con esos nombres y apellidos")
	}

	code, err := studentcode.GenerateUnique(ctx, nationalID, s.store.StudentCodeExists)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateNationalID) {
			return nil, apperrors.NewCustomError(apperrors.ErrDuplicateNationalID, "Ya existe un alumno registrado con ese DNI")
		}
		return nil, err
	}

	now := s.clock.Now()
	adminID := in.AdminID
	var createdBy *int64
	if adminID > 0 {
		createdBy = &adminID
	}
	account := &models.StudentAccount{
		NationalID:            nationalID,
		GivenName:             givenName,
		FamilyName:            familyName,
		StudentCode:           code,
		RegistrationStatus:    models.StatusPending,
		PreRegisteredAt:       now,
		RegistrationExpiresAt: now.Add(s.settings.StubTTL),
		CreatedByAdminID:      createdBy,
	}
	if err := s.store.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("error creating student account: %w", err)
	}

	s.logger.Info().
		Int64("accountId", account.ID).
		Str("studentCode", account.StudentCode).
		Int64("adminId", adminID).
		Msg("Student pre-registered")

	event := queue.NewEvent(queue.EventPreRegistered, now)
	event.AccountID = account.ID
	event.StudentCode = account.StudentCode
	event.ActorID = createdBy
	s.publish(ctx, event)

	return account, nil
}

// identityCheck validates the student code against the DNI it claims to encode
func identityCheck(studentCode, nationalID string) error {
	if !studentcode.Validate(studentCode) {
		return apperrors.NewCustomError(apperrors.ErrInvalidStudentCode, "El código de alumno no es válido")
	}
	if extracted, _ := studentcode.ExtractNationalID(studentCode); extracted != nationalID {
		return apperrors.NewCustomError(apperrors.ErrIdentityMismatch, "El código de alumno no corresponde al DNI ingresado")
	}
	return nil
}

// findPending returns the pending, unexpired account for the identity pair.
// An overdue account is moved to expired before failing.
func (s *registrationServiceImpl) findPending(ctx context.Context, studentCode, nationalID string) (*models.StudentAccount, error) {
	if err := identityCheck(studentCode, nationalID); err != nil {
		return nil, err
	}

	account, err := s.store.FindByCodeAndNationalID(ctx, studentCode, nationalID, models.StatusPending)
	if err != nil {
		if errors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, s.missingPending(ctx, studentCode, nationalID)
		}
		return nil, fmt.Errorf("error finding pre-registration: %w", err)
	}

	now := s.clock.Now()
	if account.RegistrationOverdue(now) {
		s.expire(ctx, account, now)
		return nil, errRegistrationExpired()
	}
	return account, nil
}

// missingPending explains a failed pending lookup. An account the sweep has
// already expired still reports Expired rather than NotFound.
func (s *registrationServiceImpl) missingPending(ctx context.Context, studentCode, nationalID string) error {
	_, err := s.store.FindByCodeAndNationalID(ctx, studentCode, nationalID, models.StatusExpired)
	switch {
	case err == nil:
		return errRegistrationExpired()
	case errors.Is(err, apperrors.ErrResourceNotFound):
		return apperrors.NewResourceNotFoundError("No se encontró un prerregistro pendiente con esos datos")
	default:
		return fmt.Errorf("error finding pre-registration: %w", err)
	}
}

func errRegistrationExpired() error {
	return apperrors.NewCustomError(apperrors.ErrRegistrationExpired,
		"El plazo de prerregistro venció. Comuníquese con la institución para reactivarlo")
}

// checkTransition rejects a workflow step the status table does not allow
func checkTransition(from, to models.RegistrationStatus) error {
	if !models.CanTransition(from, to) {
		return apperrors.NewCustomError(apperrors.ErrInvalidTransition,
			fmt.Sprintf("No se puede pasar de %s a %s", from, to))
	}
	return nil
}

// expire records a lapsed pending account as expired. A failed write is only
// logged; the sweep picks the account up later.
func (s *registrationServiceImpl) expire(ctx context.Context, account *models.StudentAccount, now time.Time) {
	if err := checkTransition(account.RegistrationStatus, models.StatusExpired); err != nil {
		s.logger.Error().Err(err).Int64("accountId", account.ID).Msg("Refusing to expire account")
		return
	}
	expired := account.Clone()
	expired.RegistrationStatus = models.StatusExpired
	if err := s.store.Update(ctx, expired, models.StatusPending); err != nil {
		s.logger.Error().Err(err).Int64("accountId", account.ID).Msg("Failed to mark pre-registration as expired")
		return
	}
	s.metrics.Transition(string(models.StatusPending), string(models.StatusExpired))

	event := queue.NewEvent(queue.EventExpired, now)
	event.AccountID = account.ID
	event.StudentCode = account.StudentCode
	s.publish(ctx, event)
}

// ValidateIdentity confirms that a student holds a live pre-registration
func (s *registrationServiceImpl) ValidateIdentity(ctx context.Context, studentCode, nationalID string) (*IdentityResult, error) {
	account, err := s.findPending(ctx, strings.TrimSpace(studentCode), strings.TrimSpace(nationalID))
	if err != nil {
		return nil, err
	}
	return &IdentityResult{
		GivenName:             account.GivenName,
		FamilyName:            account.FamilyName,
		RegistrationExpiresAt: account.RegistrationExpiresAt,
	}, nil
}

// completionFields holds CompletionInput after trimming and validation
type completionFields struct {
	email         string
	birthDate     *time.Time
	sex           *string
	nationality   *string
	address       *string
	phone         *string
	guardianName  *string
	guardianPhone *string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *registrationServiceImpl) checkCompletion(in CompletionInput) (*completionFields, error) {
	f := &completionFields{email: strings.ToLower(strings.TrimSpace(in.Email))}
	if !validation.IsEmail(f.email) {
		return nil, apperrors.NewValidationError("El correo electrónico no es válido")
	}
	if problem := validation.PasswordProblem(in.Password); problem != "" {
		return nil, apperrors.NewValidationError(problem)
	}

	if raw := strings.TrimSpace(in.BirthDate); raw != "" {
		birthDate, ok := validation.ParseBirthDate(raw, s.clock.Now())
		if !ok {
			return nil, apperrors.NewValidationError("La fecha de nacimiento debe tener el formato AAAA-MM-DD")
		}
		f.birthDate = &birthDate
	}

	sex := strings.ToUpper(strings.TrimSpace(in.Sex))
	if sex != "" && sex != models.SexMale && sex != models.SexFemale {
		return nil, apperrors.NewValidationError("El sexo debe ser M o F")
	}
	f.sex = optional(sex)

	phone := strings.TrimSpace(in.Phone)
	guardianPhone := strings.TrimSpace(in.GuardianPhone)
	if !validation.IsOptionalPhone(phone) || !validation.IsOptionalPhone(guardianPhone) {
		return nil, apperrors.NewValidationError("El número de teléfono no es válido")
	}
	f.phone = optional(phone)
	f.guardianPhone = optional(guardianPhone)

	nationality := strings.TrimSpace(in.Nationality)
	address := strings.TrimSpace(in.Address)
	guardianName := strings.TrimSpace(in.GuardianName)
	for _, text := range []string{nationality, address, guardianName} {
		if !validation.IsOptionalText(text) {
			return nil, apperrors.NewValidationError("Uno de los datos personales es demasiado largo")
		}
	}
	f.nationality = optional(nationality)
	f.address = optional(address)
	f.guardianName = optional(guardianName)

	return f, nil
}

// BeginCompletion stores the student's personal data and emails a verification code.
// When the email cannot be delivered the account is put back to pending.
func (s *registrationServiceImpl) BeginCompletion(ctx context.Context, in CompletionInput) (*CompletionResult, error) {
	fields, err := s.checkCompletion(in)
	if err != nil {
		return nil, err
	}

	account, err := s.findPending(ctx, strings.TrimSpace(in.StudentCode), strings.TrimSpace(in.NationalID))
	if err != nil {
		return nil, err
	}

	if err := checkTransition(account.RegistrationStatus, models.StatusVerifyingEmail); err != nil {
		return nil, err
	}

	inUse, err := s.store.EmailInUse(ctx, fields.email, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error checking email: %w", err)
	}
	if inUse {
		return nil, apperrors.NewCustomError(apperrors.ErrDuplicateEmail, "El correo electrónico ya está registrado")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	code, err := s.issuer.Issue()
	if err != nil {
		return nil, err
	}

	updated := account.Clone()
	updated.Email = &fields.email
	updated.PasswordHash = &hash
	updated.BirthDate = fields.birthDate
	updated.Sex = fields.sex
	updated.Nationality = fields.nationality
	updated.Address = fields.address
	updated.Phone = fields.phone
	updated.GuardianName = fields.guardianName
	updated.GuardianPhone = fields.guardianPhone
	updated.RegistrationStatus = models.StatusVerifyingEmail
	updated.SetVerificationCode(code.Value, code.ExpiresAt)

	if err := s.store.Update(ctx, updated, models.StatusPending); err != nil {
		return nil, fmt.Errorf("error saving registration data: %w", err)
	}

	if err := s.mailer.SendVerificationEmail(fields.email, account.GivenName, code.Value); err != nil {
		s.metrics.VerificationEmail(metrics.EmailFailed)
		s.logger.Error().Err(err).Int64("accountId", account.ID).Msg("Verification email failed, restoring pending status")

		// Back to the stub as it was, so the email and password are not held
		rollback := account.Clone()
		rollback.RegistrationStatus = models.StatusPending
		rollback.ClearVerificationCode()
		if rbErr := checkTransition(updated.RegistrationStatus, rollback.RegistrationStatus); rbErr != nil {
			s.logger.Error().Err(rbErr).Int64("accountId", account.ID).Msg("Failed to restore pending status")
		} else if rbErr := s.store.Update(ctx, rollback, models.StatusVerifyingEmail); rbErr != nil {
			s.logger.Error().Err(rbErr).Int64("accountId", account.ID).Msg("Failed to restore pending status")
		}
		return nil, apperrors.NewCustomError(apperrors.ErrEmailDeliveryFailed,
			"No se pudo enviar el correo de verificación. Inténtelo nuevamente")
	}

	s.metrics.VerificationEmail(metrics.EmailSent)
	s.metrics.Transition(string(models.StatusPending), string(models.StatusVerifyingEmail))

	masked := MaskEmail(fields.email)
	event := queue.NewEvent(queue.EventVerificationRequested, s.clock.Now())
	event.AccountID = account.ID
	event.StudentCode = account.StudentCode
	event.Data = map[string]interface{}{"maskedEmail": masked}
	s.publish(ctx, event)

	return &CompletionResult{MaskedEmail: masked, CodeExpiresAt: code.ExpiresAt}, nil
}

func (s *registrationServiceImpl) findVerifying(ctx context.Context, studentCode, nationalID string) (*models.StudentAccount, error) {
	account, err := s.store.FindByCodeAndNationalID(ctx, studentCode, nationalID, models.StatusVerifyingEmail)
	if err != nil {
		if errors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, apperrors.NewResourceNotFoundError("No hay una verificación de correo pendiente con esos datos")
		}
		return nil, fmt.Errorf("error finding account: %w", err)
	}
	return account, nil
}

// ConfirmEmail activates the account when the submitted code matches and is still valid
func (s *registrationServiceImpl) ConfirmEmail(ctx context.Context, studentCode, nationalID, code string) (*models.StudentAccount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidationError("El código de verificación es obligatorio")
	}
	if !verification.IsWellFormed(code) {
		return nil, apperrors.NewValidationError("El código de verificación debe tener 6 dígitos")
	}

	account, err := s.findVerifying(ctx, strings.TrimSpace(studentCode), strings.TrimSpace(nationalID))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if account.VerificationCode == nil || account.VerificationCodeExpiresAt == nil || now.After(*account.VerificationCodeExpiresAt) {
		return nil, apperrors.NewCustomError(apperrors.ErrVerificationCodeExpired,
			"El código de verificación venció. Solicite uno nuevo")
	}
	if *account.VerificationCode != code {
		return nil, apperrors.NewCustomError(apperrors.ErrVerificationCodeMismatch, "El código de verificación es incorrecto")
	}

	if err := checkTransition(account.RegistrationStatus, models.StatusActive); err != nil {
		return nil, err
	}

	activated := account.Clone()
	activated.RegistrationStatus = models.StatusActive
	activated.ActivatedAt = &now
	activated.ClearVerificationCode()
	if err := s.store.Update(ctx, activated, models.StatusVerifyingEmail); err != nil {
		return nil, fmt.Errorf("error activating account: %w", err)
	}

	s.metrics.Transition(string(models.StatusVerifyingEmail), string(models.StatusActive))
	s.logger.Info().Int64("accountId", activated.ID).Str("studentCode", activated.StudentCode).Msg("Student account activated")

	event := queue.NewEvent(queue.EventActivated, now)
	event.AccountID = activated.ID
	event.StudentCode = activated.StudentCode
	s.publish(ctx, event)

	return activated, nil
}

// ResendCode replaces the verification code and emails it again.
// Delivery failure leaves the account in verifying_email.
func (s *registrationServiceImpl) ResendCode(ctx context.Context, studentCode, nationalID string) (*CompletionResult, error) {
	account, err := s.findVerifying(ctx, strings.TrimSpace(studentCode), strings.TrimSpace(nationalID))
	if err != nil {
		return nil, err
	}
	if account.Email == nil {
		return nil, fmt.Errorf("account %d is verifying without an email", account.ID)
	}

	code, err := s.issuer.Issue()
	if err != nil {
		return nil, err
	}

	updated := account.Clone()
	updated.SetVerificationCode(code.Value, code.ExpiresAt)
	if err := s.store.Update(ctx, updated, models.StatusVerifyingEmail); err != nil {
		return nil, fmt.Errorf("error saving verification code: %w", err)
	}

	if err := s.mailer.SendVerificationEmail(*account.Email, account.GivenName, code.Value); err != nil {
		s.metrics.VerificationEmail(metrics.EmailFailed)
		s.logger.Error().Err(err).Int64("accountId", account.ID).Msg("Verification email resend failed")
		return nil, apperrors.NewCustomError(apperrors.ErrEmailDeliveryFailed,
			"No se pudo reenviar el correo de verificación. Inténtelo nuevamente")
	}
	s.metrics.VerificationEmail(metrics.EmailSent)

	masked := MaskEmail(*account.Email)
	event := queue.NewEvent(queue.EventVerificationRequested, s.clock.Now())
	event.AccountID = account.ID
	event.StudentCode = account.StudentCode
	event.Data = map[string]interface{}{"maskedEmail": masked, "resend": true}
	s.publish(ctx, event)

	return &CompletionResult{MaskedEmail: masked, CodeExpiresAt: code.ExpiresAt}, nil
}

func (s *registrationServiceImpl) getAccount(ctx context.Context, id int64) (*models.StudentAccount, error) {
	if id <= 0 {
		return nil, apperrors.NewValidationError("El identificador del alumno no es válido")
	}
	account, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, apperrors.NewResourceNotFoundError("No se encontró el alumno")
		}
		return nil, fmt.Errorf("error retrieving student account: %w", err)
	}
	return account, nil
}

// SetStatus lets an administrator activate or suspend an account.
// Setting the status an account already has changes nothing.
func (s *registrationServiceImpl) SetStatus(ctx context.Context, accountID int64, status models.RegistrationStatus, adminID int64) (*models.StudentAccount, error) {
	if status != models.StatusActive && status != models.StatusSuspended {
		return nil, apperrors.NewCustomError(apperrors.ErrInvalidTransition, "Solo se puede activar o suspender una cuenta")
	}

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	from := account.RegistrationStatus
	if from == status {
		return account, nil
	}
	if !models.CanAdminSet(from, status) {
		return nil, apperrors.NewCustomError(apperrors.ErrInvalidTransition,
			fmt.Sprintf("No se puede cambiar una cuenta %s a %s", from, status))
	}

	now := s.clock.Now()
	updated := account.Clone()
	updated.RegistrationStatus = status
	if status == models.StatusActive {
		updated.ActivatedAt = &now
	}
	updated.ClearVerificationCode()
	if err := s.store.Update(ctx, updated, from); err != nil {
		return nil, fmt.Errorf("error updating status: %w", err)
	}

	s.metrics.Transition(string(from), string(status))
	s.logger.Info().
		Int64("accountId", updated.ID).
		Str("from", string(from)).
		Str("to", string(status)).
		Int64("adminId", adminID).
		Msg("Account status changed by administrator")

	event := queue.NewEvent(queue.EventStatusChanged, now)
	event.AccountID = updated.ID
	event.StudentCode = updated.StudentCode
	event.ActorID = &adminID
	event.Data = map[string]interface{}{"from": string(from), "to": string(status)}
	s.publish(ctx, event)

	return updated, nil
}

// Reactivate reopens an expired pre-registration for extensionDays from now
func (s *registrationServiceImpl) Reactivate(ctx context.Context, accountID int64, extensionDays int, adminID int64) (*models.StudentAccount, error) {
	if !validation.NewNumericValidation(extensionDays).WithRange(1, MaxExtensionDays).Validate() {
		return nil, apperrors.NewCustomError(apperrors.ErrInvalidExtension,
			fmt.Sprintf("La extensión debe estar entre 1 y %d días", MaxExtensionDays))
	}

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.RegistrationStatus != models.StatusExpired {
		return nil, apperrors.NewCustomError(apperrors.ErrNotExpired, "Solo se pueden reactivar prerregistros vencidos")
	}

	taken, err := s.store.NationalIDExists(ctx, account.NationalID, models.LiveStatuses, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error checking national ID: %w", err)
	}
	if taken {
		return nil, apperrors.NewCustomError(apperrors.ErrDuplicateNationalID, "Otro alumno vigente ya tiene ese DNI")
	}
	name := models.FullName{GivenName: account.GivenName, FamilyName: account.FamilyName}
	taken, err = s.store.FullNameExists(ctx, name, models.LiveStatuses, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error checking full name: %w", err)
	}
	if taken {
		return nil, apperrors.NewCustomError(apperrors.ErrDuplicateFullName, "Otro alumno vigente ya tiene esos nombres y apellidos")
	}

	if err := checkTransition(account.RegistrationStatus, models.StatusPending); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated := account.Clone()
	updated.RegistrationStatus = models.StatusPending
	updated.PreRegisteredAt = now
	updated.RegistrationExpiresAt = now.Add(helpers.Days(extensionDays))
	updated.CreatedByAdminID = &adminID
	if err := s.store.Update(ctx, updated, models.StatusExpired); err != nil {
		return nil, fmt.Errorf("error reactivating account: %w", err)
	}

	s.metrics.Transition(string(models.StatusExpired), string(models.StatusPending))

	event := queue.NewEvent(queue.EventReactivated, now)
	event.AccountID = updated.ID
	event.StudentCode = updated.StudentCode
	event.ActorID = &adminID
	event.Data = map[string]interface{}{"extensionDays": extensionDays}
	s.publish(ctx, event)

	return updated, nil
}

// List returns one page of accounts and the total match count
func (s *registrationServiceImpl) List(ctx context.Context, filter ListFilter) ([]*models.StudentAccount, int64, error) {
	filter.Page, filter.Size = helpers.NormalizePage(filter.Page, filter.Size)
	filter.Search = strings.TrimSpace(filter.Search)

	accounts, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing student accounts: %w", err)
	}
	return accounts, total, nil
}

// Stats counts accounts by status plus the expiring and recent subsets
func (s *registrationServiceImpl) Stats(ctx context.Context) (*RegistrationStats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting accounts: %w", err)
	}

	stats := &RegistrationStats{ByStatus: make(map[models.RegistrationStatus]int64, len(models.AllRegistrationStatuses))}
	for _, status := range models.AllRegistrationStatuses {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}

	now := s.clock.Now()
	if stats.ExpiringSoon, err = s.store.CountExpiringBetween(ctx, now, now.Add(s.settings.ExpiringSoonWindow)); err != nil {
		return nil, fmt.Errorf("error counting expiring accounts: %w", err)
	}
	if stats.RecentlyCreated, err = s.store.CountPreRegisteredSince(ctx, now.Add(-s.settings.RecentWindow)); err != nil {
		return nil, fmt.Errorf("error counting recent accounts: %w", err)
	}
	return stats, nil
}

// GetByID returns a single account for the administrator view
func (s *registrationServiceImpl) GetByID(ctx context.Context, id int64) (*models.StudentAccount, error) {
	return s.getAccount(ctx, id)
}

// ExpireOverdue moves every lapsed pending account to expired
func (s *registrationServiceImpl) ExpireOverdue(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	codes, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("error expiring overdue accounts: %w", err)
	}

	for _, code := range codes {
		s.metrics.Transition(string(models.StatusPending), string(models.StatusExpired))
		event := queue.NewEvent(queue.EventExpired, now)
		event.StudentCode = code
		s.publish(ctx, event)
	}
	if len(codes) > 0 {
		s.logger.Info().Int("count", len(codes)).Msg("Expired overdue pre-registrations")
	}
	return int64(len(codes)), nil
}

// publish sends an event; failures are logged and never reach the caller
func (s *registrationServiceImpl) publish(ctx context.Context, event queue.Event) {
	publishEvent(ctx, s.events, s.logger, event)
}

func publishEvent(ctx context.Context, events queue.Publisher, logger zerolog.Logger, event queue.Event) {
	if err := events.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).
			Str("eventType", string(event.Type)).
			Str("eventId", event.ID).
			Msg("Failed to publish event")
	}
}

// MaskEmail hides most of the local part, e.g. "a***@colegio.pe"
func MaskEmail(address string) string {
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := address[:at], address[at:]
	first := []rune(local)[0]
	return string(first) + "***" + domain
}
