package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/ieppc/matricula/internal/pkg/studentcode"
	"github.com/ieppc/matricula/internal/pkg/verification"
	"github.com/ieppc/matricula/internal/queue"
)

const (
	dniAna  = "12345678"
	codeAna = "20123456787"
)

func createAna(t *testing.T, h *harness) *models.StudentAccount {
	t.Helper()
	account, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName:  "Ana",
		FamilyName: "Quispe",
		NationalID: dniAna,
		AdminID:    7,
	})
	if err != nil {
		t.Fatalf("create stub: %v", err)
	}
	return account
}

func completion(email string) CompletionInput {
	return CompletionInput{
		StudentCode: codeAna,
		NationalID:  dniAna,
		Email:       email,
		Password:    "secreto123",
		BirthDate:   "2012-05-20",
		Sex:         "f",
		Phone:       "987 654 321",
	}
}

func TestCreateStub(t *testing.T) {
	h := newHarness()
	account, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName:  "  Ana ",
		FamilyName: " Quispe",
		NationalID: " 12345678 ",
		AdminID:    7,
	})
	if err != nil {
		t.Fatalf("create stub: %v", err)
	}

	if account.StudentCode != codeAna {
		t.Fatalf("expected code %s, got %s", codeAna, account.StudentCode)
	}
	if account.GivenName != "Ana" || account.FamilyName != "Quispe" || account.NationalID != dniAna {
		t.Fatalf("expected trimmed identity, got %+v", account)
	}
	if account.RegistrationStatus != models.StatusPending {
		t.Fatalf("expected pending, got %s", account.RegistrationStatus)
	}
	if !account.PreRegisteredAt.Equal(baseTime) || !account.RegistrationExpiresAt.Equal(baseTime.Add(30*24*time.Hour)) {
		t.Fatalf("unexpected window %v - %v", account.PreRegisteredAt, account.RegistrationExpiresAt)
	}
	if account.CreatedByAdminID == nil || *account.CreatedByAdminID != 7 {
		t.Fatalf("expected admin 7, got %v", account.CreatedByAdminID)
	}
	if got := h.publisher.types(); len(got) != 1 || got[0] != queue.EventPreRegistered {
		t.Fatalf("expected one preregistered event, got %v", got)
	}
}

func TestCreateStubValidation(t *testing.T) {
	cases := []CreateStubInput{
		{GivenName: "", FamilyName: "Quispe", NationalID: dniAna},
		{GivenName: "Ana", FamilyName: "  ", NationalID: dniAna},
		{GivenName: "Ana", FamilyName: "Quispe", NationalID: "1234567"},
		{GivenName: "Ana", FamilyName: "Quispe", NationalID: "1234567a"},
	}
	for _, in := range cases {
		h := newHarness()
		_, err := h.svc.CreateStub(context.Background(), in)
		if !errors.Is(err, apperrors.ErrValidationFailed) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
		if h.store.count() != 0 {
			t.Fatalf("%+v: nothing should be stored", in)
		}
	}
}

func TestCreateStubDuplicateNationalID(t *testing.T) {
	h := newHarness()
	createAna(t, h)

	_, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName: "Rosa", FamilyName: "Mamani", NationalID: dniAna, AdminID: 7,
	})
	if !errors.Is(err, apperrors.ErrDuplicateNationalID) {
		t.Fatalf("expected duplicate national ID, got %v", err)
	}
}

func TestCreateStubDuplicateNationalIDAcrossStatuses(t *testing.T) {
	h := newHarness()
	h.store.seed(&models.StudentAccount{
		NationalID: "87654321", GivenName: "Luis", FamilyName: "Chen",
		StudentCode: "x", RegistrationStatus: models.StatusCancelled,
	})

	_, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName: "Luis", FamilyName: "Chen", NationalID: "87654321",
	})
	if !errors.Is(err, apperrors.ErrDuplicateNationalID) {
		t.Fatalf("expected duplicate national ID for cancelled holder, got %v", err)
	}
}

func TestCreateStubDuplicateFullName(t *testing.T) {
	h := newHarness()
	createAna(t, h)

	_, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName: "Ana", FamilyName: "Quispe", NationalID: "12345679",
	})
	if !errors.Is(err, apperrors.ErrDuplicateFullName) {
		t.Fatalf("expected duplicate full name, got %v", err)
	}

	// names compare case-sensitively
	if _, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName: "ANA", FamilyName: "Quispe", NationalID: "12345679",
	}); err != nil {
		t.Fatalf("different case should be accepted: %v", err)
	}

	// expired holders do not block the name
	h.store.seed(&models.StudentAccount{
		NationalID: "11111111", GivenName: "Luis", FamilyName: "Chen",
		StudentCode: "y", RegistrationStatus: models.StatusExpired,
	})
	if _, err := h.svc.CreateStub(context.Background(), CreateStubInput{
		GivenName: "Luis", FamilyName: "Chen", NationalID: "22222222",
	}); err != nil {
		t.Fatalf("expired name holder should not block: %v", err)
	}
}

func TestValidateIdentity(t *testing.T) {
	h := newHarness()
	createAna(t, h)
	ctx := context.Background()

	got, err := h.svc.ValidateIdentity(ctx, codeAna, dniAna)
	if err != nil {
		t.Fatalf("validate identity: %v", err)
	}
	if got.GivenName != "Ana" || got.FamilyName != "Quispe" || !got.RegistrationExpiresAt.Equal(baseTime.Add(helpers.Days(30))) {
		t.Fatalf("unexpected identity %+v", got)
	}

	if _, err := h.svc.ValidateIdentity(ctx, "20123456788", dniAna); !errors.Is(err, apperrors.ErrInvalidStudentCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := h.svc.ValidateIdentity(ctx, codeAna, "12345679"); !errors.Is(err, apperrors.ErrIdentityMismatch) {
		t.Fatalf("expected identity mismatch, got %v", err)
	}

	other := "87654321"
	otherCode, _ := studentcode.Generate(other)
	if _, err := h.svc.ValidateIdentity(ctx, otherCode, other); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidateIdentityExpiresOverdueStub(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)

	h.clock.Advance(helpers.Days(30))
	if _, err := h.svc.ValidateIdentity(context.Background(), codeAna, dniAna); err != nil {
		t.Fatalf("last instant of the window should pass: %v", err)
	}

	h.clock.Advance(time.Second)
	_, err := h.svc.ValidateIdentity(context.Background(), codeAna, dniAna)
	if !errors.Is(err, apperrors.ErrRegistrationExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if stored := h.store.get(account.ID); stored.RegistrationStatus != models.StatusExpired {
		t.Fatalf("expected stored status expired, got %s", stored.RegistrationStatus)
	}

	types := h.publisher.types()
	if types[len(types)-1] != queue.EventExpired {
		t.Fatalf("expected expired event, got %v", types)
	}

	// once expired the pair no longer matches a pending stub
	if _, err := h.svc.ValidateIdentity(context.Background(), codeAna, dniAna); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}
}

func TestBeginCompletion(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)

	result, err := h.svc.BeginCompletion(context.Background(), completion("  Ana.Quispe@Colegio.PE "))
	if err != nil {
		t.Fatalf("begin completion: %v", err)
	}
	if result.MaskedEmail != "a***@colegio.pe" {
		t.Fatalf("unexpected masked email %q", result.MaskedEmail)
	}
	if !result.CodeExpiresAt.Equal(baseTime.Add(15 * time.Minute)) {
		t.Fatalf("unexpected code expiry %v", result.CodeExpiresAt)
	}

	stored := h.store.get(account.ID)
	if stored.RegistrationStatus != models.StatusVerifyingEmail {
		t.Fatalf("expected verifying_email, got %s", stored.RegistrationStatus)
	}
	if stored.Email == nil || *stored.Email != "ana.quispe@colegio.pe" {
		t.Fatalf("expected normalised email, got %v", stored.Email)
	}
	if stored.PasswordHash == nil || *stored.PasswordHash != "hashed:secreto123" {
		t.Fatalf("expected hashed password, got %v", stored.PasswordHash)
	}
	if stored.Sex == nil || *stored.Sex != "F" {
		t.Fatalf("expected sex F, got %v", stored.Sex)
	}
	if stored.BirthDate == nil || stored.BirthDate.Format("2006-01-02") != "2012-05-20" {
		t.Fatalf("unexpected birth date %v", stored.BirthDate)
	}
	if stored.Address != nil {
		t.Fatalf("blank optional fields should stay null")
	}

	sent := h.mailer.last()
	if sent.to != "ana.quispe@colegio.pe" || sent.name != "Ana" {
		t.Fatalf("unexpected email %+v", sent)
	}
	if stored.VerificationCode == nil || *stored.VerificationCode != sent.code || !verification.IsWellFormed(sent.code) {
		t.Fatalf("stored code %v does not match sent code %q", stored.VerificationCode, sent.code)
	}
}

func TestBeginCompletionRejectsBadInput(t *testing.T) {
	cases := map[string]func(*CompletionInput){
		"email":      func(in *CompletionInput) { in.Email = "ana@colegio" },
		"short":      func(in *CompletionInput) { in.Password = "abc123" },
		"no digit":   func(in *CompletionInput) { in.Password = "solamente" },
		"birth date": func(in *CompletionInput) { in.BirthDate = "20/05/2012" },
		"sex":        func(in *CompletionInput) { in.Sex = "X" },
		"phone":      func(in *CompletionInput) { in.Phone = "abc" },
	}
	for name, mutate := range cases {
		h := newHarness()
		account := createAna(t, h)
		in := completion("ana@colegio.pe")
		mutate(&in)

		_, err := h.svc.BeginCompletion(context.Background(), in)
		if !errors.Is(err, apperrors.ErrValidationFailed) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
		if h.store.get(account.ID).RegistrationStatus != models.StatusPending {
			t.Fatalf("%s: account should stay pending", name)
		}
	}
}

func TestBeginCompletionDuplicateEmail(t *testing.T) {
	h := newHarness()
	taken := "ana@colegio.pe"
	h.store.seed(&models.StudentAccount{
		NationalID: "87654321", GivenName: "Luis", FamilyName: "Chen",
		StudentCode: "z", RegistrationStatus: models.StatusActive, Email: &taken,
	})
	account := createAna(t, h)

	_, err := h.svc.BeginCompletion(context.Background(), completion("ANA@colegio.pe"))
	if !errors.Is(err, apperrors.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusPending {
		t.Fatalf("expected account to stay pending, got %s", got)
	}
	if len(h.mailer.sent) != 0 {
		t.Fatalf("no email should be sent")
	}
}

func TestBeginCompletionRollsBackOnDeliveryFailure(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)
	h.mailer.err = errSMTPDown

	_, err := h.svc.BeginCompletion(context.Background(), completion("ana@colegio.pe"))
	if !errors.Is(err, apperrors.ErrEmailDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}

	stored := h.store.get(account.ID)
	if stored.RegistrationStatus != models.StatusPending {
		t.Fatalf("expected rollback to pending, got %s", stored.RegistrationStatus)
	}
	if stored.VerificationCode != nil || stored.VerificationCodeExpiresAt != nil {
		t.Fatalf("expected code and expiry cleared together")
	}
	if stored.Email != nil || stored.PasswordHash != nil || stored.Phone != nil || stored.BirthDate != nil {
		t.Fatalf("expected completion data discarded on rollback: %+v", stored)
	}

	// the student can simply try again
	h.mailer.err = nil
	if _, err := h.svc.BeginCompletion(context.Background(), completion("ana@colegio.pe")); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestBeginCompletionOnOverdueStub(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)
	h.clock.Advance(helpers.Days(31))

	_, err := h.svc.BeginCompletion(context.Background(), completion("ana@colegio.pe"))
	if !errors.Is(err, apperrors.ErrRegistrationExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusExpired {
		t.Fatalf("expected expired status, got %s", got)
	}
}

func TestLookupAfterSweepReportsExpired(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)
	h.clock.Advance(helpers.Days(31))

	n, err := h.svc.ExpireOverdue(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusExpired {
		t.Fatalf("expected expired status after sweep, got %s", got)
	}

	if _, err := h.svc.ValidateIdentity(context.Background(), codeAna, dniAna); !errors.Is(err, apperrors.ErrRegistrationExpired) {
		t.Fatalf("validate after sweep: expected expired, got %v", err)
	}
	if _, err := h.svc.BeginCompletion(context.Background(), completion("ana@colegio.pe")); !errors.Is(err, apperrors.ErrRegistrationExpired) {
		t.Fatalf("begin completion after sweep: expected expired, got %v", err)
	}

	// an unknown pair is still not found
	if _, err := h.svc.ValidateIdentity(context.Background(), codeAna, "87654321"); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found for another DNI, got %v", err)
	}
}

func beginVerifying(t *testing.T, h *harness) (*models.StudentAccount, string) {
	t.Helper()
	account := createAna(t, h)
	if _, err := h.svc.BeginCompletion(context.Background(), completion("ana@colegio.pe")); err != nil {
		t.Fatalf("begin completion: %v", err)
	}
	return account, h.mailer.last().code
}

func TestConfirmEmail(t *testing.T) {
	h := newHarness()
	_, code := beginVerifying(t, h)
	h.clock.Advance(10 * time.Minute)

	activated, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, code)
	if err != nil {
		t.Fatalf("confirm email: %v", err)
	}
	if activated.RegistrationStatus != models.StatusActive {
		t.Fatalf("expected active, got %s", activated.RegistrationStatus)
	}
	if activated.ActivatedAt == nil || !activated.ActivatedAt.Equal(h.clock.Now()) {
		t.Fatalf("expected activatedAt now, got %v", activated.ActivatedAt)
	}
	stored := h.store.get(activated.ID)
	if stored.VerificationCode != nil || stored.VerificationCodeExpiresAt != nil {
		t.Fatalf("expected code cleared after activation")
	}

	if _, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, code); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found on repeat, got %v", err)
	}
}

func TestConfirmEmailExpiredCode(t *testing.T) {
	h := newHarness()
	account, code := beginVerifying(t, h)
	h.clock.Advance(15*time.Minute + time.Second)

	_, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, code)
	if !errors.Is(err, apperrors.ErrVerificationCodeExpired) {
		t.Fatalf("expected code expired, got %v", err)
	}
	stored := h.store.get(account.ID)
	if stored.RegistrationStatus != models.StatusVerifyingEmail || stored.VerificationCode == nil || *stored.VerificationCode != code {
		t.Fatalf("expired code must not change the account: %+v", stored)
	}
}

func TestConfirmEmailMismatch(t *testing.T) {
	h := newHarness()
	account, code := beginVerifying(t, h)

	wrong := "100000"
	if code == wrong {
		wrong = "100001"
	}
	if _, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, wrong); !errors.Is(err, apperrors.ErrVerificationCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if _, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, " "); !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected validation error for blank code, got %v", err)
	}
	for _, malformed := range []string{"12345", "1234567", "012345", "12a456"} {
		if _, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, malformed); !errors.Is(err, apperrors.ErrValidationFailed) {
			t.Fatalf("code %q: expected validation error, got %v", malformed, err)
		}
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusVerifyingEmail {
		t.Fatalf("malformed codes must not change the account, got %s", got)
	}
}

func TestResendCode(t *testing.T) {
	h := newHarness()
	account, _ := beginVerifying(t, h)
	h.clock.Advance(20 * time.Minute)

	result, err := h.svc.ResendCode(context.Background(), codeAna, dniAna)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !result.CodeExpiresAt.Equal(h.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("expected fresh expiry, got %v", result.CodeExpiresAt)
	}
	fresh := h.mailer.last().code
	stored := h.store.get(account.ID)
	if stored.VerificationCode == nil || *stored.VerificationCode != fresh {
		t.Fatalf("expected stored code to be the resent one")
	}

	if _, err := h.svc.ConfirmEmail(context.Background(), codeAna, dniAna, fresh); err != nil {
		t.Fatalf("confirm with resent code: %v", err)
	}
}

func TestResendCodeDeliveryFailureKeepsVerifying(t *testing.T) {
	h := newHarness()
	account, _ := beginVerifying(t, h)
	h.mailer.err = errSMTPDown

	_, err := h.svc.ResendCode(context.Background(), codeAna, dniAna)
	if !errors.Is(err, apperrors.ErrEmailDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusVerifyingEmail {
		t.Fatalf("expected verifying_email without rollback, got %s", got)
	}
}

func TestResendCodeRequiresVerifying(t *testing.T) {
	h := newHarness()
	createAna(t, h)
	if _, err := h.svc.ResendCode(context.Background(), codeAna, dniAna); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found for pending account, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)
	ctx := context.Background()

	if _, err := h.svc.SetStatus(ctx, account.ID, models.StatusExpired, 1); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := h.svc.SetStatus(ctx, 999, models.StatusSuspended, 1); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	h.clock.Advance(time.Hour)
	active, err := h.svc.SetStatus(ctx, account.ID, models.StatusActive, 1)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.ActivatedAt == nil || !active.ActivatedAt.Equal(h.clock.Now()) {
		t.Fatalf("expected activatedAt set, got %v", active.ActivatedAt)
	}

	suspended, err := h.svc.SetStatus(ctx, account.ID, models.StatusSuspended, 1)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.RegistrationStatus != models.StatusSuspended {
		t.Fatalf("expected suspended, got %s", suspended.RegistrationStatus)
	}
	if got := h.store.get(account.ID).RegistrationStatus; got != models.StatusSuspended {
		t.Fatalf("expected stored suspended, got %s", got)
	}

	last := h.publisher.events[len(h.publisher.events)-1]
	if last.Type != queue.EventStatusChanged || last.Data["from"] != "active" || last.Data["to"] != "suspended" {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestSetStatusRejectsCancelled(t *testing.T) {
	h := newHarness()
	cancelled := h.store.seed(&models.StudentAccount{
		NationalID: dniAna, GivenName: "Ana", FamilyName: "Quispe",
		StudentCode: codeAna, RegistrationStatus: models.StatusCancelled,
	})
	if _, err := h.svc.SetStatus(context.Background(), cancelled.ID, models.StatusActive, 1); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from cancelled, got %v", err)
	}
}

func TestReactivate(t *testing.T) {
	h := newHarness()
	account := createAna(t, h)
	ctx := context.Background()

	for _, days := range []int{0, 366, -1} {
		if _, err := h.svc.Reactivate(ctx, account.ID, days, 9); !errors.Is(err, apperrors.ErrInvalidExtension) {
			t.Fatalf("days %d: expected invalid extension, got %v", days, err)
		}
	}
	if _, err := h.svc.Reactivate(ctx, 999, 30, 9); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.svc.Reactivate(ctx, account.ID, 30, 9); !errors.Is(err, apperrors.ErrNotExpired) {
		t.Fatalf("expected not expired, got %v", err)
	}

	h.clock.Advance(helpers.Days(45))
	if n, err := h.svc.ExpireOverdue(ctx); err != nil || n != 1 {
		t.Fatalf("expire overdue: %d, %v", n, err)
	}

	reactivated, err := h.svc.Reactivate(ctx, account.ID, 30, 9)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	now := h.clock.Now()
	if !reactivated.RegistrationExpiresAt.Equal(now.Add(helpers.Days(30))) {
		t.Fatalf("expected expiry 30 days from reactivation, got %v", reactivated.RegistrationExpiresAt)
	}
	if !reactivated.PreRegisteredAt.Equal(now) || reactivated.RegistrationStatus != models.StatusPending {
		t.Fatalf("unexpected reactivated account %+v", reactivated)
	}
	if reactivated.CreatedByAdminID == nil || *reactivated.CreatedByAdminID != 9 {
		t.Fatalf("expected admin 9, got %v", reactivated.CreatedByAdminID)
	}

	if _, err := h.svc.ValidateIdentity(ctx, codeAna, dniAna); err != nil {
		t.Fatalf("reactivated stub should validate: %v", err)
	}
}

func TestReactivateBlockedByLiveDuplicate(t *testing.T) {
	h := newHarness()
	expired := h.store.seed(&models.StudentAccount{
		NationalID: dniAna, GivenName: "Ana", FamilyName: "Quispe",
		StudentCode: codeAna, RegistrationStatus: models.StatusExpired,
	})
	h.store.seed(&models.StudentAccount{
		NationalID: "87654321", GivenName: "Ana", FamilyName: "Quispe",
		StudentCode: "other", RegistrationStatus: models.StatusActive,
	})

	if _, err := h.svc.Reactivate(context.Background(), expired.ID, 30, 9); !errors.Is(err, apperrors.ErrDuplicateFullName) {
		t.Fatalf("expected duplicate full name, got %v", err)
	}

	h.store.seed(&models.StudentAccount{
		NationalID: dniAna, GivenName: "Otra", FamilyName: "Persona",
		StudentCode: "third", RegistrationStatus: models.StatusVerifyingEmail,
	})
	if _, err := h.svc.Reactivate(context.Background(), expired.ID, 30, 9); !errors.Is(err, apperrors.ErrDuplicateNationalID) {
		t.Fatalf("expected duplicate national ID, got %v", err)
	}
}

func TestStats(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	createAna(t, h)

	h.store.seed(&models.StudentAccount{
		NationalID: "11111111", StudentCode: "a", RegistrationStatus: models.StatusPending,
		PreRegisteredAt: baseTime.Add(-helpers.Days(25)), RegistrationExpiresAt: baseTime.Add(helpers.Days(5)),
	})
	h.store.seed(&models.StudentAccount{
		NationalID: "22222222", StudentCode: "b", RegistrationStatus: models.StatusActive,
		PreRegisteredAt: baseTime.Add(-helpers.Days(60)), RegistrationExpiresAt: baseTime.Add(-helpers.Days(30)),
	})

	stats, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.ByStatus) != len(models.AllRegistrationStatuses) {
		t.Fatalf("expected every status present, got %v", stats.ByStatus)
	}
	if stats.ByStatus[models.StatusPending] != 2 || stats.ByStatus[models.StatusActive] != 1 || stats.ByStatus[models.StatusCancelled] != 0 {
		t.Fatalf("unexpected counts %v", stats.ByStatus)
	}
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.ExpiringSoon != 1 {
		t.Fatalf("expected 1 expiring soon, got %d", stats.ExpiringSoon)
	}
	if stats.RecentlyCreated != 2 {
		t.Fatalf("expected 2 recent, got %d", stats.RecentlyCreated)
	}
}

func TestListNormalisesPaging(t *testing.T) {
	h := newHarness()
	createAna(t, h)

	accounts, total, err := h.svc.List(context.Background(), ListFilter{Page: 0, Size: 0, Search: " quispe "})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(accounts) != 1 || accounts[0].StudentCode != codeAna {
		t.Fatalf("unexpected listing %d %v", total, accounts)
	}
}

func TestGetByIDValidatesID(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.GetByID(context.Background(), 0); !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.svc.GetByID(context.Background(), 42); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExpireOverduePublishesEvents(t *testing.T) {
	h := newHarness()
	createAna(t, h)
	h.clock.Advance(helpers.Days(31))

	n, err := h.svc.ExpireOverdue(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d, %v", n, err)
	}
	last := h.publisher.events[len(h.publisher.events)-1]
	if last.Type != queue.EventExpired || last.StudentCode != codeAna {
		t.Fatalf("unexpected event %+v", last)
	}

	if n, _ := h.svc.ExpireOverdue(context.Background()); n != 0 {
		t.Fatalf("second sweep should find nothing, got %d", n)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness()
	h.publisher.err = errors.New("broker unavailable")
	createAna(t, h)
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"ana@colegio.pe": "a***@colegio.pe",
		"x@y.pe":         "x***@y.pe",
		"sin-arroba":     "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := checkTransition(models.StatusPending, models.StatusVerifyingEmail); err != nil {
		t.Fatalf("pending -> verifying_email: %v", err)
	}
	if err := checkTransition(models.StatusVerifyingEmail, models.StatusPending); err != nil {
		t.Fatalf("rollback edge: %v", err)
	}
	if err := checkTransition(models.StatusActive, models.StatusPending); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := checkTransition(models.StatusExpired, models.StatusActive); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
