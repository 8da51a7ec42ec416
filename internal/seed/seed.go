package seed

import (
	"context"
	"errors"

	"github.com/ieppc/matricula/internal/app/services"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/rs/zerolog"
)

// StubCreator is the part of the registration service the seeder needs
type StubCreator interface {
	CreateStub(ctx context.Context, in services.CreateStubInput) error
}

// demoStudents are pre-registered in development so the public flow can be tried
var demoStudents = []services.CreateStubInput{
	{GivenName: "Ana Lucía", FamilyName: "Quispe Huamán", NationalID: "70000001"},
	{GivenName: "Luis Alberto", FamilyName: "Chang Ramos", NationalID: "70000002"},
	{GivenName: "María Fernanda", FamilyName: "Wong Torres", NationalID: "70000003"},
}

// stubCreator adapts RegistrationService to StubCreator
type stubCreator struct {
	svc services.RegistrationService
}

func (s stubCreator) CreateStub(ctx context.Context, in services.CreateStubInput) error {
	_, err := s.svc.CreateStub(ctx, in)
	return err
}

// FromService wraps a RegistrationService for CreateDemoStudents
func FromService(svc services.RegistrationService) StubCreator {
	return stubCreator{svc: svc}
}

// CreateDemoStudents pre-registers the demo students that do not exist yet.
// Students already present are skipped; other failures are collected.
func CreateDemoStudents(ctx context.Context, creator StubCreator, lgr zerolog.Logger) error {
	lgr.Info().Msg("Checking/Creating demo pre-registrations...")
	var finalErr error

	for _, in := range demoStudents {
		err := creator.CreateStub(ctx, in)
		switch {
		case err == nil:
			lgr.Info().Str("nationalId", in.NationalID).Msg("Demo student pre-registered")
		case errors.Is(err, apperrors.ErrDuplicateNationalID), errors.Is(err, apperrors.ErrDuplicateFullName):
			lgr.Debug().Str("nationalId", in.NationalID).Msg("Demo student already exists")
		default:
			lgr.Error().Err(err).Str("nationalId", in.NationalID).Msg("Error creating demo student")
			finalErr = errors.Join(finalErr, err)
		}
	}

	return finalErr
}
