package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/csvimport"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/ieppc/matricula/internal/pkg/metrics"
	"github.com/ieppc/matricula/internal/pkg/studentcode"
	"github.com/ieppc/matricula/internal/queue"
	"github.com/rs/zerolog"
)

// ImportResult summarises a committed batch
type ImportResult struct {
	BatchID       uuid.UUID
	RowsProcessed int
	Created       int
	Skipped       int
}

// BulkImportService creates many pre-registrations from an uploaded roster
type BulkImportService interface {
	Import(ctx context.Context, rows []csvimport.Row, adminID int64) (*ImportResult, error)
}

// BulkImportDeps are the collaborators of the bulk import service
type BulkImportDeps struct {
	Store   StudentAccountStore
	Clock   helpers.Clock
	Events  queue.Publisher
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	StubTTL time.Duration
	MaxRows int
}

// bulkImportServiceImpl implements BulkImportService
type bulkImportServiceImpl struct {
	store   StudentAccountStore
	clock   helpers.Clock
	events  queue.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	stubTTL time.Duration
	maxRows int
}

// NewBulkImportService creates a new BulkImportService
func NewBulkImportService(deps BulkImportDeps) BulkImportService {
	if deps.Clock == nil {
		deps.Clock = helpers.SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = queue.NoopPublisher{}
	}
	if deps.StubTTL <= 0 {
		deps.StubTTL = helpers.Days(30)
	}
	return &bulkImportServiceImpl{
		store:   deps.Store,
		clock:   deps.Clock,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		stubTTL: deps.StubTTL,
		maxRows: deps.MaxRows,
	}
}

// Import validates every row before writing anything. Any problem rejects the
// whole batch with an *apperrors.ImportError listing all of them.
func (s *bulkImportServiceImpl) Import(ctx context.Context, rows []csvimport.Row, adminID int64) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, apperrors.NewValidationError("El archivo no contiene alumnos")
	}
	if s.maxRows > 0 && len(rows) > s.maxRows {
		return nil, apperrors.NewValidationError(fmt.Sprintf("El archivo supera el máximo de %d filas", s.maxRows))
	}
	rows = trimRows(rows)

	var problems []apperrors.RowError
	for _, row := range rows {
		problems = append(problems, checkStubFields(row.Line, row.GivenName, row.FamilyName, row.NationalID)...)
	}
	if len(problems) > 0 {
		s.metrics.ImportRows(metrics.ImportRejected, len(rows))
		return nil, &apperrors.ImportError{
			Err:     apperrors.ErrValidationFailed,
			Message: "El archivo contiene filas inválidas",
			Rows:    problems,
		}
	}

	if err := s.checkBatchDuplicates(rows); err != nil {
		s.metrics.ImportRows(metrics.ImportRejected, len(rows))
		return nil, err
	}
	if err := s.checkStoredDuplicates(ctx, rows); err != nil {
		s.metrics.ImportRows(metrics.ImportRejected, len(rows))
		return nil, err
	}

	now := s.clock.Now()
	accounts := make([]*models.StudentAccount, 0, len(rows))
	for _, row := range rows {
		code, err := studentcode.Generate(row.NationalID)
		if err != nil {
			return nil, err
		}
		admin := adminID
		accounts = append(accounts, &models.StudentAccount{
			NationalID:            row.NationalID,
			GivenName:             row.GivenName,
			FamilyName:            row.FamilyName,
			StudentCode:           code,
			RegistrationStatus:    models.StatusPending,
			PreRegisteredAt:       now,
			RegistrationExpiresAt: now.Add(s.stubTTL),
			CreatedByAdminID:      &admin,
		})
	}

	created, err := s.store.BulkInsert(ctx, accounts)
	if err != nil {
		return nil, fmt.Errorf("error inserting batch: %w", err)
	}

	result := &ImportResult{
		BatchID:       uuid.New(),
		RowsProcessed: len(rows),
		Created:       created,
		Skipped:       len(rows) - created,
	}
	s.metrics.ImportRows(metrics.ImportCreated, result.Created)
	s.metrics.ImportRows(metrics.ImportSkipped, result.Skipped)

	if result.Skipped > 0 {
		s.logger.Warn().Int("skipped", result.Skipped).Str("batchId", result.BatchID.String()).
			Msg("Bulk insert skipped rows that passed validation")
	}
	s.logger.Info().
		Str("batchId", result.BatchID.String()).
		Int("rows", result.RowsProcessed).
		Int("created", result.Created).
		Int64("adminId", adminID).
		Msg("Bulk import committed")

	event := queue.NewEvent(queue.EventBulkImported, now)
	event.ActorID = &adminID
	event.Data = map[string]interface{}{
		"batchId": result.BatchID.String(),
		"rows":    result.RowsProcessed,
		"created": result.Created,
		"skipped": result.Skipped,
	}
	publishEvent(ctx, s.events, s.logger, event)

	return result, nil
}

// checkBatchDuplicates rejects a DNI or full name appearing on more than one row
// trimRows copies rows with surrounding whitespace removed from every field
func trimRows(rows []csvimport.Row) []csvimport.Row {
	out := make([]csvimport.Row, len(rows))
	for i, row := range rows {
		out[i] = csvimport.Row{
			Line:       row.Line,
			GivenName:  strings.TrimSpace(row.GivenName),
			FamilyName: strings.TrimSpace(row.FamilyName),
			NationalID: strings.TrimSpace(row.NationalID),
		}
	}
	return out
}

func (s *bulkImportServiceImpl) checkBatchDuplicates(rows []csvimport.Row) error {
	firstByID := make(map[string]int, len(rows))
	firstByName := make(map[models.FullName]int, len(rows))
	var problems []apperrors.RowError
	var dupIDs, dupNames []string
	seenID := map[string]bool{}
	seenName := map[models.FullName]bool{}

	for _, row := range rows {
		if first, ok := firstByID[row.NationalID]; ok {
			problems = append(problems, apperrors.RowError{
				Line:    row.Line,
				Field:   "nationalId",
				Message: fmt.Sprintf("el DNI %s ya aparece en la línea %d", row.NationalID, first),
			})
			if !seenID[row.NationalID] {
				seenID[row.NationalID] = true
				dupIDs = append(dupIDs, row.NationalID)
			}
		} else {
			firstByID[row.NationalID] = row.Line
		}

		name := models.FullName{GivenName: row.GivenName, FamilyName: row.FamilyName}
		if first, ok := firstByName[name]; ok {
			problems = append(problems, apperrors.RowError{
				Line:    row.Line,
				Field:   "fullName",
				Message: fmt.Sprintf("%s ya aparece en la línea %d", name, first),
			})
			if !seenName[name] {
				seenName[name] = true
				dupNames = append(dupNames, name.String())
			}
		} else {
			firstByName[name] = row.Line
		}
	}

	if len(problems) == 0 {
		return nil
	}
	kind := apperrors.ErrDuplicateNationalID
	if len(dupIDs) == 0 {
		kind = apperrors.ErrDuplicateFullName
	}
	return &apperrors.ImportError{
		Err:        kind,
		Message:    "El archivo repite alumnos",
		Rows:       problems,
		Duplicated: append(dupIDs, dupNames...),
	}
}

// checkStoredDuplicates rejects rows whose DNI or live full name is already stored.
// It issues one query per kind regardless of batch size.
func (s *bulkImportServiceImpl) checkStoredDuplicates(ctx context.Context, rows []csvimport.Row) error {
	ids := make([]string, len(rows))
	names := make([]models.FullName, len(rows))
	for i, row := range rows {
		ids[i] = row.NationalID
		names[i] = models.FullName{GivenName: row.GivenName, FamilyName: row.FamilyName}
	}

	existingIDs, err := s.store.ExistingNationalIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("error checking national IDs: %w", err)
	}
	existingNames, err := s.store.ExistingFullNames(ctx, names, models.LiveStatuses)
	if err != nil {
		return fmt.Errorf("error checking full names: %w", err)
	}
	if len(existingIDs) == 0 && len(existingNames) == 0 {
		return nil
	}

	takenID := make(map[string]bool, len(existingIDs))
	for _, id := range existingIDs {
		takenID[id] = true
	}
	takenName := make(map[models.FullName]bool, len(existingNames))
	for _, n := range existingNames {
		takenName[n] = true
	}

	var problems []apperrors.RowError
	for i, row := range rows {
		if takenID[row.NationalID] {
			problems = append(problems, apperrors.RowError{Line: row.Line, Field: "nationalId",
				Message: fmt.Sprintf("el DNI %s ya está registrado", row.NationalID)})
		}
		if takenName[names[i]] {
			problems = append(problems, apperrors.RowError{Line: row.Line, Field: "fullName",
				Message: fmt.Sprintf("%s ya está registrado", names[i])})
		}
	}

	duplicated := append([]string(nil), existingIDs...)
	sort.Strings(duplicated)
	nameList := make([]string, 0, len(existingNames))
	for _, n := range existingNames {
		nameList = append(nameList, n.String())
	}
	sort.Strings(nameList)

	kind := apperrors.ErrDuplicateNationalID
	if len(existingIDs) == 0 {
		kind = apperrors.ErrDuplicateFullName
	}
	return &apperrors.ImportError{
		Err:        kind,
		Message:    "Algunos alumnos ya están registrados",
		Rows:       problems,
		Duplicated: append(duplicated, nameList...),
	}
}
