package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/db"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/dberrors"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint and unique index names from migrations/001_student_accounts.sql
const (
	ConstraintStudentCode      = "student_accounts_student_code_key"
	ConstraintNationalIDActive = "student_accounts_national_id_active_key"
	ConstraintFullNameActive   = "student_accounts_full_name_active_key"
	ConstraintEmail            = "student_accounts_email_key"
)

// bulkInsertChunk keeps each INSERT well under PostgreSQL's parameter limit
const bulkInsertChunk = 500

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var studentAccountColumns = []string{
	"id", "national_id", "given_name", "family_name", "student_code", "registration_status",
	"pre_registered_at", "registration_expires_at", "activated_at",
	"email", "password_hash", "birth_date", "sex", "nationality", "address", "phone",
	"guardian_name", "guardian_phone", "verification_code", "verification_code_expires_at",
	"created_by_admin_id", "last_login_at", "created_at", "updated_at",
}

// StudentAccountRepository handles database operations for student accounts
type StudentAccountRepository struct {
	db *pgxpool.Pool
}

// NewStudentAccountRepository creates a new StudentAccountRepository
func NewStudentAccountRepository(db *pgxpool.Pool) *StudentAccountRepository {
	return &StudentAccountRepository{db: db}
}

func scanStudentAccount(row pgx.Row) (*models.StudentAccount, error) {
	var a models.StudentAccount
	err := row.Scan(
		&a.ID,
		&a.NationalID,
		&a.GivenName,
		&a.FamilyName,
		&a.StudentCode,
		&a.RegistrationStatus,
		&a.PreRegisteredAt,
		&a.RegistrationExpiresAt,
		&a.ActivatedAt,
		&a.Email,
		&a.PasswordHash,
		&a.BirthDate,
		&a.Sex,
		&a.Nationality,
		&a.Address,
		&a.Phone,
		&a.GuardianName,
		&a.GuardianPhone,
		&a.VerificationCode,
		&a.VerificationCodeExpiresAt,
		&a.CreatedByAdminID,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// mapWriteError translates unique violations into the matching duplicate error
func mapWriteError(err error) error {
	switch dberrors.ViolatedUniqueConstraint(err) {
	case "":
		return err
	case ConstraintNationalIDActive, ConstraintStudentCode:
		return fmt.Errorf("%w: %v", apperrors.ErrDuplicateNationalID, err)
	case ConstraintFullNameActive:
		return fmt.Errorf("%w: %v", apperrors.ErrDuplicateFullName, err)
	case ConstraintEmail:
		return fmt.Errorf("%w: %v", apperrors.ErrDuplicateEmail, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	}
}

func statusStrings(statuses []models.RegistrationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new account and fills in its ID and timestamps
func (r *StudentAccountRepository) Create(ctx context.Context, a *models.StudentAccount) error {
	query := psql.Insert("student_accounts").
		Columns("national_id", "given_name", "family_name", "student_code", "registration_status",
			"pre_registered_at", "registration_expires_at", "created_by_admin_id").
		Values(a.NationalID, a.GivenName, a.FamilyName, a.StudentCode, string(a.RegistrationStatus),
			a.PreRegisteredAt, a.RegistrationExpiresAt, a.CreatedByAdminID).
		Suffix("RETURNING id, created_at, updated_at")

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}

	if err := r.db.QueryRow(ctx, sql, args...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return mapWriteError(fmt.Errorf("error inserting student account: %w", err))
	}
	return nil
}

func (r *StudentAccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*models.StudentAccount, error) {
	sql, args, err := psql.Select(studentAccountColumns...).From("student_accounts").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	a, err := scanStudentAccount(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrResourceNotFound
		}
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by ID
func (r *StudentAccountRepository) GetByID(ctx context.Context, id int64) (*models.StudentAccount, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// FindByCodeAndNationalID retrieves the account holding both identifiers in the given status
func (r *StudentAccountRepository) FindByCodeAndNationalID(ctx context.Context, studentCode, nationalID string, status models.RegistrationStatus) (*models.StudentAccount, error) {
	return r.getOne(ctx, squirrel.Eq{
		"student_code":        studentCode,
		"national_id":         nationalID,
		"registration_status": string(status),
	})
}

func (r *StudentAccountRepository) exists(ctx context.Context, where squirrel.Sqlizer) (bool, error) {
	inner, args, err := psql.Select("1").From("student_accounts").Where(where).ToSql()
	if err != nil {
		return false, fmt.Errorf("error building SQL: %w", err)
	}

	var found bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS("+inner+")", args...).Scan(&found); err != nil {
		return false, fmt.Errorf("error executing query: %w", err)
	}
	return found, nil
}

// scoped restricts cond to statuses (all when empty) and leaves out excludeID (none when 0)
func scoped(cond squirrel.And, statuses []models.RegistrationStatus, excludeID int64) squirrel.And {
	if len(statuses) > 0 {
		cond = append(cond, squirrel.Eq{"registration_status": statusStrings(statuses)})
	}
	if excludeID > 0 {
		cond = append(cond, squirrel.NotEq{"id": excludeID})
	}
	return cond
}

// NationalIDExists reports whether an account holds nationalID in one of statuses
func (r *StudentAccountRepository) NationalIDExists(ctx context.Context, nationalID string, statuses []models.RegistrationStatus, excludeID int64) (bool, error) {
	return r.exists(ctx, scoped(squirrel.And{squirrel.Eq{"national_id": nationalID}}, statuses, excludeID))
}

// FullNameExists reports whether an account holds the exact name pair in one of statuses
func (r *StudentAccountRepository) FullNameExists(ctx context.Context, name models.FullName, statuses []models.RegistrationStatus, excludeID int64) (bool, error) {
	cond := squirrel.And{squirrel.Eq{"given_name": name.GivenName, "family_name": name.FamilyName}}
	return r.exists(ctx, scoped(cond, statuses, excludeID))
}

// EmailInUse reports whether another account already uses email
func (r *StudentAccountRepository) EmailInUse(ctx context.Context, email string, excludeID int64) (bool, error) {
	return r.exists(ctx, scoped(squirrel.And{squirrel.Eq{"email": email}}, nil, excludeID))
}

// StudentCodeExists reports whether code was ever issued
func (r *StudentAccountRepository) StudentCodeExists(ctx context.Context, code string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"student_code": code})
}

// Update writes the mutable columns of a, provided the stored status is still expected
func (r *StudentAccountRepository) Update(ctx context.Context, a *models.StudentAccount, expected models.RegistrationStatus) error {
	query := psql.Update("student_accounts").
		Set("given_name", a.GivenName).
		Set("family_name", a.FamilyName).
		Set("registration_status", string(a.RegistrationStatus)).
		Set("pre_registered_at", a.PreRegisteredAt).
		Set("registration_expires_at", a.RegistrationExpiresAt).
		Set("activated_at", a.ActivatedAt).
		Set("email", a.Email).
		Set("password_hash", a.PasswordHash).
		Set("birth_date", a.BirthDate).
		Set("sex", a.Sex).
		Set("nationality", a.Nationality).
		Set("address", a.Address).
		Set("phone", a.Phone).
		Set("guardian_name", a.GuardianName).
		Set("guardian_phone", a.GuardianPhone).
		Set("verification_code", a.VerificationCode).
		Set("verification_code_expires_at", a.VerificationCodeExpiresAt).
		Set("created_by_admin_id", a.CreatedByAdminID).
		Set("updated_at", squirrel.Expr("CURRENT_TIMESTAMP")).
		Where(squirrel.Eq{"id": a.ID, "registration_status": string(expected)}).
		Suffix("RETURNING updated_at")

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}

	if err := r.db.QueryRow(ctx, sql, args...).Scan(&a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: account %d is no longer %s", apperrors.ErrResourceNotFound, a.ID, expected)
		}
		return mapWriteError(fmt.Errorf("error updating student account: %w", err))
	}
	return nil
}

// ExpireOverdue flips every pending account whose window closed before now
// and returns the affected student codes.
func (r *StudentAccountRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	sql, args, err := psql.Update("student_accounts").
		Set("registration_status", string(models.StatusExpired)).
		Set("updated_at", squirrel.Expr("CURRENT_TIMESTAMP")).
		Where(squirrel.Eq{"registration_status": string(models.StatusPending)}).
		Where(squirrel.Lt{"registration_expires_at": now}).
		Suffix("RETURNING student_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error scanning row: %w", err)
	}
	return codes, nil
}

// escapeLike neutralises LIKE wildcards in user input
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// listConditions builds the WHERE clause shared by the page and count queries
func listConditions(filter models.StudentAccountFilter) squirrel.And {
	cond := squirrel.And{}
	if filter.Status != nil {
		cond = append(cond, squirrel.Eq{"registration_status": string(*filter.Status)})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		cond = append(cond, squirrel.Or{
			squirrel.ILike{"given_name": pattern},
			squirrel.ILike{"family_name": pattern},
			squirrel.Like{"student_code": pattern},
			squirrel.Like{"national_id": pattern},
			squirrel.ILike{"email": pattern},
		})
	}
	return cond
}

func buildListQuery(filter models.StudentAccountFilter) squirrel.SelectBuilder {
	offset, limit := helpers.CalculateOffsetLimit(filter.Page, filter.Size)
	return psql.Select(studentAccountColumns...).
		From("student_accounts").
		Where(listConditions(filter)).
		OrderBy("pre_registered_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)
}

// List retrieves one page of accounts and the total matching the filter
func (r *StudentAccountRepository) List(ctx context.Context, filter models.StudentAccountFilter) ([]*models.StudentAccount, int64, error) {
	countSQL, countArgs, err := psql.Select("COUNT(*)").From("student_accounts").Where(listConditions(filter)).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error building SQL: %w", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error executing query: %w", err)
	}
	if total == 0 {
		return []*models.StudentAccount{}, 0, nil
	}

	sql, args, err := buildListQuery(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	accounts := make([]*models.StudentAccount, 0)
	for rows.Next() {
		a, err := scanStudentAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, total, nil
}

// CountByStatus counts accounts per status; statuses without rows are absent
func (r *StudentAccountRepository) CountByStatus(ctx context.Context) (map[models.RegistrationStatus]int64, error) {
	sql, args, err := psql.Select("registration_status", "COUNT(*)").
		From("student_accounts").
		GroupBy("registration_status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RegistrationStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		counts[models.RegistrationStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *StudentAccountRepository) count(ctx context.Context, where squirrel.Sqlizer) (int64, error) {
	sql, args, err := psql.Select("COUNT(*)").From("student_accounts").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error building SQL: %w", err)
	}
	var n int64
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("error executing query: %w", err)
	}
	return n, nil
}

// CountExpiringBetween counts pending accounts whose window closes in [from, to]
func (r *StudentAccountRepository) CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return r.count(ctx, squirrel.And{
		squirrel.Eq{"registration_status": string(models.StatusPending)},
		squirrel.GtOrEq{"registration_expires_at": from},
		squirrel.LtOrEq{"registration_expires_at": to},
	})
}

// CountPreRegisteredSince counts accounts pre-registered at or after since
func (r *StudentAccountRepository) CountPreRegisteredSince(ctx context.Context, since time.Time) (int64, error) {
	return r.count(ctx, squirrel.GtOrEq{"pre_registered_at": since})
}

// ExistingNationalIDs returns which of ids are already held by any account
func (r *StudentAccountRepository) ExistingNationalIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql, args, err := psql.Select("DISTINCT national_id").
		From("student_accounts").
		Where(squirrel.Expr("national_id = ANY(?::text[])", ids)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error scanning row: %w", err)
	}
	return found, nil
}

// ExistingFullNames returns which of names are held by an account in statuses
func (r *StudentAccountRepository) ExistingFullNames(ctx context.Context, names []models.FullName, statuses []models.RegistrationStatus) ([]models.FullName, error) {
	if len(names) == 0 {
		return nil, nil
	}
	givens := make([]string, len(names))
	families := make([]string, len(names))
	for i, n := range names {
		givens[i], families[i] = n.GivenName, n.FamilyName
	}

	cond := scoped(squirrel.And{
		squirrel.Expr("(given_name, family_name) IN (SELECT * FROM unnest(?::text[], ?::text[]))", givens, families),
	}, statuses, 0)
	sql, args, err := psql.Select("DISTINCT given_name", "family_name").
		From("student_accounts").
		Where(cond).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var found []models.FullName
	for rows.Next() {
		var n models.FullName
		if err := rows.Scan(&n.GivenName, &n.FamilyName); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		found = append(found, n)
	}
	return found, rows.Err()
}

func buildBulkInsert(accounts []*models.StudentAccount) squirrel.InsertBuilder {
	query := psql.Insert("student_accounts").
		Columns("national_id", "given_name", "family_name", "student_code", "registration_status",
			"pre_registered_at", "registration_expires_at", "created_by_admin_id")
	for _, a := range accounts {
		query = query.Values(a.NationalID, a.GivenName, a.FamilyName, a.StudentCode, string(a.RegistrationStatus),
			a.PreRegisteredAt, a.RegistrationExpiresAt, a.CreatedByAdminID)
	}
	return query.Suffix("ON CONFLICT DO NOTHING RETURNING id, student_code")
}

// BulkInsert stores all accounts in one transaction, silently skipping rows that
// hit a unique constraint, and returns how many were inserted. IDs are filled in
// on the inserted accounts.
func (r *StudentAccountRepository) BulkInsert(ctx context.Context, accounts []*models.StudentAccount) (int, error) {
	if len(accounts) == 0 {
		return 0, nil
	}

	byCode := make(map[string]*models.StudentAccount, len(accounts))
	for _, a := range accounts {
		byCode[a.StudentCode] = a
	}

	inserted := 0
	err := db.RunInTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		for start := 0; start < len(accounts); start += bulkInsertChunk {
			end := start + bulkInsertChunk
			if end > len(accounts) {
				end = len(accounts)
			}

			sql, args, err := buildBulkInsert(accounts[start:end]).ToSql()
			if err != nil {
				return fmt.Errorf("error building SQL: %w", err)
			}

			rows, err := tx.Query(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("error executing bulk insert: %w", err)
			}
			for rows.Next() {
				var id int64
				var code string
				if err := rows.Scan(&id, &code); err != nil {
					rows.Close()
					return fmt.Errorf("error scanning row: %w", err)
				}
				if a, ok := byCode[code]; ok {
					a.ID = id
				}
				inserted++
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("error executing bulk insert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
