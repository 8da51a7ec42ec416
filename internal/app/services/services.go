// Package services holds the pre-registration business logic.
//
// Services defined in this package:
//   - RegistrationService: the student account lifecycle, from the administrator's
//     pre-registration through email verification to activation, plus the
//     administrator operations on existing accounts
//   - BulkImportService: all-or-nothing pre-registration of a CSV batch
//
// Both depend on StudentAccountStore, implemented over PostgreSQL in the
// repositories package.
package services
