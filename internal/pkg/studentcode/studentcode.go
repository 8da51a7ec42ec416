// Package studentcode derives the checksummed student code from a DNI.
//
// A code is the prefix "20", the 8 DNI digits and one check character
// (a modulo-11 weighted checksum, 'X' standing for 10).
package studentcode

import (
	"context"
	"fmt"

	"github.com/ieppc/matricula/internal/pkg/apperrors"
)

const (
	// Prefix starts every student code.
	Prefix = "20"
	// Length is the total length of a student code.
	Length = 11
	// NationalIDLength is the length of a DNI.
	NationalIDLength = 8
)

var weights = [10]int{3, 2, 7, 6, 5, 4, 3, 2, 7, 6}

// ErrInvalidNationalID is returned by Generate for anything but 8 ASCII digits.
var ErrInvalidNationalID = fmt.Errorf("%w: national ID must be exactly 8 digits", apperrors.ErrValidationFailed)

// ExistsFunc reports whether a student code is already stored.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generate builds the student code for nationalID.
func Generate(nationalID string) (string, error) {
	if !IsNationalID(nationalID) {
		return "", ErrInvalidNationalID
	}
	base := Prefix + nationalID
	return base + string(checkChar(base)), nil
}

// Validate reports whether code is well formed and its check character is correct.
func Validate(code string) bool {
	if len(code) != Length || code[:len(Prefix)] != Prefix {
		return false
	}
	base := code[:Length-1]
	if !allDigits(base) {
		return false
	}
	return code[Length-1] == checkChar(base)
}

// ExtractNationalID returns the DNI embedded in a valid code.
func ExtractNationalID(code string) (string, bool) {
	if !Validate(code) {
		return "", false
	}
	return code[len(Prefix) : len(Prefix)+NationalIDLength], true
}

// GenerateUnique generates the code and fails with ErrDuplicateNationalID when it
// is already stored. The derivation is deterministic, so a stored code means the
// same DNI was registered before.
func GenerateUnique(ctx context.Context, nationalID string, exists ExistsFunc) (string, error) {
	code, err := Generate(nationalID)
	if err != nil {
		return "", err
	}
	taken, err := exists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("error checking student code: %w", err)
	}
	if taken {
		return "", apperrors.ErrDuplicateNationalID
	}
	return code, nil
}

// IsNationalID reports whether s is exactly 8 ASCII digits.
func IsNationalID(s string) bool {
	return len(s) == NationalIDLength && allDigits(s)
}

// checkChar expects a 10-digit base.
func checkChar(base string) byte {
	sum := 0
	for i := 0; i < len(weights); i++ {
		sum += int(base[i]-'0') * weights[i]
	}
	switch check := 11 - sum%11; check {
	case 10:
		return 'X'
	case 11:
		return '0'
	default:
		return byte('0' + check)
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
