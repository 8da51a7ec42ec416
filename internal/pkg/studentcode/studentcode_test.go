package studentcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ieppc/matricula/internal/pkg/apperrors"
)

func TestGenerateKnownCodes(t *testing.T) {
	cases := map[string]string{
		"12345678": "20123456787",
		"12345679": "20123456791",
		"00000000": "20000000005",
		"99999999": "20999999998",
		"10000009": "2010000009X",
		"10000016": "2010000016X",
		"10000007": "20100000070",
	}
	for nationalID, want := range cases {
		got, err := Generate(nationalID)
		if err != nil {
			t.Fatalf("generate %s: %v", nationalID, err)
		}
		if got != want {
			t.Fatalf("generate %s: expected %s, got %s", nationalID, want, got)
		}
	}
}

func TestGenerateRejectsMalformedNationalID(t *testing.T) {
	invalid := []string{"", "1234567", "123456789", "1234567a", " 2345678", "１２３４５６７８"}
	for _, nationalID := range invalid {
		if _, err := Generate(nationalID); !errors.Is(err, apperrors.ErrValidationFailed) {
			t.Fatalf("expected validation error for %q, got %v", nationalID, err)
		}
	}
}

func TestGenerateValidateExtractRoundTrip(t *testing.T) {
	for i := 0; i < 100000000; i += 999983 {
		nationalID := fmt.Sprintf("%08d", i)
		code, err := Generate(nationalID)
		if err != nil {
			t.Fatalf("generate %s: %v", nationalID, err)
		}
		if !Validate(code) {
			t.Fatalf("expected %s to validate", code)
		}
		again, _ := Generate(nationalID)
		if again != code {
			t.Fatalf("expected deterministic code for %s", nationalID)
		}
		extracted, ok := ExtractNationalID(code)
		if !ok || extracted != nationalID {
			t.Fatalf("expected to extract %s from %s, got %q", nationalID, code, extracted)
		}
	}
}

func TestCheckCharacterDetectsSingleDigitChange(t *testing.T) {
	a, _ := Generate("12345678")
	b, _ := Generate("12345679")
	if a[10] == b[10] {
		t.Fatalf("expected different check characters, got %c", a[10])
	}
	// Flip one base digit of a valid code while keeping its check character.
	tampered := a[:9] + "9" + a[10:]
	if Validate(tampered) {
		t.Fatalf("expected tampered code %s to fail validation", tampered)
	}
}

func TestValidateRejectsMalformedCodes(t *testing.T) {
	invalid := []string{
		"",
		"2012345678",   // too short
		"201234567870", // too long
		"21123456787",  // wrong prefix
		"2012345a787",  // non digit
		"20123456788",  // wrong check
		"2010000009x",  // lower-case check
	}
	for _, code := range invalid {
		if Validate(code) {
			t.Fatalf("expected %q to be invalid", code)
		}
		if _, ok := ExtractNationalID(code); ok {
			t.Fatalf("expected no national ID from %q", code)
		}
	}
}

func TestGenerateUnique(t *testing.T) {
	ctx := context.Background()
	seen := map[string]bool{"20123456787": true}
	exists := func(_ context.Context, code string) (bool, error) { return seen[code], nil }

	if _, err := GenerateUnique(ctx, "12345678", exists); !errors.Is(err, apperrors.ErrDuplicateNationalID) {
		t.Fatalf("expected duplicate national ID, got %v", err)
	}
	code, err := GenerateUnique(ctx, "12345679", exists)
	if err != nil || code != "20123456791" {
		t.Fatalf("expected fresh code, got %q (%v)", code, err)
	}

	boom := errors.New("store down")
	failing := func(context.Context, string) (bool, error) { return false, boom }
	if _, err := GenerateUnique(ctx, "12345679", failing); !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
	if _, err := GenerateUnique(ctx, "123", exists); !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
