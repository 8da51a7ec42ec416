package validation

import (
	"regexp"
	"time"
	"unicode"
)

// Validation rule patterns
var (
	// Basic local@domain.tld shape
	EmailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`

	// National ID (DNI) pattern - 8 digits
	NationalIDPattern = `^\d{8}$`

	// Phone numbers: digits, optional leading +, spaces or dashes
	PhonePattern = `^\+?[0-9][0-9 \-]{5,19}$`

	// Password min length
	PasswordMinLength = 8

	// Name validation min/max length
	NameMinLength = 1
	NameMaxLength = 100

	// Free-text personal fields
	TextMaxLength = 200

	// BirthDateLayout is the accepted birth date format
	BirthDateLayout = "2006-01-02"
)

// CompiledPatterns caches compiled regex patterns for better performance
var CompiledPatterns = struct {
	Email      *regexp.Regexp
	NationalID *regexp.Regexp
	Phone      *regexp.Regexp
}{
	Email:      regexp.MustCompile(EmailPattern),
	NationalID: regexp.MustCompile(NationalIDPattern),
	Phone:      regexp.MustCompile(PhonePattern),
}

// String validation
type StringValidation struct {
	Value    string
	MinLen   int
	MaxLen   int
	Required bool
	Pattern  *regexp.Regexp
}

// NewStringValidation creates a new string validation
func NewStringValidation(value string) *StringValidation {
	return &StringValidation{
		Value:    value,
		Required: true,
	}
}

// WithMinLength sets minimum length
func (v *StringValidation) WithMinLength(min int) *StringValidation {
	v.MinLen = min
	return v
}

// WithMaxLength sets maximum length
func (v *StringValidation) WithMaxLength(max int) *StringValidation {
	v.MaxLen = max
	return v
}

// WithPattern sets regex pattern
func (v *StringValidation) WithPattern(pattern *regexp.Regexp) *StringValidation {
	v.Pattern = pattern
	return v
}

// WithRequired sets if field is required
func (v *StringValidation) WithRequired(required bool) *StringValidation {
	v.Required = required
	return v
}

// Validate performs validation. Lengths count runes, not bytes.
func (v *StringValidation) Validate() bool {
	if v.Required && v.Value == "" {
		return false
	}

	// Skip other validations for empty optional values
	if !v.Required && v.Value == "" {
		return true
	}

	length := len([]rune(v.Value))
	if v.MinLen > 0 && length < v.MinLen {
		return false
	}
	if v.MaxLen > 0 && length > v.MaxLen {
		return false
	}

	if v.Pattern != nil && !v.Pattern.MatchString(v.Value) {
		return false
	}

	return true
}

// Numeric validation
type NumericValidation struct {
	Value int
	Min   int
	Max   int
}

// NewNumericValidation creates a new numeric validation
func NewNumericValidation(value int) *NumericValidation {
	return &NumericValidation{Value: value}
}

// WithRange sets the inclusive bounds
func (v *NumericValidation) WithRange(min, max int) *NumericValidation {
	v.Min = min
	v.Max = max
	return v
}

// Validate performs validation
func (v *NumericValidation) Validate() bool {
	return v.Value >= v.Min && v.Value <= v.Max
}

// IsName validates a given or family name.
func IsName(s string) bool {
	return NewStringValidation(s).WithMinLength(NameMinLength).WithMaxLength(NameMaxLength).Validate()
}

// IsNationalID validates an 8-digit DNI.
func IsNationalID(s string) bool {
	return NewStringValidation(s).WithPattern(CompiledPatterns.NationalID).Validate()
}

// IsEmail validates the basic local@domain.tld shape.
func IsEmail(s string) bool {
	return NewStringValidation(s).WithMaxLength(254).WithPattern(CompiledPatterns.Email).Validate()
}

// IsOptionalPhone accepts an empty value or a plausible phone number.
func IsOptionalPhone(s string) bool {
	return NewStringValidation(s).WithRequired(false).WithPattern(CompiledPatterns.Phone).Validate()
}

// IsOptionalText accepts an empty value or text up to TextMaxLength runes.
func IsOptionalText(s string) bool {
	return NewStringValidation(s).WithRequired(false).WithMaxLength(TextMaxLength).Validate()
}

// ParseBirthDate parses a YYYY-MM-DD date that is not in the future.
func ParseBirthDate(s string, now time.Time) (time.Time, bool) {
	t, err := time.Parse(BirthDateLayout, s)
	if err != nil || t.After(now) {
		return time.Time{}, false
	}
	return t, true
}

// PasswordProblem returns a user-facing reason the password is rejected, or "".
func PasswordProblem(password string) string {
	if len([]rune(password)) < PasswordMinLength {
		return "la contraseña debe tener al menos 8 caracteres"
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return "la contraseña debe contener al menos una letra"
	}
	if !hasDigit {
		return "la contraseña debe contener al menos un número"
	}
	return ""
}
