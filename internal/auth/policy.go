package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password and profile limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
	MinNameLength     = 2
	MaxNameLength     = 100
	MaxEmailLength    = 255
)

// ValidatePassword enforces the password policy: 8 to 72 bytes with at
// least one upper-case letter, one lower-case letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return ErrWeakPassword
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}

// normalizeProfile trims the name fields and checks their lengths.
func normalizeProfile(p Profile) (Profile, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.MiddleName = strings.TrimSpace(p.MiddleName)
	p.Avatar = strings.TrimSpace(p.Avatar)

	for _, f := range []struct {
		name, value string
		min         int
	}{
		{"firstName", p.FirstName, MinNameLength},
		{"lastName", p.LastName, MinNameLength},
		{"middleName", p.MiddleName, 0},
	} {
		n := utf8.RuneCountInString(f.value)
		if n < f.min || n > MaxNameLength {
			return p, fmt.Errorf("%w: %s must be %d to %d characters", ErrValidation, f.name, f.min, MaxNameLength)
		}
	}
	return p, nil
}

// validateEmail performs a shape check only; deliverability is proven by
// email verification, not here.
func validateEmail(email string) error {
	at := strings.LastIndexByte(email, '@')
	if email == "" || len(email) > MaxEmailLength || at < 1 || at == len(email)-1 ||
		strings.ContainsAny(email, " \t\r\n") {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}
