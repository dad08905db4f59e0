/*
validate.go - Input validation rules

PURPOSE:
  Field-level validation for amounts, reasons, and account credentials.
  These rules guard the boundary; they carry no lifecycle semantics.

RULES:
  Amount:   strictly positive, at most 2 decimal digits, under 10^9
  Reason:   1-150 characters, letters/digits/spaces only
  Username: 6-16 characters of [a-zA-Z0-9._], no leading/trailing dot,
            no adjacent '.' or '_' pair
  Password: 8-20 characters with upper, lower, digit, and special
*/
package ledger

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reasonPattern   = regexp.MustCompile(`^[a-zA-Z0-9 ]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)

	maxAmount = decimal.New(1, 9) // 10^9, exclusive
)

// ValidateAmount checks a monetary amount: positive, bounded precision
// (2 decimal digits) and magnitude (9 integer digits).
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Rule: "must be positive"}
	}
	if !amount.Equal(amount.Truncate(2)) {
		return &ValidationError{Field: "amount", Rule: "at most 2 decimal digits"}
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return &ValidationError{Field: "amount", Rule: "at most 9 integer digits"}
	}
	return nil
}

// ValidateReason checks a transaction's free-text reason.
func ValidateReason(reason string) error {
	if len(reason) < 1 || len(reason) > 150 {
		return &ValidationError{Field: "reason", Rule: "must be 1-150 characters"}
	}
	if !reasonPattern.MatchString(reason) {
		return &ValidationError{Field: "reason", Rule: "letters, digits and spaces only"}
	}
	return nil
}

// ValidateUsername checks an account username.
func ValidateUsername(username string) error {
	if len(username) < 6 || len(username) > 16 {
		return &ValidationError{Field: "username", Rule: "must be 6-16 characters"}
	}
	if !usernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Rule: "letters, digits, dots and underscores only"}
	}
	if strings.HasPrefix(username, ".") || strings.HasSuffix(username, ".") {
		return &ValidationError{Field: "username", Rule: "cannot start or end with a dot"}
	}
	for i := 0; i+1 < len(username); i++ {
		if isSeparator(username[i]) && isSeparator(username[i+1]) {
			return &ValidationError{Field: "username", Rule: "no adjacent dots or underscores"}
		}
	}
	return nil
}

func isSeparator(c byte) bool {
	return c == '.' || c == '_'
}

// ValidateEmail checks an account email address.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Rule: "must not be empty"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Rule: "must be a valid address"}
	}
	return nil
}

// ValidatePassword checks the plaintext password policy. Hashing happens
// at the auth boundary, after this check.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 20 {
		return &ValidationError{Field: "password", Rule: "must be 8-20 characters"}
	}
	var upper, lower, digit, special bool
	for _, c := range password {
		switch {
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune("#?!@$%^&*+-", c):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return &ValidationError{Field: "password", Rule: "needs upper, lower, digit and special character"}
	}
	return nil
}
