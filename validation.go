package credvault

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation limits for record fields. Credentials are forwarded to external
// providers verbatim, so the limits only guard against unbounded storage, not
// content.
const (
	MaxEmailLength        = 255
	MaxPasswordLength     = 1024
	MaxClientIDLength     = 255
	MaxRefreshTokenLength = 2048
)

// emailPattern accepts local@domain.tld with at least one dot in the domain.
// Deliberately loose: the provider is the real authority on address validity.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail checks shape and length of an email address.
// The address should be normalized (store.NormalizeEmail) before validation.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if len(email) > MaxEmailLength {
		return &ValidationError{Field: "email",
			Message: fmt.Sprintf("length %d exceeds max %d", len(email), MaxEmailLength)}
	}
	if !utf8.ValidString(email) {
		return &ValidationError{Field: "email", Message: "contains invalid UTF-8"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Message: "malformed address"}
	}
	return nil
}

// ValidatePassword checks a credential password.
func ValidatePassword(password string) error {
	if password == "" {
		return &ValidationError{Field: "password", Message: "is required"}
	}
	if len(password) > MaxPasswordLength {
		return &ValidationError{Field: "password",
			Message: fmt.Sprintf("length %d exceeds max %d", len(password), MaxPasswordLength)}
	}
	if strings.ContainsRune(password, '\x00') {
		return &ValidationError{Field: "password", Message: "contains null bytes"}
	}
	return nil
}

// ValidateClientID checks an OAuth client ID.
func ValidateClientID(clientID string) error {
	if clientID == "" {
		return &ValidationError{Field: "client_id", Message: "is required"}
	}
	if len(clientID) > MaxClientIDLength {
		return &ValidationError{Field: "client_id",
			Message: fmt.Sprintf("length %d exceeds max %d", len(clientID), MaxClientIDLength)}
	}
	return nil
}

// ValidateRefreshToken checks an OAuth refresh token.
func ValidateRefreshToken(token string) error {
	if token == "" {
		return &ValidationError{Field: "refresh_token", Message: "is required"}
	}
	if len(token) > MaxRefreshTokenLength {
		return &ValidationError{Field: "refresh_token",
			Message: fmt.Sprintf("length %d exceeds max %d", len(token), MaxRefreshTokenLength)}
	}
	return nil
}

// ValidateCredential performs full validation of the fields supplied when
// adding or updating a record. All four fields are mandatory. Email must
// already be normalized.
func ValidateCredential(email, password, clientID, refreshToken string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if err := ValidateClientID(clientID); err != nil {
		return err
	}
	return ValidateRefreshToken(refreshToken)
}
