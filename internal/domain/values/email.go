package values

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Email represents a validated email address value object
type Email struct {
	address string
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NewEmail creates a new Email value object with validation
func NewEmail(address string) (Email, error) {
	if strings.TrimSpace(address) == "" {
		return Email{}, fmt.Errorf("email address cannot be empty")
	}

	normalized := NormalizeEmail(address)

	parsed, err := mail.ParseAddress(normalized)
	if err != nil {
		return Email{}, fmt.Errorf("invalid email format: %w", err)
	}

	if !emailRegex.MatchString(parsed.Address) {
		return Email{}, EmailValidationError{Address: address, Reason: "does not meet format requirements"}
	}

	if len(parsed.Address) > 254 {
		return Email{}, EmailValidationError{Address: address, Reason: "too long (max 254 characters)"}
	}

	return Email{address: parsed.Address}, nil
}

// MustNewEmail creates Email and panics on error (for constants/tests)
func MustNewEmail(address string) Email {
	email, err := NewEmail(address)
	if err != nil {
		panic(err)
	}
	return email
}

// NormalizeEmail trims and lowercases an address without validating it.
func NormalizeEmail(address string) string {
	return strings.TrimSpace(strings.ToLower(address))
}

// String returns the email address
func (e Email) String() string {
	return e.address
}

// Domain returns the domain part of the email (after @)
func (e Email) Domain() string {
	parts := strings.Split(e.address, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// IsEmpty checks if the email is empty
func (e Email) IsEmpty() bool {
	return e.address == ""
}

// MarshalJSON implements JSON marshaling
func (e Email) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.address)
}

// UnmarshalJSON implements JSON unmarshaling
func (e *Email) UnmarshalJSON(data []byte) error {
	var address string
	if err := json.Unmarshal(data, &address); err != nil {
		return err
	}

	email, err := NewEmail(address)
	if err != nil {
		return err
	}

	*e = email
	return nil
}

// EmailValidationError represents validation errors for email addresses
type EmailValidationError struct {
	Address string
	Reason  string
}

func (e EmailValidationError) Error() string {
	return fmt.Sprintf("invalid email '%s': %s", e.Address, e.Reason)
}
