package values

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated phone number value object
type PhoneNumber struct {
	number string // Stored in E.164 format (+1234567890)
}

var (
	// E.164 format regex: + followed by up to 15 digits
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// US phone number regex for parsing various formats
	usPhoneRegex = regexp.MustCompile(`^(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})$`)
)

// NewPhoneNumber creates a new PhoneNumber value object with validation
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if strings.TrimSpace(number) == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	cleaned := cleanPhoneNumber(number)

	if e164Regex.MatchString(cleaned) {
		return PhoneNumber{number: cleaned}, nil
	}

	if normalized, ok := parseUSPhoneNumber(strings.TrimSpace(number)); ok {
		return PhoneNumber{number: normalized}, nil
	}

	return PhoneNumber{}, PhoneValidationError{Number: number, Reason: "not an E.164 or US number"}
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for constants/tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	phone, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return phone
}

// NormalizePhone returns the E.164 form of raw when it parses, otherwise the
// raw input stripped to digits and '+'. Registry writes and lookups both go
// through here so stored and queried numbers compare equal.
func NormalizePhone(raw string) string {
	if phone, err := NewPhoneNumber(raw); err == nil {
		return phone.String()
	}
	return cleanPhoneNumber(raw)
}

// String returns the phone number in E.164 format
func (p PhoneNumber) String() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// MarshalJSON implements JSON marshaling
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var number string
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	phone, err := NewPhoneNumber(number)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

func cleanPhoneNumber(number string) string {
	var b strings.Builder
	for _, char := range number {
		if char >= '0' && char <= '9' || char == '+' {
			b.WriteRune(char)
		}
	}
	return b.String()
}

func parseUSPhoneNumber(number string) (string, bool) {
	matches := usPhoneRegex.FindStringSubmatch(number)
	if len(matches) != 4 {
		return "", false
	}

	// Format as E.164 (+1AAANNNNNNN)
	return "+1" + matches[1] + matches[2] + matches[3], true
}

// PhoneValidationError represents validation errors for phone numbers
type PhoneValidationError struct {
	Number string
	Reason string
}

func (e PhoneValidationError) Error() string {
	return fmt.Sprintf("invalid phone number '%s': %s", e.Number, e.Reason)
}
