package values

import "strings"

// ContactIdentifier names the channel endpoints a contact check is about.
// Either field may be empty, not both.
type ContactIdentifier struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ParseContact classifies a single raw identifier as an email address when
// it contains '@', and as a phone number otherwise.
func ParseContact(raw string) ContactIdentifier {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ContactIdentifier{}
	}
	if strings.Contains(raw, "@") {
		return ContactIdentifier{Email: NormalizeEmail(raw)}
	}
	return ContactIdentifier{Phone: NormalizePhone(raw)}
}

// NewContactIdentifier normalizes both parts.
func NewContactIdentifier(phone, email string) ContactIdentifier {
	id := ContactIdentifier{}
	if strings.TrimSpace(phone) != "" {
		id.Phone = NormalizePhone(phone)
	}
	if strings.TrimSpace(email) != "" {
		id.Email = NormalizeEmail(email)
	}
	return id
}

// IsEmpty reports whether neither a phone nor an email is present.
func (c ContactIdentifier) IsEmpty() bool {
	return c.Phone == "" && c.Email == ""
}

// String returns the phone when present, else the email.
func (c ContactIdentifier) String() string {
	if c.Phone != "" {
		return c.Phone
	}
	return c.Email
}
