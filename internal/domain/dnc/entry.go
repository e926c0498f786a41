package dnc

import (
	"strings"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/google/uuid"
)

// RegistryEntry is a restricted contact on the Do-Not-Contact registry.
// CustomerID, CaseID and ClientID are reporting references into the wider
// platform; the registry does not own those records.
type RegistryEntry struct {
	ID         uuid.UUID `json:"id"`
	CustomerID *int64    `json:"customer_id,omitempty"`
	CaseID     *int64    `json:"case_id,omitempty"`
	ClientID   *int64    `json:"client_id,omitempty"`

	DisplayName  string `json:"customer_name"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`

	Scope  Scope  `json:"dnc_type"`
	Source Source `json:"source"`
	Status Status `json:"status"`

	EffectiveAt time.Time  `json:"effective_date"`
	ExpiresAt   *time.Time `json:"expiry_date,omitempty"`

	OverrideEligible bool      `json:"allow_override_requests"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
}

// EntryParams carries the caller-supplied fields of a new entry.
type EntryParams struct {
	CustomerID       *int64
	CaseID           *int64
	ClientID         *int64
	DisplayName      string
	PhoneNumber      string
	EmailAddress     string
	Scope            Scope
	Source           Source
	Status           Status
	EffectiveAt      *time.Time
	ExpiresAt        *time.Time
	OverrideEligible bool
	Reason           string
}

// NewRegistryEntry validates params and returns an entry with a fresh ID.
// Phone and email are stored normalized so lookups compare equal.
func NewRegistryEntry(p EntryParams, now time.Time) (*RegistryEntry, error) {
	phone := strings.TrimSpace(p.PhoneNumber)
	email := strings.TrimSpace(p.EmailAddress)
	if phone == "" && email == "" {
		return nil, errors.NewValidationError("MISSING_CONTACT", "a phone number or email address is required").
			WithDetails(map[string]interface{}{"field": "phone_number"})
	}
	if p.Scope == "" {
		p.Scope = ScopePhoneOnly
	}
	if p.Source == "" {
		p.Source = SourceManualEntry
	}
	if p.Status == "" {
		p.Status = StatusActive
	}

	effective := now.UTC()
	if p.EffectiveAt != nil {
		effective = p.EffectiveAt.UTC()
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(effective) {
		return nil, errors.NewValidationError("INVALID_EXPIRATION", "expiry date must be after the effective date").
			WithDetails(map[string]interface{}{"field": "expiry_date"})
	}

	entry := &RegistryEntry{
		ID:               uuid.New(),
		CustomerID:       p.CustomerID,
		CaseID:           p.CaseID,
		ClientID:         p.ClientID,
		DisplayName:      strings.TrimSpace(p.DisplayName),
		Scope:            p.Scope,
		Source:           p.Source,
		Status:           p.Status,
		EffectiveAt:      effective,
		OverrideEligible: p.OverrideEligible,
		Reason:           p.Reason,
		CreatedAt:        now.UTC(),
	}
	if phone != "" {
		entry.PhoneNumber = values.NormalizePhone(phone)
	}
	if email != "" {
		addr, err := values.NewEmail(email)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_EMAIL", "email address is not valid").
				WithDetails(map[string]interface{}{"field": "email_address"}).WithCause(err)
		}
		entry.EmailAddress = addr.String()
	}
	if p.ExpiresAt != nil {
		exp := p.ExpiresAt.UTC()
		entry.ExpiresAt = &exp
	}
	return entry, nil
}

// BlocksAt reports whether the entry restricts contact at now: it must be
// Active, already effective, and not yet expired.
func (e *RegistryEntry) BlocksAt(now time.Time) bool {
	if e.Status != StatusActive {
		return false
	}
	if now.Before(e.EffectiveAt) {
		return false
	}
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// IsExpiredAt reports whether an expiry is set and has passed.
func (e *RegistryEntry) IsExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Deactivate lifts the restriction going forward.
func (e *RegistryEntry) Deactivate() {
	e.Status = StatusInactive
}

// Matches reports whether the entry carries the identifier's phone or email.
func (e *RegistryEntry) Matches(id values.ContactIdentifier) bool {
	if id.Phone != "" && e.PhoneNumber == id.Phone {
		return true
	}
	return id.Email != "" && e.EmailAddress == id.Email
}
