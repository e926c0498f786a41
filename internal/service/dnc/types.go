package dnc

import (
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/google/uuid"
)

// User identifies the operator behind a request.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// AuthorizedBy returns the name written to the override log: the username,
// else the email, else the id.
func (u *User) AuthorizedBy() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	}
	return u.ID
}

// CreateEntryRequest is an administrative registry insert.
type CreateEntryRequest struct {
	Name             string
	Phone            string
	Email            string
	Scope            dnc.Scope
	Source           dnc.Source
	Status           dnc.Status
	OverrideEligible bool
	Reason           string
	EffectiveAt      *time.Time
	ExpiresAt        *time.Time
	ClientID         *int64
	CaseID           *int64
}

// ImportRow is one row of a bulk import.
type ImportRow struct {
	Line   int
	Phone  string
	Email  string
	Scope  string
	Source string
	Reason string
}

// Row statuses reported by an import.
const (
	RowImported = "imported"
	RowSkipped  = "skipped"
	RowFailed   = "failed"
)

// RowResult is the outcome of one import row.
type RowResult struct {
	Line   int    `json:"line"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Rows     []RowResult `json:"rows"`
}

// CreateOverrideRequest is an operator-granted exception.
type CreateOverrideRequest struct {
	EntryID      uuid.UUID
	OverrideType dnc.OverrideType
	Reason       string
	EndDate      *time.Time
}

// EvaluateRequest asks whether a contact may proceed.
type EvaluateRequest struct {
	Identifier        values.ContactIdentifier
	User              *User
	OverrideRequested bool
	Source            string
	Reason            string
}

// Screening is the result of the checks that precede any override: the
// decision when contact is allowed outright, or the blocking entry.
type Screening struct {
	Decision dnc.Decision
	Entry    *dnc.RegistryEntry
	Policy   dnc.PolicyConfiguration
}

// Blocked reports whether the screening found a restriction in force.
func (s *Screening) Blocked() bool {
	return s != nil && s.Decision.Blocked
}
