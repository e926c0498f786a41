package dnc

import (
	"fmt"
	"strings"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/google/uuid"
)

// OverrideType classifies a granted exception.
type OverrideType string

const (
	OverrideTemporary OverrideType = "Temporary Override"
	OverridePermanent OverrideType = "Permanent Override"
	OverrideManual    OverrideType = "Manual Override"
)

// ParseOverrideType accepts the full names or Temporary/Permanent/Manual.
func ParseOverrideType(s string) (OverrideType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temporary", "temporary override":
		return OverrideTemporary, nil
	case "permanent", "permanent override":
		return OverridePermanent, nil
	case "manual", "manual override":
		return OverrideManual, nil
	}
	return "", errors.NewValidationError("INVALID_OVERRIDE_TYPE", fmt.Sprintf("unsupported override type %q", s)).
		WithDetails(map[string]interface{}{"field": "override_type"})
}

// OverrideLogEntry is one immutable row of the override audit log.
type OverrideLogEntry struct {
	ID           uuid.UUID    `json:"id"`
	EntryID      uuid.UUID    `json:"dnc_entry"`
	OverrideType OverrideType `json:"override_type"`
	EndDate      *time.Time   `json:"end_date,omitempty"`
	Reason       string       `json:"reason"`
	AuthorizedBy string       `json:"authorized_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewOverrideLogEntry enforces that EndDate is present exactly for
// Temporary overrides and that an authorizer is named.
func NewOverrideLogEntry(entryID uuid.UUID, typ OverrideType, reason string, endDate *time.Time, authorizedBy string, now time.Time) (*OverrideLogEntry, error) {
	if entryID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ENTRY", "override must reference a registry entry")
	}
	if strings.TrimSpace(authorizedBy) == "" {
		return nil, errors.NewValidationError("MISSING_AUTHORIZER", "override must name who authorized it")
	}

	switch typ {
	case OverrideTemporary:
		if endDate == nil {
			return nil, errors.NewValidationError("MISSING_END_DATE", "temporary override requires an end date").
				WithDetails(map[string]interface{}{"field": "end_date"})
		}
		if !endDate.After(now) {
			return nil, errors.NewValidationError("INVALID_END_DATE", "end date must be in the future").
				WithDetails(map[string]interface{}{"field": "end_date"})
		}
	case OverridePermanent, OverrideManual:
		if endDate != nil {
			return nil, errors.NewValidationError("UNEXPECTED_END_DATE", "end date is only allowed for temporary overrides").
				WithDetails(map[string]interface{}{"field": "end_date"})
		}
	default:
		return nil, errors.NewValidationError("INVALID_OVERRIDE_TYPE", fmt.Sprintf("unsupported override type %q", typ))
	}

	entry := &OverrideLogEntry{
		ID:           uuid.New(),
		EntryID:      entryID,
		OverrideType: typ,
		Reason:       reason,
		AuthorizedBy: authorizedBy,
		CreatedAt:    now.UTC(),
	}
	if endDate != nil {
		end := endDate.UTC()
		entry.EndDate = &end
	}
	return entry, nil
}

// DeactivatesEntry reports whether recording this override lifts the
// restriction on the referenced entry.
func (o *OverrideLogEntry) DeactivatesEntry() bool {
	return o.OverrideType == OverridePermanent
}
