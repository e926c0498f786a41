package dnc

import (
	"fmt"
	"strings"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

// Scope is the set of channels an entry restricts.
type Scope string

const (
	ScopePhoneOnly Scope = "Phone Only"
	ScopeEmailOnly Scope = "Email Only"
	ScopeBoth      Scope = "Both Phone & Email"
)

// Source records how an entry came to be on the registry.
type Source string

const (
	SourceCustomerRequest    Source = "Customer Request"
	SourceGovernmentRegistry Source = "Government Registry"
	SourceManualEntry        Source = "Manual Entry"
	SourceSystemGenerated    Source = "System Generated"
)

// Status of a registry entry. Only Active entries can block.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

var scopeAliases = map[string]Scope{
	"phone only":         ScopePhoneOnly,
	"phone":              ScopePhoneOnly,
	"email only":         ScopeEmailOnly,
	"email":              ScopeEmailOnly,
	"both phone & email": ScopeBoth,
	"both":               ScopeBoth,
}

var sourceAliases = map[string]Source{
	"customer request":    SourceCustomerRequest,
	"customer":            SourceCustomerRequest,
	"government registry": SourceGovernmentRegistry,
	"government":          SourceGovernmentRegistry,
	"manual entry":        SourceManualEntry,
	"manual":              SourceManualEntry,
	"system generated":    SourceSystemGenerated,
	"system":              SourceSystemGenerated,
}

// ParseScope accepts the display names and the short filter aliases
// (Phone, Email, Both), case-insensitively.
func ParseScope(s string) (Scope, error) {
	if scope, ok := scopeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return scope, nil
	}
	return "", errors.NewValidationError("INVALID_DNC_TYPE", fmt.Sprintf("unsupported DNC type %q", s)).
		WithDetails(map[string]interface{}{"field": "dnc_type"})
}

// ParseSource accepts the display names and the short filter aliases
// (Government, Customer, Manual, System), case-insensitively.
func ParseSource(s string) (Source, error) {
	if source, ok := sourceAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return source, nil
	}
	return "", errors.NewValidationError("INVALID_SOURCE", fmt.Sprintf("unsupported source %q", s)).
		WithDetails(map[string]interface{}{"field": "source"})
}

// ParseStatus accepts Active or Inactive, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	}
	return "", errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("unsupported status %q", s)).
		WithDetails(map[string]interface{}{"field": "status"})
}

// CoversPhone reports whether the scope restricts voice/SMS/WhatsApp contact.
func (s Scope) CoversPhone() bool {
	return s == ScopePhoneOnly || s == ScopeBoth
}

// CoversEmail reports whether the scope restricts email contact.
func (s Scope) CoversEmail() bool {
	return s == ScopeEmailOnly || s == ScopeBoth
}
