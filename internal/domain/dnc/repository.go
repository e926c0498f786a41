package dnc

import (
	"context"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/google/uuid"
)

// EntryRepository persists registry entries.
type EntryRepository interface {
	// Save inserts a new entry.
	Save(ctx context.Context, entry *RegistryEntry) error

	// GetByID returns the entry or a NotFound error.
	GetByID(ctx context.Context, id uuid.UUID) (*RegistryEntry, error)

	// FindActive returns entries with Status=Active carrying the given phone
	// or email, newest first. The caller applies the time window.
	FindActive(ctx context.Context, id values.ContactIdentifier) ([]*RegistryEntry, error)

	// List returns entries matching filter, newest first.
	List(ctx context.Context, filter EntryFilter) ([]*RegistryEntry, error)

	// Delete hard-deletes the entry and its override history.
	Delete(ctx context.Context, id uuid.UUID) error

	// Stats counts entries for the statistics view.
	Stats(ctx context.Context) (*Statistics, error)

	// DeactivateExpired flips Active entries whose expiry has passed to Inactive.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// OverrideRepository persists the override audit log.
type OverrideRepository interface {
	// Record appends the override. When deactivate is true the referenced
	// entry's status flips to Inactive in the same transaction.
	Record(ctx context.Context, override *OverrideLogEntry, deactivate bool) error

	// List returns overrides newest first.
	List(ctx context.Context, filter OverrideFilter) ([]*OverrideLogEntry, error)
}

// PolicyRepository persists the singleton policy configuration.
type PolicyRepository interface {
	// GetOrCreate returns the stored configuration, inserting defaults when
	// none exists. Concurrent first calls must not fail.
	GetOrCreate(ctx context.Context, defaults PolicyConfiguration) (*PolicyConfiguration, error)

	// Save overwrites the stored configuration.
	Save(ctx context.Context, cfg *PolicyConfiguration) error
}

// Customer is the subset of a platform customer record the registry reads.
type Customer struct {
	ID       int64
	FullName string
	Phone    string
	Email    string
}

// CustomerDirectory reads customers owned by the wider platform.
type CustomerDirectory interface {
	// FindByContact returns the customer whose phone AND email both match,
	// or nil when none does.
	FindByContact(ctx context.Context, phone, email string) (*Customer, error)
}

// ClientDirectory resolves the client an entry is reported against.
type ClientDirectory interface {
	// Exists reports whether the client id is known.
	Exists(ctx context.Context, clientID int64) (bool, error)

	// ClientForCustomerCase returns the client of the customer's most recent
	// case, with the case id, or nil when the customer has no case.
	ClientForCustomerCase(ctx context.Context, customerID int64) (clientID *int64, caseID *int64, err error)

	// AnyActiveClient returns some active client, or nil when there is none.
	AnyActiveClient(ctx context.Context) (*int64, error)
}

// EntryFilter narrows a registry listing. Zero fields are ignored.
type EntryFilter struct {
	Status Status
	Scope  Scope
	Source Source
	Phone  string
	Search string
	Limit  int
	Offset int
}

// OverrideFilter narrows the override log listing.
type OverrideFilter struct {
	EntryID *uuid.UUID
	Limit   int
	Offset  int
}

// Statistics are the registry counts shown on the dashboard.
type Statistics struct {
	TotalActive   int64 `json:"total_active"`
	PhoneActive   int64 `json:"phone_active"`
	EmailActive   int64 `json:"email_active"`
	GovernmentAll int64 `json:"government_registry"`
}
