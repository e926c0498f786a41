package dnc

import (
	"context"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/google/uuid"
)

// Repository interfaces for dependency injection
type EntryRepository interface {
	dnc.EntryRepository
}

type OverrideRepository interface {
	dnc.OverrideRepository
}

type PolicyRepository interface {
	dnc.PolicyRepository
}

// PolicyProvider returns the configuration every decision consults.
type PolicyProvider interface {
	Get(ctx context.Context) (dnc.PolicyConfiguration, error)
}

// PolicyCache is the shared copy of the policy used to keep several
// instances in step. Get returns nil, nil on a miss.
type PolicyCache interface {
	Get(ctx context.Context) (*dnc.PolicyConfiguration, error)
	Set(ctx context.Context, cfg dnc.PolicyConfiguration) error
	Invalidate(ctx context.Context) error
}

// ContactLookup finds the entry currently restricting an identifier.
type ContactLookup interface {
	LookupActive(ctx context.Context, id values.ContactIdentifier) (*dnc.RegistryEntry, error)
}

// OverrideRecorder appends to the override audit log.
type OverrideRecorder interface {
	Record(ctx context.Context, entryID uuid.UUID, typ dnc.OverrideType, reason string, endDate *time.Time, authorizedBy string) (*dnc.OverrideLogEntry, error)
}

// Screener runs the non-override part of a decision. The enforcement
// interceptor depends on this so both paths share one implementation.
type Screener interface {
	Screen(ctx context.Context, id values.ContactIdentifier) (*Screening, error)
}

// Locker grants a short exclusive lease across instances.
type Locker interface {
	// TryLock returns a release func when the lock was acquired, or nil when
	// another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}
