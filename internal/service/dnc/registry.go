package dnc

import (
	"context"
	"strings"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var _ ContactLookup = (*Registry)(nil)

// RegistryConfig tunes registry behaviour.
type RegistryConfig struct {
	// AssignFallbackClient attaches an arbitrary active client to entries
	// whose client cannot be derived from the request or a case.
	AssignFallbackClient bool
}

// Registry manages the Do-Not-Contact list.
type Registry struct {
	logger    *zap.Logger
	config    RegistryConfig
	entries   EntryRepository
	customers dnc.CustomerDirectory
	clients   dnc.ClientDirectory
	clock     dnc.Clock
	metrics   *metrics.Metrics
}

// NewRegistry creates the registry service. m may be nil.
func NewRegistry(
	logger *zap.Logger,
	config RegistryConfig,
	entries EntryRepository,
	customers dnc.CustomerDirectory,
	clients dnc.ClientDirectory,
	clock dnc.Clock,
	m *metrics.Metrics,
) (*Registry, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if entries == nil {
		return nil, errors.NewValidationError("INVALID_ENTRY_REPO", "entry repository cannot be nil")
	}
	if customers == nil {
		return nil, errors.NewValidationError("INVALID_CUSTOMER_DIRECTORY", "customer directory cannot be nil")
	}
	if clients == nil {
		return nil, errors.NewValidationError("INVALID_CLIENT_DIRECTORY", "client directory cannot be nil")
	}
	if clock == nil {
		clock = dnc.RealClock{}
	}
	return &Registry{
		logger:    logger,
		config:    config,
		entries:   entries,
		customers: customers,
		clients:   clients,
		clock:     clock,
		metrics:   m,
	}, nil
}

// LookupActive returns the entry currently restricting id, or nil. A phone
// match is preferred over an email match.
func (r *Registry) LookupActive(ctx context.Context, id values.ContactIdentifier) (*dnc.RegistryEntry, error) {
	if id.IsEmpty() {
		return nil, errors.NewValidationError("MISSING_IDENTIFIER", "phone number or email address is required").
			WithDetails(map[string]interface{}{"field": "identifier"})
	}

	candidates, err := r.entries.FindActive(ctx, id)
	if err != nil {
		return nil, storeFault(err, "failed to look up registry entry")
	}

	now := r.clock.Now()
	var emailMatch *dnc.RegistryEntry
	for _, entry := range candidates {
		if !entry.BlocksAt(now) {
			continue
		}
		if id.Phone != "" && entry.PhoneNumber == id.Phone {
			return entry, nil
		}
		if emailMatch == nil && id.Email != "" && entry.EmailAddress == id.Email {
			emailMatch = entry
		}
	}
	return emailMatch, nil
}

// Create adds an entry for a known customer. The declared name, phone and
// email must all agree with the customer record.
func (r *Registry) Create(ctx context.Context, req CreateEntryRequest) (*dnc.RegistryEntry, error) {
	required := []struct{ field, value string }{
		{"name", req.Name},
		{"phone", req.Phone},
		{"email", req.Email},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, errors.NewValidationError("MISSING_FIELD", f.field+" is required").
				WithDetails(map[string]interface{}{"field": f.field})
		}
	}

	customer, err := r.customers.FindByContact(ctx, values.NormalizePhone(req.Phone), values.NormalizeEmail(req.Email))
	if err != nil {
		return nil, storeFault(err, "failed to look up customer")
	}
	if customer == nil {
		return nil, errors.NewValidationError("CUSTOMER_NOT_FOUND", "no customer matches this phone number and email address").
			WithDetails(map[string]interface{}{"field": "phone"})
	}
	if normalizeName(customer.FullName) != normalizeName(req.Name) {
		return nil, errors.NewValidationError("NAME_MISMATCH", "name does not match the customer record").
			WithDetails(map[string]interface{}{"field": "name"})
	}

	if req.ClientID != nil {
		ok, err := r.clients.Exists(ctx, *req.ClientID)
		if err != nil {
			return nil, storeFault(err, "failed to look up client")
		}
		if !ok {
			return nil, errors.NewValidationError("INVALID_CLIENT", "client does not exist").
				WithDetails(map[string]interface{}{"field": "client_id"})
		}
	}

	clientID, caseID, err := r.resolveClient(ctx, customer.ID, req.ClientID, req.CaseID)
	if err != nil {
		return nil, err
	}

	customerID := customer.ID
	entry, err := dnc.NewRegistryEntry(dnc.EntryParams{
		CustomerID:       &customerID,
		CaseID:           caseID,
		ClientID:         clientID,
		DisplayName:      customer.FullName,
		PhoneNumber:      customer.Phone,
		EmailAddress:     customer.Email,
		Scope:            req.Scope,
		Source:           req.Source,
		Status:           req.Status,
		EffectiveAt:      req.EffectiveAt,
		ExpiresAt:        req.ExpiresAt,
		OverrideEligible: req.OverrideEligible,
		Reason:           req.Reason,
	}, r.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := r.entries.Save(ctx, entry); err != nil {
		return nil, storeFault(err, "failed to save registry entry")
	}

	r.logger.Info("DNC entry created",
		zap.String("entry_id", entry.ID.String()),
		zap.Int64("customer_id", customerID),
		zap.String("scope", string(entry.Scope)),
		zap.String("source", string(entry.Source)),
	)
	return entry, nil
}

// resolveClient picks the reporting client: the explicit one, else the
// client of the customer's case, else (when enabled) any active client.
func (r *Registry) resolveClient(ctx context.Context, customerID int64, explicitClient, explicitCase *int64) (*int64, *int64, error) {
	caseID := explicitCase
	if explicitClient != nil {
		return explicitClient, caseID, nil
	}

	clientID, derivedCase, err := r.clients.ClientForCustomerCase(ctx, customerID)
	if err != nil {
		return nil, nil, storeFault(err, "failed to look up customer case")
	}
	if caseID == nil {
		caseID = derivedCase
	}
	if clientID != nil {
		return clientID, caseID, nil
	}

	if !r.config.AssignFallbackClient {
		return nil, caseID, nil
	}
	fallback, err := r.clients.AnyActiveClient(ctx)
	if err != nil {
		return nil, nil, storeFault(err, "failed to look up fallback client")
	}
	if fallback != nil {
		r.logger.Warn("Assigned fallback client to DNC entry",
			zap.Int64("customer_id", customerID),
			zap.Int64("client_id", *fallback),
		)
	}
	return fallback, caseID, nil
}

// Get returns one entry.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*dnc.RegistryEntry, error) {
	entry, err := r.entries.GetByID(ctx, id)
	if err != nil {
		return nil, storeFault(err, "failed to get registry entry")
	}
	return entry, nil
}

// List returns entries newest first.
func (r *Registry) List(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.RegistryEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Phone != "" {
		filter.Phone = values.NormalizePhone(filter.Phone)
	}
	filter.Search = strings.TrimSpace(filter.Search)

	entries, err := r.entries.List(ctx, filter)
	if err != nil {
		return nil, storeFault(err, "failed to list registry entries")
	}
	return entries, nil
}

// Delete hard-deletes an entry.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.entries.Delete(ctx, id); err != nil {
		return storeFault(err, "failed to delete registry entry")
	}
	r.logger.Info("DNC entry deleted", zap.String("entry_id", id.String()))
	return nil
}

// Statistics returns the dashboard counts.
func (r *Registry) Statistics(ctx context.Context) (*dnc.Statistics, error) {
	stats, err := r.entries.Stats(ctx)
	if err != nil {
		return nil, storeFault(err, "failed to count registry entries")
	}
	return stats, nil
}

// SweepExpired deactivates Active entries whose expiry is at or before now.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.entries.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, storeFault(err, "failed to deactivate expired entries")
	}
	r.metrics.AddExpiredSwept(n)
	if n > 0 {
		r.logger.Info("Deactivated expired DNC entries", zap.Int64("count", n))
	}
	return n, nil
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
