// Package memstore keeps the DNC registry, override log, policy and the
// customer/client directories in process. It backs tests and the
// database.driver=memory development mode; it is not shared between instances.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/google/uuid"
)

// Store holds every table behind a single lock so an override insert and
// the entry status flip form one critical section.
type Store struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]*dnc.RegistryEntry
	overrides []*dnc.OverrideLogEntry
	policy    *dnc.PolicyConfiguration

	customers []dnc.Customer
	clients   map[int64]bool
	cases     []customerCase
}

type customerCase struct {
	id         int64
	customerID int64
	clientID   int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[uuid.UUID]*dnc.RegistryEntry),
		clients: make(map[int64]bool),
	}
}

// Entries returns the registry repository view.
func (s *Store) Entries() *EntryStore { return &EntryStore{s: s} }

// Overrides returns the override log repository view.
func (s *Store) Overrides() *OverrideStore { return &OverrideStore{s: s} }

// Policy returns the policy repository view.
func (s *Store) Policy() *PolicyStore { return &PolicyStore{s: s} }

// Customers returns the customer directory view.
func (s *Store) Customers() *CustomerStore { return &CustomerStore{s: s} }

// Clients returns the client directory view.
func (s *Store) Clients() *ClientStore { return &ClientStore{s: s} }

// AddCustomer registers a platform customer.
func (s *Store) AddCustomer(c dnc.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Phone = values.NormalizePhone(c.Phone)
	c.Email = values.NormalizeEmail(c.Email)
	s.customers = append(s.customers, c)
}

// AddClient registers a platform client.
func (s *Store) AddClient(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = active
}

// AddCase links a customer to a client through a case.
func (s *Store) AddCase(caseID, customerID, clientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = append(s.cases, customerCase{id: caseID, customerID: customerID, clientID: clientID})
}

func copyEntry(e *dnc.RegistryEntry) *dnc.RegistryEntry {
	c := *e
	return &c
}

// EntryStore implements dnc.EntryRepository.
type EntryStore struct{ s *Store }

var _ dnc.EntryRepository = (*EntryStore)(nil)

func (r *EntryStore) Save(ctx context.Context, entry *dnc.RegistryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (r *EntryStore) GetByID(ctx context.Context, id uuid.UUID) (*dnc.RegistryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	entry, ok := r.s.entries[id]
	if !ok {
		return nil, errors.NewNotFoundError("DNC entry")
	}
	return copyEntry(entry), nil
}

func (r *EntryStore) FindActive(ctx context.Context, id values.ContactIdentifier) ([]*dnc.RegistryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*dnc.RegistryEntry
	for _, entry := range r.s.entries {
		if entry.Status == dnc.StatusActive && entry.Matches(id) {
			out = append(out, copyEntry(entry))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *EntryStore) List(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.RegistryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var out []*dnc.RegistryEntry
	for _, entry := range r.s.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.Scope != "" && entry.Scope != filter.Scope {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		if filter.Phone != "" && entry.PhoneNumber != filter.Phone {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(entry.DisplayName), search) &&
			!strings.Contains(entry.PhoneNumber, search) &&
			!strings.Contains(entry.EmailAddress, search) {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	sortNewestFirst(out)
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *EntryStore) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.entries[id]; !ok {
		return errors.NewNotFoundError("DNC entry")
	}
	delete(r.s.entries, id)

	kept := r.s.overrides[:0]
	for _, o := range r.s.overrides {
		if o.EntryID != id {
			kept = append(kept, o)
		}
	}
	r.s.overrides = kept
	return nil
}

func (r *EntryStore) Stats(ctx context.Context) (*dnc.Statistics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := &dnc.Statistics{}
	for _, entry := range r.s.entries {
		if entry.Source == dnc.SourceGovernmentRegistry {
			stats.GovernmentAll++
		}
		if entry.Status != dnc.StatusActive {
			continue
		}
		stats.TotalActive++
		if entry.Scope.CoversPhone() {
			stats.PhoneActive++
		}
		if entry.Scope.CoversEmail() {
			stats.EmailActive++
		}
	}
	return stats, nil
}

func (r *EntryStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, entry := range r.s.entries {
		if entry.Status == dnc.StatusActive && entry.IsExpiredAt(now) {
			entry.Deactivate()
			n++
		}
	}
	return n, nil
}

// OverrideStore implements dnc.OverrideRepository.
type OverrideStore struct{ s *Store }

var _ dnc.OverrideRepository = (*OverrideStore)(nil)

func (r *OverrideStore) Record(ctx context.Context, override *dnc.OverrideLogEntry, deactivate bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry, ok := r.s.entries[override.EntryID]
	if !ok {
		return errors.NewNotFoundError("DNC entry")
	}
	if deactivate {
		entry.Deactivate()
	}
	c := *override
	r.s.overrides = append(r.s.overrides, &c)
	return nil
}

func (r *OverrideStore) List(ctx context.Context, filter dnc.OverrideFilter) ([]*dnc.OverrideLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*dnc.OverrideLogEntry
	for i := len(r.s.overrides) - 1; i >= 0; i-- {
		o := r.s.overrides[i]
		if filter.EntryID != nil && o.EntryID != *filter.EntryID {
			continue
		}
		c := *o
		out = append(out, &c)
	}
	return page(out, filter.Offset, filter.Limit), nil
}

// PolicyStore implements dnc.PolicyRepository.
type PolicyStore struct{ s *Store }

var _ dnc.PolicyRepository = (*PolicyStore)(nil)

func (r *PolicyStore) GetOrCreate(ctx context.Context, defaults dnc.PolicyConfiguration) (*dnc.PolicyConfiguration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.policy == nil {
		cfg := defaults
		if cfg.UpdatedAt.IsZero() {
			cfg.UpdatedAt = time.Now().UTC()
		}
		r.s.policy = &cfg
	}
	c := *r.s.policy
	return &c, nil
}

func (r *PolicyStore) Save(ctx context.Context, cfg *dnc.PolicyConfiguration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *cfg
	r.s.policy = &c
	return nil
}

// CustomerStore implements dnc.CustomerDirectory.
type CustomerStore struct{ s *Store }

var _ dnc.CustomerDirectory = (*CustomerStore)(nil)

func (r *CustomerStore) FindByContact(ctx context.Context, phone, email string) (*dnc.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.customers {
		if c.Phone == phone && c.Email == email {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

// ClientStore implements dnc.ClientDirectory.
type ClientStore struct{ s *Store }

var _ dnc.ClientDirectory = (*ClientStore)(nil)

func (r *ClientStore) Exists(ctx context.Context, clientID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.clients[clientID]
	return ok, nil
}

func (r *ClientStore) ClientForCustomerCase(ctx context.Context, customerID int64) (*int64, *int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.cases) - 1; i >= 0; i-- {
		c := r.s.cases[i]
		if c.customerID == customerID {
			clientID, caseID := c.clientID, c.id
			return &clientID, &caseID, nil
		}
	}
	return nil, nil, nil
}

func (r *ClientStore) AnyActiveClient(ctx context.Context) (*int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []int64
	for id, active := range r.s.clients {
		if active {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &ids[0], nil
}

func sortNewestFirst(entries []*dnc.RegistryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID.String() > entries[j].ID.String()
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
