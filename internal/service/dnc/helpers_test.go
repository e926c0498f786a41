package dnc

import (
	"context"
	"testing"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memstore.Store
	clock     *dnc.MockClock
	policy    *PolicyService
	registry  *Registry
	overrides *OverrideService
	engine    *Engine
}

func newFixture(t *testing.T, cfg RegistryConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	clock := dnc.NewMockClock(testNow)

	policy, err := NewPolicyService(logger, store.Policy(), nil, clock)
	require.NoError(t, err)
	registry, err := NewRegistry(logger, cfg, store.Entries(), store.Customers(), store.Clients(), clock, nil)
	require.NoError(t, err)
	overrides, err := NewOverrideService(logger, store.Entries(), store.Overrides(), policy, clock, nil)
	require.NoError(t, err)
	engine, err := NewEngine(logger, policy, registry, overrides, nil)
	require.NoError(t, err)

	return &fixture{
		store:     store,
		clock:     clock,
		policy:    policy,
		registry:  registry,
		overrides: overrides,
		engine:    engine,
	}
}

func (f *fixture) setPolicy(t *testing.T, checking, blocking, overrides bool) {
	t.Helper()
	_, err := f.policy.Update(context.Background(), dnc.PolicyPatch{
		CheckingEnabled:  &checking,
		BlockingEnabled:  &blocking,
		OverridesAllowed: &overrides,
	})
	require.NoError(t, err)
}

func (f *fixture) addEntry(t *testing.T, mutate func(*dnc.EntryParams)) *dnc.RegistryEntry {
	t.Helper()
	yesterday := testNow.Add(-24 * time.Hour)
	params := dnc.EntryParams{
		DisplayName:      "Jane Doe",
		PhoneNumber:      "+15551234567",
		Scope:            dnc.ScopePhoneOnly,
		Source:           dnc.SourceCustomerRequest,
		Status:           dnc.StatusActive,
		EffectiveAt:      &yesterday,
		OverrideEligible: true,
	}
	if mutate != nil {
		mutate(&params)
	}
	entry, err := dnc.NewRegistryEntry(params, yesterday)
	require.NoError(t, err)
	require.NoError(t, f.store.Entries().Save(context.Background(), entry))
	return entry
}

func (f *fixture) overrideCount(t *testing.T, entryID uuid.UUID) int {
	t.Helper()
	logged, err := f.store.Overrides().List(context.Background(), dnc.OverrideFilter{EntryID: &entryID})
	require.NoError(t, err)
	return len(logged)
}

// Mock implementations

type MockContactLookup struct {
	mock.Mock
}

func (m *MockContactLookup) LookupActive(ctx context.Context, id values.ContactIdentifier) (*dnc.RegistryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.RegistryEntry), args.Error(1)
}

type MockPolicyRepository struct {
	mock.Mock
}

func (m *MockPolicyRepository) GetOrCreate(ctx context.Context, defaults dnc.PolicyConfiguration) (*dnc.PolicyConfiguration, error) {
	args := m.Called(ctx, defaults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.PolicyConfiguration), args.Error(1)
}

func (m *MockPolicyRepository) Save(ctx context.Context, cfg *dnc.PolicyConfiguration) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

type MockPolicyCache struct {
	mock.Mock
}

func (m *MockPolicyCache) Get(ctx context.Context) (*dnc.PolicyConfiguration, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.PolicyConfiguration), args.Error(1)
}

func (m *MockPolicyCache) Set(ctx context.Context, cfg dnc.PolicyConfiguration) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockPolicyCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context) error), args.Error(1)
}
