package dnc

import (
	"context"
	"sync"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"go.uber.org/zap"
)

var _ PolicyProvider = (*PolicyService)(nil)

// PolicyService owns the global policy configuration. The configuration is
// loaded on first use and kept in process until Update or Refresh. When a
// shared cache is configured it is consulted first so an Update on one
// instance becomes visible on the others once their cached copy is gone.
type PolicyService struct {
	logger *zap.Logger
	repo   PolicyRepository
	cache  PolicyCache
	clock  dnc.Clock

	mu      sync.RWMutex
	current *dnc.PolicyConfiguration

	// updateMu serializes Update so concurrent patches to different
	// toggles do not overwrite each other.
	updateMu sync.Mutex
}

// NewPolicyService creates the policy service. cache may be nil.
func NewPolicyService(logger *zap.Logger, repo PolicyRepository, cache PolicyCache, clock dnc.Clock) (*PolicyService, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if repo == nil {
		return nil, errors.NewValidationError("INVALID_POLICY_REPO", "policy repository cannot be nil")
	}
	if clock == nil {
		clock = dnc.RealClock{}
	}
	return &PolicyService{
		logger: logger,
		repo:   repo,
		cache:  cache,
		clock:  clock,
	}, nil
}

// Get returns the current configuration, creating the defaults on first access.
func (s *PolicyService) Get(ctx context.Context) (dnc.PolicyConfiguration, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warn("Policy cache read failed, using local copy", zap.Error(err))
		} else if cached != nil {
			s.store(*cached)
			return *cached, nil
		} else {
			return s.Refresh(ctx)
		}
	}

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current != nil {
		return *current, nil
	}
	return s.Refresh(ctx)
}

// Update applies patch, persists it and replaces every cached copy.
func (s *PolicyService) Update(ctx context.Context, patch dnc.PolicyPatch) (dnc.PolicyConfiguration, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cfg, err := s.Get(ctx)
	if err != nil {
		return dnc.PolicyConfiguration{}, err
	}

	updated := patch.Apply(cfg, s.clock.Now())
	if err := s.repo.Save(ctx, &updated); err != nil {
		return dnc.PolicyConfiguration{}, storeFault(err, "failed to save policy configuration")
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate policy cache", zap.Error(err))
		}
	}
	s.store(updated)

	s.logger.Info("DNC policy updated",
		zap.Bool("checking_enabled", updated.CheckingEnabled),
		zap.Bool("blocking_enabled", updated.BlockingEnabled),
		zap.Bool("auto_check_enabled", updated.AutoCheckEnabled),
		zap.Bool("overrides_allowed", updated.OverridesAllowed),
	)
	return updated, nil
}

// Refresh reloads the configuration from the store.
func (s *PolicyService) Refresh(ctx context.Context) (dnc.PolicyConfiguration, error) {
	cfg, err := s.repo.GetOrCreate(ctx, dnc.DefaultPolicy())
	if err != nil {
		return dnc.PolicyConfiguration{}, storeFault(err, "failed to load policy configuration")
	}

	s.store(*cfg)
	if s.cache != nil {
		if err := s.cache.Set(ctx, *cfg); err != nil {
			s.logger.Warn("Failed to populate policy cache", zap.Error(err))
		}
	}
	return *cfg, nil
}

func (s *PolicyService) store(cfg dnc.PolicyConfiguration) {
	s.mu.Lock()
	s.current = &cfg
	s.mu.Unlock()
}
