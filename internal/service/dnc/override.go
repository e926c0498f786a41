package dnc

import (
	"context"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ OverrideRecorder = (*OverrideService)(nil)

// OverrideService writes and reads the override audit log.
type OverrideService struct {
	logger    *zap.Logger
	entries   EntryRepository
	overrides OverrideRepository
	policy    PolicyProvider
	clock     dnc.Clock
	metrics   *metrics.Metrics
}

// NewOverrideService creates the override service. m may be nil.
func NewOverrideService(
	logger *zap.Logger,
	entries EntryRepository,
	overrides OverrideRepository,
	policy PolicyProvider,
	clock dnc.Clock,
	m *metrics.Metrics,
) (*OverrideService, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if entries == nil {
		return nil, errors.NewValidationError("INVALID_ENTRY_REPO", "entry repository cannot be nil")
	}
	if overrides == nil {
		return nil, errors.NewValidationError("INVALID_OVERRIDE_REPO", "override repository cannot be nil")
	}
	if policy == nil {
		return nil, errors.NewValidationError("INVALID_POLICY", "policy provider cannot be nil")
	}
	if clock == nil {
		clock = dnc.RealClock{}
	}
	return &OverrideService{
		logger:    logger,
		entries:   entries,
		overrides: overrides,
		policy:    policy,
		clock:     clock,
		metrics:   m,
	}, nil
}

// Record appends an override. A Permanent override deactivates the entry in
// the same write.
func (s *OverrideService) Record(ctx context.Context, entryID uuid.UUID, typ dnc.OverrideType, reason string, endDate *time.Time, authorizedBy string) (*dnc.OverrideLogEntry, error) {
	override, err := dnc.NewOverrideLogEntry(entryID, typ, reason, endDate, authorizedBy, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.overrides.Record(ctx, override, override.DeactivatesEntry()); err != nil {
		return nil, storeFault(err, "failed to record override")
	}

	s.metrics.IncrementOverride(string(typ))
	s.logger.Info("DNC override recorded",
		zap.String("override_id", override.ID.String()),
		zap.String("entry_id", entryID.String()),
		zap.String("type", string(typ)),
		zap.String("authorized_by", authorizedBy),
	)
	return override, nil
}

// CreateOverride grants an operator-requested exception after checking the
// global policy and the entry's eligibility.
func (s *OverrideService) CreateOverride(ctx context.Context, req CreateOverrideRequest, user *User) (*dnc.OverrideLogEntry, error) {
	if user.AuthorizedBy() == "" {
		return nil, errors.NewUnauthorizedError("authentication required to create an override")
	}

	entry, err := s.entries.GetByID(ctx, req.EntryID)
	if err != nil {
		return nil, storeFault(err, "failed to get registry entry")
	}

	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.OverridesAllowed {
		return nil, errors.NewPermissionDeniedError("OVERRIDE_DISABLED", "override disabled globally")
	}
	if !entry.OverrideEligible {
		return nil, errors.NewPermissionDeniedError("OVERRIDE_NOT_ALLOWED", "override not allowed for this entry")
	}

	return s.Record(ctx, entry.ID, req.OverrideType, req.Reason, req.EndDate, user.AuthorizedBy())
}

// List returns overrides newest first.
func (s *OverrideService) List(ctx context.Context, filter dnc.OverrideFilter) ([]*dnc.OverrideLogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	overrides, err := s.overrides.List(ctx, filter)
	if err != nil {
		return nil, storeFault(err, "failed to list overrides")
	}
	return overrides, nil
}
