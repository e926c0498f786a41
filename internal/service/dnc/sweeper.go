package dnc

import (
	"context"
	"time"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"go.uber.org/zap"
)

const sweepLockKey = "dnc:lock:expiry-sweep"

// Sweeper periodically deactivates expired registry entries. With a Locker
// at most one instance sweeps per interval.
type Sweeper struct {
	registry *Registry
	locker   Locker
	logger   *zap.Logger
	clock    dnc.Clock
	interval time.Duration
}

// NewSweeper creates a sweeper. locker may be nil for single-instance runs.
func NewSweeper(registry *Registry, locker Locker, logger *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		registry: registry,
		locker:   locker,
		logger:   logger,
		clock:    registry.clock,
		interval: interval,
	}
}

// Run sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep, returning the number of entries deactivated.
// It returns zero without sweeping when another instance holds the lease.
// A successful sweep keeps the lease until it expires, just short of the
// interval, so the other instances skip the rest of this interval.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if s.locker == nil {
		return s.registry.SweepExpired(ctx, s.clock.Now())
	}

	release, err := s.locker.TryLock(ctx, sweepLockKey, s.leaseTTL())
	if err != nil {
		return 0, err
	}
	if release == nil {
		s.logger.Debug("Expiry sweep skipped, lease held elsewhere")
		return 0, nil
	}

	n, err := s.registry.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("Failed to release sweep lease", zap.Error(rerr))
		}
		return 0, err
	}
	return n, nil
}

func (s *Sweeper) leaseTTL() time.Duration {
	return s.interval - s.interval/10
}
