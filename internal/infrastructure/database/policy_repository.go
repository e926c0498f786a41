package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

// PolicyRepository implements dnc.PolicyRepository over the single-row
// dnc_policy table.
type PolicyRepository struct {
	db *pgxpool.Pool
}

var _ dnc.PolicyRepository = (*PolicyRepository)(nil)

// NewPolicyRepository creates a new PostgreSQL policy repository
func NewPolicyRepository(db *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetOrCreate inserts defaults when the row is missing and returns the stored
// row. ON CONFLICT makes concurrent first calls converge on one row.
func (r *PolicyRepository) GetOrCreate(ctx context.Context, defaults dnc.PolicyConfiguration) (*dnc.PolicyConfiguration, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO dnc_policy (
			id, checking_enabled, blocking_enabled, auto_check_enabled, overrides_allowed, updated_at
		) VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO NOTHING`,
		defaults.CheckingEnabled, defaults.BlockingEnabled, defaults.AutoCheckEnabled, defaults.OverridesAllowed,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to initialize DNC policy").WithCause(err)
	}

	var cfg dnc.PolicyConfiguration
	err = r.db.QueryRow(ctx, `
		SELECT checking_enabled, blocking_enabled, auto_check_enabled, overrides_allowed, updated_at
		FROM dnc_policy WHERE id = 1`,
	).Scan(&cfg.CheckingEnabled, &cfg.BlockingEnabled, &cfg.AutoCheckEnabled, &cfg.OverridesAllowed, &cfg.UpdatedAt)
	if err != nil {
		return nil, errors.NewInternalError("failed to load DNC policy").WithCause(err)
	}
	return &cfg, nil
}

// Save overwrites the stored configuration
func (r *PolicyRepository) Save(ctx context.Context, cfg *dnc.PolicyConfiguration) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO dnc_policy (
			id, checking_enabled, blocking_enabled, auto_check_enabled, overrides_allowed, updated_at
		) VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			checking_enabled = EXCLUDED.checking_enabled,
			blocking_enabled = EXCLUDED.blocking_enabled,
			auto_check_enabled = EXCLUDED.auto_check_enabled,
			overrides_allowed = EXCLUDED.overrides_allowed,
			updated_at = EXCLUDED.updated_at`,
		cfg.CheckingEnabled, cfg.BlockingEnabled, cfg.AutoCheckEnabled, cfg.OverridesAllowed, cfg.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save DNC policy").WithCause(err)
	}
	return nil
}
