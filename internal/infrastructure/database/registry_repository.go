package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/querybuilder"
)

var entryColumns = []string{
	"id", "customer_id", "case_id", "client_id", "display_name", "phone_number",
	"email_address", "scope", "source", "status", "effective_at", "expires_at",
	"override_eligible", "reason", "created_at",
}

const entrySelect = `
	SELECT id, customer_id, case_id, client_id, display_name, phone_number,
		email_address, scope, source, status, effective_at, expires_at,
		override_eligible, reason, created_at
	FROM dnc_registry`

// RegistryRepository implements dnc.EntryRepository using PostgreSQL.
// Active lookups are served by the partial phone and email indexes.
type RegistryRepository struct {
	db *pgxpool.Pool
}

var _ dnc.EntryRepository = (*RegistryRepository)(nil)

// NewRegistryRepository creates a new PostgreSQL registry repository
func NewRegistryRepository(db *pgxpool.Pool) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// Save inserts a new entry
func (r *RegistryRepository) Save(ctx context.Context, entry *dnc.RegistryEntry) error {
	query := `
		INSERT INTO dnc_registry (
			id, customer_id, case_id, client_id, display_name, phone_number,
			email_address, scope, source, status, effective_at, expires_at,
			override_eligible, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.CustomerID, entry.CaseID, entry.ClientID, entry.DisplayName,
		entry.PhoneNumber, entry.EmailAddress, string(entry.Scope), string(entry.Source),
		string(entry.Status), entry.EffectiveAt, entry.ExpiresAt, entry.OverrideEligible,
		entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save DNC entry").WithCause(err)
	}
	return nil
}

// GetByID retrieves an entry by its ID
func (r *RegistryRepository) GetByID(ctx context.Context, id uuid.UUID) (*dnc.RegistryEntry, error) {
	row := r.db.QueryRow(ctx, entrySelect+` WHERE id = $1`, id)
	return scanEntry(row)
}

// FindActive returns Active entries carrying the phone or email, newest first.
func (r *RegistryRepository) FindActive(ctx context.Context, id values.ContactIdentifier) ([]*dnc.RegistryEntry, error) {
	query := entrySelect + `
		WHERE status = 'Active'
		  AND ((phone_number = $1 AND $1 <> '') OR (email_address = $2 AND $2 <> ''))
		ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, id.Phone, id.Email)
	if err != nil {
		return nil, errors.NewInternalError("failed to query active DNC entries").WithCause(err)
	}
	return scanEntries(rows)
}

// List returns entries matching filter, newest first
func (r *RegistryRepository) List(ctx context.Context, filter dnc.EntryFilter) ([]*dnc.RegistryEntry, error) {
	qb := querybuilder.Select(entryColumns...).From("dnc_registry")
	if filter.Status != "" {
		qb.WhereEqual("status", string(filter.Status))
	}
	if filter.Scope != "" {
		qb.WhereEqual("scope", string(filter.Scope))
	}
	if filter.Source != "" {
		qb.WhereEqual("source", string(filter.Source))
	}
	if filter.Phone != "" {
		qb.WhereEqual("phone_number", filter.Phone)
	}
	if filter.Search != "" {
		pattern := querybuilder.Contains(filter.Search)
		qb.WhereAny(
			querybuilder.Condition{Column: "display_name", Operator: querybuilder.ILike, Value: pattern},
			querybuilder.Condition{Column: "phone_number", Operator: querybuilder.ILike, Value: pattern},
			querybuilder.Condition{Column: "email_address", Operator: querybuilder.ILike, Value: pattern},
		)
	}
	qb.OrderBy("created_at", querybuilder.Desc).OrderBy("id", querybuilder.Asc)
	if filter.Limit > 0 {
		qb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		qb.Offset(filter.Offset)
	}

	query, args, err := qb.ToSQL()
	if err != nil {
		return nil, errors.NewInternalError("failed to build DNC entry query").WithCause(err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list DNC entries").WithCause(err)
	}
	return scanEntries(rows)
}

// Delete hard-deletes the entry; override rows cascade
func (r *RegistryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM dnc_registry WHERE id = $1`, id)
	if err != nil {
		return errors.NewInternalError("failed to delete DNC entry").WithCause(err)
	}
	if result.RowsAffected() == 0 {
		return errors.NewNotFoundError("DNC entry")
	}
	return nil
}

// Stats counts entries for the statistics view
func (r *RegistryRepository) Stats(ctx context.Context) (*dnc.Statistics, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'Active'),
			COUNT(*) FILTER (WHERE status = 'Active' AND scope IN ('Phone Only', 'Both Phone & Email')),
			COUNT(*) FILTER (WHERE status = 'Active' AND scope IN ('Email Only', 'Both Phone & Email')),
			COUNT(*) FILTER (WHERE source = 'Government Registry')
		FROM dnc_registry`

	var stats dnc.Statistics
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalActive, &stats.PhoneActive, &stats.EmailActive, &stats.GovernmentAll,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to get DNC statistics").WithCause(err)
	}
	return &stats, nil
}

// DeactivateExpired flips Active entries past their expiry to Inactive
func (r *RegistryRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE dnc_registry SET status = 'Inactive'
		WHERE status = 'Active' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, errors.NewInternalError("failed to deactivate expired DNC entries").WithCause(err)
	}
	return result.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*dnc.RegistryEntry, error) {
	var (
		entry                 dnc.RegistryEntry
		scope, source, status string
	)
	err := row.Scan(
		&entry.ID, &entry.CustomerID, &entry.CaseID, &entry.ClientID, &entry.DisplayName,
		&entry.PhoneNumber, &entry.EmailAddress, &scope, &source, &status,
		&entry.EffectiveAt, &entry.ExpiresAt, &entry.OverrideEligible, &entry.Reason,
		&entry.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("DNC entry")
		}
		return nil, errors.NewInternalError("failed to scan DNC entry").WithCause(err)
	}
	entry.Scope = dnc.Scope(scope)
	entry.Source = dnc.Source(source)
	entry.Status = dnc.Status(status)
	return &entry, nil
}

func scanEntries(rows pgx.Rows) ([]*dnc.RegistryEntry, error) {
	defer rows.Close()

	var entries []*dnc.RegistryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate DNC entries").WithCause(err)
	}
	return entries, nil
}
