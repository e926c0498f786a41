package database

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/querybuilder"
)

// OverrideRepository implements dnc.OverrideRepository using PostgreSQL
type OverrideRepository struct {
	db *pgxpool.Pool
}

var _ dnc.OverrideRepository = (*OverrideRepository)(nil)

// NewOverrideRepository creates a new PostgreSQL override log repository
func NewOverrideRepository(db *pgxpool.Pool) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Record appends the override and, when deactivate is set, flips the entry to
// Inactive in the same transaction. The entry row is locked first so a
// concurrent delete cannot orphan the log row.
func (r *OverrideRepository) Record(ctx context.Context, o *dnc.OverrideLogEntry, deactivate bool) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM dnc_registry WHERE id = $1 FOR UPDATE`, o.EntryID).Scan(&status)
		if err != nil {
			if stderrors.Is(err, pgx.ErrNoRows) {
				return errors.NewNotFoundError("DNC entry")
			}
			return errors.NewInternalError("failed to lock DNC entry").WithCause(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO dnc_override_log (
				id, entry_id, override_type, end_date, reason, authorized_by, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, o.EntryID, string(o.OverrideType), o.EndDate, o.Reason, o.AuthorizedBy, o.CreatedAt,
		)
		if err != nil {
			return errors.NewInternalError("failed to insert override").WithCause(err)
		}

		if deactivate {
			if _, err := tx.Exec(ctx, `UPDATE dnc_registry SET status = 'Inactive' WHERE id = $1`, o.EntryID); err != nil {
				return errors.NewInternalError("failed to deactivate DNC entry").WithCause(err)
			}
		}
		return nil
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return err
		}
		return errors.NewInternalError("failed to record override").WithCause(err)
	}
	return nil
}

// List returns overrides newest first
func (r *OverrideRepository) List(ctx context.Context, filter dnc.OverrideFilter) ([]*dnc.OverrideLogEntry, error) {
	qb := querybuilder.Select("id", "entry_id", "override_type", "end_date", "reason", "authorized_by", "created_at").
		From("dnc_override_log")
	if filter.EntryID != nil {
		qb.WhereEqual("entry_id", *filter.EntryID)
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
		return nil, errors.NewInternalError("failed to build override query").WithCause(err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list overrides").WithCause(err)
	}
	defer rows.Close()

	var overrides []*dnc.OverrideLogEntry
	for rows.Next() {
		var (
			o   dnc.OverrideLogEntry
			typ string
		)
		if err := rows.Scan(&o.ID, &o.EntryID, &typ, &o.EndDate, &o.Reason, &o.AuthorizedBy, &o.CreatedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan override").WithCause(err)
		}
		o.OverrideType = dnc.OverrideType(typ)
		overrides = append(overrides, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate overrides").WithCause(err)
	}
	return overrides, nil
}
