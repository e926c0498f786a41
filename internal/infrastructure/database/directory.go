package database

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

// Directory reads the platform-owned customers, clients and cases tables.
// It implements both dnc.CustomerDirectory and dnc.ClientDirectory.
type Directory struct {
	db *pgxpool.Pool
}

var (
	_ dnc.CustomerDirectory = (*Directory)(nil)
	_ dnc.ClientDirectory   = (*Directory)(nil)
)

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// FindByContact returns the lowest-id customer matching both phone and email.
func (d *Directory) FindByContact(ctx context.Context, phone, email string) (*dnc.Customer, error) {
	var c dnc.Customer
	err := d.db.QueryRow(ctx, `
		SELECT id, full_name, phone, lower(email)
		FROM customers
		WHERE phone = $1 AND lower(email) = $2
		ORDER BY id
		LIMIT 1`, phone, email,
	).Scan(&c.ID, &c.FullName, &c.Phone, &c.Email)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to look up customer").WithCause(err)
	}
	return &c, nil
}

func (d *Directory) Exists(ctx context.Context, clientID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, clientID).Scan(&exists)
	if err != nil {
		return false, errors.NewInternalError("failed to check client").WithCause(err)
	}
	return exists, nil
}

func (d *Directory) ClientForCustomerCase(ctx context.Context, customerID int64) (*int64, *int64, error) {
	var clientID, caseID int64
	err := d.db.QueryRow(ctx, `
		SELECT client_id, id
		FROM cases
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, customerID,
	).Scan(&clientID, &caseID)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, errors.NewInternalError("failed to look up customer case").WithCause(err)
	}
	return &clientID, &caseID, nil
}

func (d *Directory) AnyActiveClient(ctx context.Context) (*int64, error) {
	var id int64
	err := d.db.QueryRow(ctx, `SELECT id FROM clients WHERE is_active ORDER BY id LIMIT 1`).Scan(&id)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to find active client").WithCause(err)
	}
	return &id, nil
}
