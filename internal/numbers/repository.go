package numbers

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	// Upsert stores p, reactivating a released row for the same number.
	Upsert(ctx context.Context, p PhoneNumber) (PhoneNumber, error)
	FindByNumber(ctx context.Context, number string) (PhoneNumber, error)
	ListByTenant(ctx context.Context, tenantID string) ([]PhoneNumber, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const numberColumns = `id, tenant_id, number, carrier_number_id, status, created_at, updated_at`

func scanNumber(row interface{ Scan(dest ...any) error }) (PhoneNumber, error) {
	var p PhoneNumber
	var status string
	if err := row.Scan(&p.ID, &p.TenantID, &p.Number, &p.CarrierNumberID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return PhoneNumber{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, p PhoneNumber) (PhoneNumber, error) {
	const q = `
INSERT INTO phone_numbers (id, tenant_id, number, carrier_number_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (number) DO UPDATE
SET tenant_id = EXCLUDED.tenant_id,
    carrier_number_id = EXCLUDED.carrier_number_id,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
WHERE phone_numbers.status <> 'active'
RETURNING ` + numberColumns
	out, err := scanNumber(r.db.QueryRowContext(ctx, q, p.ID, p.TenantID, p.Number, p.CarrierNumberID, string(p.Status), p.CreatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// conflict with an active row: the WHERE suppressed the update
			return PhoneNumber{}, ErrAlreadyProvisioned
		}
		return PhoneNumber{}, err
	}
	return out, nil
}

func (r *PostgresRepo) FindByNumber(ctx context.Context, number string) (PhoneNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE number = $1`
	p, err := scanNumber(r.db.QueryRowContext(ctx, q, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PhoneNumber{}, ErrNotFound
		}
		return PhoneNumber{}, err
	}
	return p, nil
}

func (r *PostgresRepo) ListByTenant(ctx context.Context, tenantID string) ([]PhoneNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE tenant_id = $1 AND status = 'active' ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhoneNumber
	for rows.Next() {
		p, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	const q = `UPDATE phone_numbers SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, string(status), at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
