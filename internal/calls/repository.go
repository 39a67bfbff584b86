package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/pkg/utils"
)

// Repository is the persistence contract for call records.
type Repository interface {
	Insert(ctx context.Context, c Call) error
	Update(ctx context.Context, id string, u CallUpdate) error
	FindByCallControlID(ctx context.Context, callControlID string) (Call, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Call, error)
}

// PostgresRepo stores calls in the calls table (see internal/storage migrations).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, call_control_id, call_leg_id, tenant_id, from_number, to_number, direction,
  session_id, state, recording, started_at, connected_at, ended_at, end_reason, duration_ms
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.CallControlID,
		c.CallLegID,
		c.TenantID,
		c.From,
		c.To,
		string(c.Direction),
		c.SessionID,
		string(c.State),
		c.Recording,
		c.StartedAt,
		c.ConnectedAt,
		c.EndedAt,
		c.EndReason,
		c.DurationMs,
	)
	return err
}

// Update applies the non-nil fields of u. The row is locked for the duration so
// concurrent partial updates do not interleave.
func (r *PostgresRepo) Update(ctx context.Context, id string, u CallUpdate) error {
	sets, args := updateColumns(u)
	if len(sets) == 0 {
		return nil
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var exists string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM calls WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		args = append(args, id)
		q := fmt.Sprintf("UPDATE calls SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

func updateColumns(u CallUpdate) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.State != nil {
		add("state", string(*u.State))
	}
	if u.ConnectedAt != nil {
		add("connected_at", *u.ConnectedAt)
	}
	if u.EndedAt != nil {
		add("ended_at", *u.EndedAt)
	}
	if u.EndReason != nil {
		add("end_reason", *u.EndReason)
	}
	if u.DurationMs != nil {
		add("duration_ms", *u.DurationMs)
	}
	return sets, args
}

const callColumns = `id, call_control_id, call_leg_id, tenant_id, from_number, to_number, direction,
  session_id, state, recording, started_at, connected_at, ended_at, end_reason, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var direction, state string
	var connectedAt, endedAt sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.CallControlID,
		&c.CallLegID,
		&c.TenantID,
		&c.From,
		&c.To,
		&direction,
		&c.SessionID,
		&state,
		&c.Recording,
		&c.StartedAt,
		&connectedAt,
		&endedAt,
		&c.EndReason,
		&c.DurationMs,
	); err != nil {
		return Call{}, err
	}
	c.Direction = Direction(direction)
	c.State = CallState(state)
	if connectedAt.Valid {
		t := connectedAt.Time
		c.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) FindByCallControlID(ctx context.Context, callControlID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE call_control_id = $1 LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, callControlID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListByTenantBetween returns calls started in [from, to), oldest first.
func (r *PostgresRepo) ListByTenantBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 AND started_at >= $2 AND started_at < $3 ORDER BY started_at`
	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
