package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to call_events. The table has no UPDATE or DELETE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, tenant_id, type, call_id, call_control_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, '')::jsonb,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		string(e.Type),
		e.CallID,
		e.CallControlID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, tenantID, callControlID string) ([]Event, error) {
	const q = `
SELECT id, tenant_id, type, call_id, call_control_id, message, COALESCE(metadata::text, ''), created_at
FROM call_events
WHERE tenant_id = $1 AND call_control_id = $2
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, callControlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.TenantID, &typ, &e.CallID, &e.CallControlID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
