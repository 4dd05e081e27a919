package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLAuditSink persists decision audit events. It satisfies
// permit.AuditSink and is fed by the resolver's async recorder, so a slow
// insert never blocks a resolution.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) Record(ctx context.Context, ev *permit.AuditEvent) error {
	q := `INSERT INTO audit_events(id, principal, action, resource_type, resource_id, tenant, granted, path, at)
		VALUES(:id, :principal, :action, :resource_type, :resource_id, :tenant, :granted, :path, :at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            ev.ID,
		"principal":     ev.Principal,
		"action":        ev.Action,
		"resource_type": ev.ResourceType,
		"resource_id":   ev.ResourceID,
		"tenant":        ev.Tenant,
		"granted":       boolToInt(ev.Granted),
		"path":          ev.Path,
		"at":            ev.At,
	})
	return err
}

// Recent returns up to limit events for the principal, newest first.
func (s *SQLAuditSink) Recent(ctx context.Context, principal string, limit int) ([]permit.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, principal, action, resource_type, resource_id, tenant, granted, path, at
		FROM audit_events WHERE principal = :principal ORDER BY at DESC LIMIT :limit`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal": principal, "limit": limit})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []permit.AuditEvent
	for rows.Next() {
		var ev permit.AuditEvent
		var granted int
		var atRaw interface{}
		if err := rows.Scan(&ev.ID, &ev.Principal, &ev.Action, &ev.ResourceType, &ev.ResourceID, &ev.Tenant, &granted, &ev.Path, &atRaw); err != nil {
			return nil, err
		}
		ev.Granted = granted != 0
		ev.At = scanTime(atRaw)
		out = append(out, ev)
	}
	return out, nil
}
