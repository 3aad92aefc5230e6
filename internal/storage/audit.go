package storage

import (
	"context"
	"database/sql"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, detail) VALUES(?,?,?,?,?)`,
		toMillis(e.At), e.ActorID, e.Action, nullStr(e.Target), nullStr(e.Detail),
	)
	return err
}

// RecentAudit returns up to limit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, action, target, detail FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e              AuditEntry
			at             int64
			target, detail sql.NullString
		)
		if err := rows.Scan(&at, &e.ActorID, &e.Action, &target, &detail); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		e.Target = target.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}
