package repo

import (
	"context"
	"database/sql"

	"freshchain/internal/domain"
)

// ListEvents returns the audit trail of one entity, oldest first. An empty
// kind lists every event.
func (r Repo) ListEvents(ctx context.Context, kind, id string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,COALESCE(payload,'') FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE entity_kind=? AND entity_id=?`
		args = append(args, kind, id)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
