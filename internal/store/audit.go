package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// auditEntry builds an audit row from before/after snapshots of an entity.
// Snapshots are JSON-encoded; nil means "did not exist" (create/delete).
func auditEntry(ctx context.Context, action, entityType, entityID string, before, after any) model.AuditEntry {
	id, _ := uuid.NewV7()
	e := model.AuditEntry{
		ID:         id,
		Actor:      actorFrom(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}
	if before != nil {
		e.Before, _ = json.Marshal(before)
	}
	if after != nil {
		e.After, _ = json.Marshal(after)
	}
	return e
}

func (q *Queries) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action, entity_type, entity_id, before, after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, e.Before, e.After, e.CreatedAt)
	return err
}

// ListAudit returns audit rows for one entity, newest first.
func (q *Queries) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, actor, action, entity_type, entity_id, before, after, created_at
		FROM audit_log
		WHERE entity_type=$1 AND entity_id=$2
		ORDER BY created_at DESC LIMIT $3`,
		entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID,
			&e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
