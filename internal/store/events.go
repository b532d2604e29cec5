package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// entityEvent builds the post-commit event for a CRUD mutation.
func entityEvent(typ model.EventType, source string, data map[string]any) model.Event {
	id, _ := uuid.NewV7()
	return model.Event{
		ID:        id,
		Type:      typ,
		Category:  model.CategoryDNS,
		Severity:  model.SeverityInfo,
		Priority:  model.PriorityNormal,
		Source:    source,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// InsertEvent persists an event; the payload is stored as JSON next to the
// type discriminator for forward compatibility.
func (q *Queries) InsertEvent(ctx context.Context, e model.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte(`{}`)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO events (id, event_type, category, severity, priority, source, data,
			correlation_id, trace_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Type, e.Category, e.Severity, e.Priority, e.Source, data,
		e.CorrelationID, e.TraceID, e.CreatedAt)
	return err
}

// InsertEvent is the gateway form used by the bus's persistence hook.
func (s *Store) InsertEvent(ctx context.Context, e model.Event) error {
	return mapPgError(s.q.InsertEvent(ctx, e), "event")
}

// ListEvents returns stored events matching the filter, newest first.
func (s *Store) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	sql := `SELECT id, event_type, category, severity, priority, source, data,
		correlation_id, trace_id, created_at FROM events WHERE 1=1`
	var args []any

	if len(f.Types) > 0 {
		args = append(args, toStrings(f.Types))
		sql += ` AND event_type = ANY($` + itoa(len(args)) + `)`
	}
	if len(f.Categories) > 0 {
		args = append(args, toStrings(f.Categories))
		sql += ` AND category = ANY($` + itoa(len(args)) + `)`
	}
	if len(f.Severities) > 0 {
		args = append(args, toStrings(f.Severities))
		sql += ` AND severity = ANY($` + itoa(len(args)) + `)`
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		sql += ` AND created_at >= $` + itoa(len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		sql += ` AND created_at < $` + itoa(len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	sql += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args))

	rows, err := s.q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError(err, "event")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e    model.Event
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Category, &e.Severity, &e.Priority,
			&e.Source, &data, &e.CorrelationID, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, mapPgError(err, "event")
		}
		var payload map[string]any
		if json.Unmarshal(data, &payload) == nil {
			e.Data = payload
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeEvents drops events older than the horizon.
func (s *Store) PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.q.db.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, mapPgError(err, "event")
	}
	return tag.RowsAffected(), nil
}

func toStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
