package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// InsertForwarderHealth appends one probe row. Health rows are never
// mutated, only pruned.
func (s *Store) InsertForwarderHealth(ctx context.Context, h model.ForwarderHealth) error {
	if h.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		h.ID = id
	}
	_, err := s.q.db.Exec(ctx, `
		INSERT INTO forwarder_health (id, forwarder_id, server_ip, status, response_time_ms,
			error_message, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.ForwarderID, h.ServerIP, h.Status, h.ResponseTimeMs, h.ErrorMessage, h.CheckedAt)
	return mapPgError(err, "forwarder_health")
}

// LatestForwarderHealth returns the most recent row per server of one
// forwarder.
func (s *Store) LatestForwarderHealth(ctx context.Context, forwarderID uuid.UUID) ([]model.ForwarderHealth, error) {
	rows, err := s.q.db.Query(ctx, `
		SELECT DISTINCT ON (server_ip)
			id, forwarder_id, server_ip, status, response_time_ms, error_message, checked_at
		FROM forwarder_health
		WHERE forwarder_id=$1
		ORDER BY server_ip, checked_at DESC`, forwarderID)
	if err != nil {
		return nil, mapPgError(err, "forwarder_health")
	}
	defer rows.Close()

	var out []model.ForwarderHealth
	for rows.Next() {
		var h model.ForwarderHealth
		if err := rows.Scan(&h.ID, &h.ForwarderID, &h.ServerIP, &h.Status,
			&h.ResponseTimeMs, &h.ErrorMessage, &h.CheckedAt); err != nil {
			return nil, mapPgError(err, "forwarder_health")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ForwarderHealthHistory returns probe rows for a window, newest first.
func (s *Store) ForwarderHealthHistory(ctx context.Context, forwarderID uuid.UUID, since time.Time, limit int) ([]model.ForwarderHealth, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.q.db.Query(ctx, `
		SELECT id, forwarder_id, server_ip, status, response_time_ms, error_message, checked_at
		FROM forwarder_health
		WHERE forwarder_id=$1 AND checked_at >= $2
		ORDER BY checked_at DESC LIMIT $3`, forwarderID, since, limit)
	if err != nil {
		return nil, mapPgError(err, "forwarder_health")
	}
	defer rows.Close()

	var out []model.ForwarderHealth
	for rows.Next() {
		var h model.ForwarderHealth
		if err := rows.Scan(&h.ID, &h.ForwarderID, &h.ServerIP, &h.Status,
			&h.ResponseTimeMs, &h.ErrorMessage, &h.CheckedAt); err != nil {
			return nil, mapPgError(err, "forwarder_health")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PruneForwarderHealth drops probe rows older than the horizon.
func (s *Store) PruneForwarderHealth(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.q.db.Exec(ctx,
		`DELETE FROM forwarder_health WHERE checked_at < $1`, olderThan)
	if err != nil {
		return 0, mapPgError(err, "forwarder_health")
	}
	return tag.RowsAffected(), nil
}
