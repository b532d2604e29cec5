package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// RecordQueryLogBatch inserts a batch of parsed query-log rows with a
// single round trip. File order is preserved by insertion order.
func (s *Store) RecordQueryLogBatch(ctx context.Context, rows []model.QueryLogRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO query_logs (ts, client_ip, client_port, query_name, query_type,
				response_code, blocked, rpz_zone, rpz_action, response_time_ms, cache_hit)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			r.Timestamp, r.ClientIP, int32(r.ClientPort), r.QueryName, r.QueryType,
			r.ResponseCode, r.Blocked, r.RPZZone, r.RPZAction, r.ResponseTimeMs, r.CacheHit)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return mapPgError(err, "query_log")
		}
	}
	return nil
}

// QueryLogStats aggregates the window for the health summary: totals,
// blocked count, cache hits, and the top domains and clients.
func (s *Store) QueryLogStats(ctx context.Context, since, until time.Time, topN int) (model.QueryLogStats, error) {
	if topN <= 0 {
		topN = 10
	}
	stats := model.QueryLogStats{WindowStart: since, WindowEnd: until}

	err := s.q.db.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE blocked),
			count(*) FILTER (WHERE cache_hit)
		FROM query_logs WHERE ts >= $1 AND ts < $2`, since, until).
		Scan(&stats.Total, &stats.Blocked, &stats.CacheHits)
	if err != nil {
		return model.QueryLogStats{}, mapPgError(err, "query_log")
	}

	rows, err := s.q.db.Query(ctx, `
		SELECT query_name, count(*) AS n FROM query_logs
		WHERE ts >= $1 AND ts < $2
		GROUP BY query_name ORDER BY n DESC LIMIT $3`, since, until, topN)
	if err != nil {
		return model.QueryLogStats{}, mapPgError(err, "query_log")
	}
	defer rows.Close()
	for rows.Next() {
		var dc model.DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return model.QueryLogStats{}, mapPgError(err, "query_log")
		}
		stats.TopDomains = append(stats.TopDomains, dc)
	}
	if err := rows.Err(); err != nil {
		return model.QueryLogStats{}, mapPgError(err, "query_log")
	}

	crows, err := s.q.db.Query(ctx, `
		SELECT client_ip, count(*) AS n FROM query_logs
		WHERE ts >= $1 AND ts < $2
		GROUP BY client_ip ORDER BY n DESC LIMIT $3`, since, until, topN)
	if err != nil {
		return model.QueryLogStats{}, mapPgError(err, "query_log")
	}
	defer crows.Close()
	for crows.Next() {
		var cc model.ClientCount
		if err := crows.Scan(&cc.ClientIP, &cc.Count); err != nil {
			return model.QueryLogStats{}, mapPgError(err, "query_log")
		}
		stats.TopClients = append(stats.TopClients, cc)
	}
	return stats, crows.Err()
}

// PurgeQueryLogs drops rows older than the horizon.
func (s *Store) PurgeQueryLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.q.db.Exec(ctx, `DELETE FROM query_logs WHERE ts < $1`, olderThan)
	if err != nil {
		return 0, mapPgError(err, "query_log")
	}
	return tag.RowsAffected(), nil
}
